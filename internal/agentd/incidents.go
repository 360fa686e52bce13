package agentd

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/agentcore/internal/domain"
)

// OpenIncident creates a new incident workspace.
func (s *Store) OpenIncident(title string) (domain.IncidentWorkspace, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO incidents (id, title, closed, created_at) VALUES (?, ?, 0, ?)`,
		id, title, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.IncidentWorkspace{}, err
	}
	return domain.IncidentWorkspace{ID: id, Title: title, CreatedAt: now}, nil
}

// AddIncidentStep appends a step to an open incident workspace.
func (s *Store) AddIncidentStep(incidentID, note, actor string) (domain.IncidentStep, error) {
	var closed bool
	if err := s.db.QueryRow(`SELECT closed FROM incidents WHERE id = ?`, incidentID).Scan(&closed); err != nil {
		if err == sql.ErrNoRows {
			return domain.IncidentStep{}, domain.ErrIncidentNotFound
		}
		return domain.IncidentStep{}, err
	}
	if closed {
		return domain.IncidentStep{}, domain.ErrIncidentClosed
	}

	var seq int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM incident_steps WHERE incident_id = ?`, incidentID).Scan(&seq); err != nil {
		return domain.IncidentStep{}, err
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO incident_steps (incident_id, seq, note, actor, added_at) VALUES (?, ?, ?, ?, ?)`,
		incidentID, seq, note, actor, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.IncidentStep{}, err
	}
	return domain.IncidentStep{Seq: seq, Note: note, Actor: actor, AddedAt: now}, nil
}

// CloseIncident marks an incident workspace closed.
func (s *Store) CloseIncident(incidentID string) error {
	res, err := s.db.Exec(
		`UPDATE incidents SET closed = 1, closed_at = ? WHERE id = ? AND closed = 0`,
		time.Now().UTC().Format(time.RFC3339Nano), incidentID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrIncidentClosed
	}
	return nil
}

// GetIncident returns the full workspace with its ordered steps.
func (s *Store) GetIncident(incidentID string) (domain.IncidentWorkspace, error) {
	var w domain.IncidentWorkspace
	var createdAt string
	var closedAt sql.NullString
	err := s.db.QueryRow(
		`SELECT id, title, closed, created_at, closed_at FROM incidents WHERE id = ?`, incidentID,
	).Scan(&w.ID, &w.Title, &w.Closed, &createdAt, &closedAt)
	if err == sql.ErrNoRows {
		return domain.IncidentWorkspace{}, domain.ErrIncidentNotFound
	}
	if err != nil {
		return domain.IncidentWorkspace{}, err
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if closedAt.Valid {
		w.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt.String)
	}

	rows, err := s.db.Query(`SELECT seq, note, actor, added_at FROM incident_steps WHERE incident_id = ? ORDER BY seq ASC`, incidentID)
	if err != nil {
		return domain.IncidentWorkspace{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var step domain.IncidentStep
		var addedAt string
		if err := rows.Scan(&step.Seq, &step.Note, &step.Actor, &addedAt); err != nil {
			return domain.IncidentWorkspace{}, err
		}
		step.AddedAt, _ = time.Parse(time.RFC3339Nano, addedAt)
		w.Steps = append(w.Steps, step)
	}
	return w, rows.Err()
}
