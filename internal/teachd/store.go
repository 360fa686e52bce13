// Package teachd implements the observe/learn/teach loops: it samples
// host state, detects patterns over the samples, and surfaces
// knowledge docs through a token-budgeted retrieval endpoint.
package teachd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tutu-network/agentcore/internal/domain"
)

// Store wraps teachd's own SQLite database, following the same
// single-writer-connection pattern as the ledger store.
type Store struct {
	db *sql.DB
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "teachd.sqlite3")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			source       TEXT NOT NULL,
			collected_at TEXT NOT NULL,
			data         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_source_time
			ON observations(source, collected_at)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL,
			confidence  REAL NOT NULL,
			evidence    TEXT NOT NULL,
			detected_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_docs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			category   TEXT NOT NULL,
			content    TEXT NOT NULL,
			tags       TEXT NOT NULL,
			origin     TEXT NOT NULL,
			pattern_id INTEGER,
			created_at TEXT NOT NULL,
			applied    INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// InsertObservation records one OBSERVE-loop reading.
func (s *Store) InsertObservation(o domain.Observation) (int64, error) {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return 0, err
	}
	if o.CollectedAt.IsZero() {
		o.CollectedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO observations (source, collected_at, data) VALUES (?, ?, ?)`,
		string(o.Source), o.CollectedAt.UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentObservations returns observations collected within the last
// window, oldest first, for use by the LEARN detectors.
func (s *Store) RecentObservations(window time.Duration) ([]domain.Observation, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339Nano)
	rows, err := s.db.Query(
		`SELECT id, source, collected_at, data FROM observations WHERE collected_at >= ? ORDER BY collected_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var out []domain.Observation
	for rows.Next() {
		var (
			o      domain.Observation
			ts     string
			source string
			data   string
		)
		if err := rows.Scan(&o.ID, &source, &ts, &data); err != nil {
			return nil, err
		}
		o.Source = domain.ObservationSource(source)
		o.CollectedAt, _ = time.Parse(time.RFC3339Nano, ts)
		_ = json.Unmarshal([]byte(data), &o.Data)
		out = append(out, o)
	}
	return out, rows.Err()
}

// PruneObservations deletes observation rows older than retention,
// per spec.md's 7-day retention requirement.
func (s *Store) PruneObservations(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM observations WHERE collected_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertPattern records a LEARN-detector finding.
func (s *Store) InsertPattern(p domain.Pattern) (int64, error) {
	evidence, err := json.Marshal(p.Evidence)
	if err != nil {
		return 0, err
	}
	if p.DetectedAt.IsZero() {
		p.DetectedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO patterns (kind, confidence, evidence, detected_at) VALUES (?, ?, ?, ?)`,
		string(p.Kind), p.Confidence, string(evidence), p.DetectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListPatterns() ([]domain.Pattern, error) {
	rows, err := s.db.Query(`SELECT id, kind, confidence, evidence, detected_at FROM patterns ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		var (
			p        domain.Pattern
			kind     string
			evidence string
			ts       string
		)
		if err := rows.Scan(&p.ID, &kind, &p.Confidence, &evidence, &ts); err != nil {
			return nil, err
		}
		p.Kind = domain.PatternKind(kind)
		p.DetectedAt, _ = time.Parse(time.RFC3339Nano, ts)
		_ = json.Unmarshal([]byte(evidence), &p.Evidence)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertKnowledgeDoc records an auto-generated or hand-authored
// knowledge doc.
func (s *Store) InsertKnowledgeDoc(k domain.KnowledgeDoc) (int64, error) {
	tags, err := json.Marshal(k.Tags)
	if err != nil {
		return 0, err
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO knowledge_docs (title, category, content, tags, origin, pattern_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.Title, k.Category, k.Content, string(tags), string(k.Origin), nullableID(k.PatternID), k.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func (s *Store) ListKnowledgeDocs() ([]domain.KnowledgeDoc, error) {
	rows, err := s.db.Query(
		`SELECT id, title, category, content, tags, origin, COALESCE(pattern_id, 0), created_at FROM knowledge_docs ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.KnowledgeDoc
	for rows.Next() {
		var (
			k       domain.KnowledgeDoc
			tags    string
			origin  string
			ts      string
		)
		if err := rows.Scan(&k.ID, &k.Title, &k.Category, &k.Content, &tags, &origin, &k.PatternID, &ts); err != nil {
			return nil, err
		}
		k.Origin = domain.KnowledgeOrigin(origin)
		k.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		_ = json.Unmarshal([]byte(tags), &k.Tags)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) GetKnowledgeDoc(id int64) (domain.KnowledgeDoc, error) {
	docs, err := s.ListKnowledgeDocs()
	if err != nil {
		return domain.KnowledgeDoc{}, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d, nil
		}
	}
	return domain.KnowledgeDoc{}, domain.ErrKnowledgeNotFound
}

// keywordOverlap scores how many distinct lowercase tokens two
// strings share, used by Retrieve's ranking.
func keywordOverlap(query, text string) int {
	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return 0
	}
	tTokens := tokenize(text)
	present := make(map[string]bool, len(tTokens))
	for t := range tTokens {
		present[t] = true
	}
	score := 0
	for t := range qTokens {
		if present[t] {
			score++
		}
	}
	return score
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(f, ".,!?;:\"'()")] = true
	}
	return out
}
