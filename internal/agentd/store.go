// Package agentd implements the tamper-evident audit ledger and
// FTS-indexed memory store that every other daemon writes receipts
// and observations into.
package agentd

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tutu-network/agentcore/internal/domain"
)

// Store wraps the ledger's SQLite connection. Every writer goes
// through a single connection so the hash chain can never fork under
// concurrent appends.
type Store struct {
	db        *sql.DB
	ftsEnabled bool
}

// Open creates or opens dir/ledger.db in WAL mode with a single
// writer connection, then migrates the schema.
func Open(dir string, wantFTS bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

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

	s.ftsEnabled = wantFTS && s.probeFTS5()
	if s.ftsEnabled {
		if err := s.migrateFTS(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate fts: %w", err)
		}
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			ts        TEXT NOT NULL,
			type      TEXT NOT NULL,
			actor     TEXT NOT NULL,
			payload   TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory (
			event_id INTEGER PRIMARY KEY,
			summary  TEXT NOT NULL,
			detail   TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			tags     TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(event_id) REFERENCES events(id)
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id        TEXT PRIMARY KEY,
			title     TEXT NOT NULL,
			closed    BOOLEAN NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			closed_at  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS incident_steps (
			incident_id TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			note        TEXT NOT NULL,
			actor       TEXT NOT NULL,
			added_at    TEXT NOT NULL,
			FOREIGN KEY(incident_id) REFERENCES incidents(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// probeFTS5 checks whether the linked SQLite build understands the
// fts5 module, without assuming it does.
func (s *Store) probeFTS5() bool {
	_, err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS __fts5_probe USING fts5(x)`)
	if err != nil {
		return false
	}
	s.db.Exec(`DROP TABLE __fts5_probe`)
	return true
}

func (s *Store) migrateFTS() error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			summary, detail, category, tags, content='memory', content_rowid='event_id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memory_ai AFTER INSERT ON memory BEGIN
			INSERT INTO memory_fts(rowid, summary, detail, category, tags)
			VALUES (new.event_id, new.summary, new.detail, new.category, new.tags);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("fts migration failed: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// lastHash returns the most recent event's hash, or the genesis
// prev_hash when the ledger is empty.
func (s *Store) lastHash(tx *sql.Tx) (string, error) {
	var hash string
	err := tx.QueryRow(`SELECT hash FROM events ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return domain.GenesisPrevHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func computeHash(id int64, ts, typ, actor, payload, prevHash string) string {
	line := fmt.Sprintf("%d|%s|%s|%s|%s|%s", id, ts, typ, actor, payload, prevHash)
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

// Append writes one event, chaining it to the previous row's hash
// inside a single transaction so the chain can never fork.
func (s *Store) Append(typ, actor, payload string) (domain.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	prevHash, err := s.lastHash(tx)
	if err != nil {
		return domain.Event{}, err
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.Exec(
		`INSERT INTO events (ts, type, actor, payload, prev_hash, hash) VALUES (?, ?, ?, ?, ?, '')`,
		ts, typ, actor, payload, prevHash,
	)
	if err != nil {
		return domain.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, err
	}

	hash := computeHash(id, ts, typ, actor, payload, prevHash)
	if _, err := tx.Exec(`UPDATE events SET hash = ? WHERE id = ?`, hash, id); err != nil {
		return domain.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}

	return domain.Event{ID: id, Type: typ, Actor: actor, Payload: payload, PrevHash: prevHash, Hash: hash}, nil
}

// AppendWithMemory appends an event and its memory row in the same
// transaction, so either both exist or neither does.
func (s *Store) AppendWithMemory(typ, actor, payload string, rec domain.MemoryRecord) (domain.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()

	prevHash, err := s.lastHash(tx)
	if err != nil {
		return domain.Event{}, err
	}
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.Exec(
		`INSERT INTO events (ts, type, actor, payload, prev_hash, hash) VALUES (?, ?, ?, ?, ?, '')`,
		ts, typ, actor, payload, prevHash,
	)
	if err != nil {
		return domain.Event{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, err
	}
	hash := computeHash(id, ts, typ, actor, payload, prevHash)
	if _, err := tx.Exec(`UPDATE events SET hash = ? WHERE id = ?`, hash, id); err != nil {
		return domain.Event{}, err
	}

	if _, err := tx.Exec(
		`INSERT INTO memory (event_id, summary, detail, category, tags) VALUES (?, ?, ?, ?, ?)`,
		id, rec.Summary, rec.Detail, rec.Category, strings.Join(rec.Tags, ","),
	); err != nil {
		return domain.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return domain.Event{ID: id, Type: typ, Actor: actor, Payload: payload, PrevHash: prevHash, Hash: hash}, nil
}

// List returns up to limit events in ascending id order starting
// after afterID.
func (s *Store) List(afterID int64, limit int) ([]domain.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, ts, type, actor, payload, prev_hash, hash FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.Actor, &e.Payload, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyChain walks the whole ledger and confirms every row's hash
// matches computeHash and every prev_hash matches the prior row's
// hash. Returns the id of the first broken row, or -1 if sound.
func (s *Store) VerifyChain() (brokenAt int64, err error) {
	rows, err := s.db.Query(`SELECT id, ts, type, actor, payload, prev_hash, hash FROM events ORDER BY id ASC`)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	prev := domain.GenesisPrevHash
	for rows.Next() {
		var id int64
		var ts, typ, actor, payload, prevHash, hash string
		if err := rows.Scan(&id, &ts, &typ, &actor, &payload, &prevHash, &hash); err != nil {
			return -1, err
		}
		if prevHash != prev {
			return id, nil
		}
		if computeHash(id, ts, typ, actor, payload, prevHash) != hash {
			return id, nil
		}
		prev = hash
	}
	return -1, rows.Err()
}

// ─── Memory / recall ────────────────────────────────────────────────────────

// RecallResult is one scored hit from /memory/recall.
type RecallResult struct {
	Event domain.Event        `json:"event"`
	Memory domain.MemoryRecord `json:"memory"`
	Score float64             `json:"score"`
}

// Recall searches memory rows by query, preferring FTS5 bm25 ranking
// and falling back to a LIKE-based linear scan when FTS5 isn't
// available in the linked SQLite build.
func (s *Store) Recall(query string, limit int) ([]RecallResult, error) {
	if s.ftsEnabled {
		return s.recallFTS(query, limit)
	}
	return s.recallLinear(query, limit)
}

func (s *Store) recallFTS(query string, limit int) ([]RecallResult, error) {
	rows, err := s.db.Query(
		`SELECT m.event_id, m.summary, m.detail, m.category, m.tags, e.ts, e.type, e.actor, e.payload, e.prev_hash, e.hash,
		        bm25(memory_fts) AS rank
		 FROM memory_fts
		 JOIN memory m ON m.event_id = memory_fts.rowid
		 JOIN events e ON e.id = m.event_id
		 WHERE memory_fts MATCH ?
		 ORDER BY rank LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecall(rows)
}

// recallLinear scores every memory row by counting case-insensitive
// query-term occurrences across summary/detail/category/tags, the
// same fields FTS5 indexes, so results are comparable across both
// paths even without FTS5's bm25 ranking.
func (s *Store) recallLinear(query string, limit int) ([]RecallResult, error) {
	rows, err := s.db.Query(
		`SELECT m.event_id, m.summary, m.detail, m.category, m.tags, e.ts, e.type, e.actor, e.payload, e.prev_hash, e.hash
		 FROM memory m JOIN events e ON e.id = m.event_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results, err := scanRecall(rows)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	scored := results[:0]
	for _, r := range results {
		hay := strings.ToLower(r.Memory.Summary + " " + r.Memory.Detail + " " + r.Memory.Category + " " + strings.Join(r.Memory.Tags, " "))
		var score float64
		for _, t := range terms {
			score += float64(strings.Count(hay, t))
		}
		if score > 0 {
			r.Score = score
			scored = append(scored, r)
		}
	}
	sortByScoreDesc(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func sortByScoreDesc(r []RecallResult) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j].Score > r[j-1].Score; j-- {
			r[j], r[j-1] = r[j-1], r[j]
		}
	}
}

func scanRecall(rows *sql.Rows) ([]RecallResult, error) {
	var out []RecallResult
	for rows.Next() {
		var r RecallResult
		var tags, ts string
		var rank *float64
		dest := []any{&r.Memory.EventID, &r.Memory.Summary, &r.Memory.Detail, &r.Memory.Category, &tags, &ts, &r.Event.Type, &r.Event.Actor, &r.Event.Payload, &r.Event.PrevHash, &r.Event.Hash}
		if hasRankColumn(rows) {
			dest = append(dest, &rank)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		r.Event.ID = r.Memory.EventID
		r.Event.TS, _ = time.Parse(time.RFC3339Nano, ts)
		if tags != "" {
			r.Memory.Tags = strings.Split(tags, ",")
		}
		if rank != nil {
			r.Score = -*rank // bm25 is lower-is-better; invert for a consistent higher-is-better Score
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// hasRankColumn is always true for the FTS path and always false for
// the linear path; kept as a function so scanRecall has one body for
// both query shapes instead of duplicating the scan loop.
func hasRankColumn(rows *sql.Rows) bool {
	cols, err := rows.Columns()
	if err != nil {
		return false
	}
	return len(cols) == 12
}
