package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status values stored in the journal.
const (
	StatusRecording = "recording"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	task        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL,
	output      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	status      TEXT NOT NULL,
	segments    INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS recordings_started ON recordings(started_at);
`

// Recording is one row of the journal.
type Recording struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Task       string    `json:"task,omitempty"`
	Source     string    `json:"source"`
	Output     string    `json:"output"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	Segments   int64     `json:"segments"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Store is a sqlite-backed journal of recording sessions. It is append-only
// bookkeeping; nothing reads it back to resume a capture.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history DB: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a session that has started and returns its row id. task is
// the target name, empty for ad-hoc recordings.
func (s *Store) Begin(ctx context.Context, sessionID, task, source, output string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (session_id, task, source, output, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, task, source, output, at.Unix(), StatusRecording)
	if err != nil {
		return 0, fmt.Errorf("insert recording: %w", err)
	}
	return res.LastInsertId()
}

// Finish stores the outcome of a session. A non-nil runErr marks it failed.
func (s *Store) Finish(ctx context.Context, id int64, at time.Time, segments, bytes int64, runErr error) error {
	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET finished_at = ?, status = ?, segments = ?, bytes = ?, error = ? WHERE id = ?`,
		at.Unix(), status, segments, bytes, msg, id)
	if err != nil {
		return fmt.Errorf("update recording %d: %w", id, err)
	}
	return nil
}

// Recent returns up to limit recordings, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Recording, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, task, source, output, started_at, COALESCE(finished_at, 0), status, segments, bytes, error
		 FROM recordings ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var (
			r                 Recording
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Task, &r.Source, &r.Output, &started, &finished, &r.Status, &r.Segments, &r.Bytes, &r.Error); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
