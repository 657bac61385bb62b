// Package history keeps a local SQLite log of finished dictation sessions.
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

const DefaultMaxSessions = 500

// Session is one finished recording session.
type Session struct {
	ID        string
	Mode      string
	Provider  string
	StartedAt time.Time
	Elapsed   time.Duration
	Submitted int
	Dropped   int
	Filtered  int
	Failed    int
	Text      string
	Error     string
}

// Store wraps the session database. A nil *Store is a disabled store: every
// method is a no-op.
type Store struct {
	db          *sql.DB
	maxSessions int
}

// Open creates or opens the database at path and trims it to maxSessions
// rows (0 keeps everything).
func Open(ctx context.Context, path string, maxSessions int) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, maxSessions: maxSessions}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history prune: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    provider TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    submitted INTEGER NOT NULL,
    dropped INTEGER NOT NULL,
    filtered INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    text TEXT NOT NULL,
    error TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a finished session. Recording the same ID again replaces
// the earlier row.
func (s *Store) Record(ctx context.Context, sess Session) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, mode, provider, started_at, elapsed_ms, submitted, dropped, filtered, failed, text, error)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   mode=excluded.mode, provider=excluded.provider, started_at=excluded.started_at,
		   elapsed_ms=excluded.elapsed_ms, submitted=excluded.submitted, dropped=excluded.dropped,
		   filtered=excluded.filtered, failed=excluded.failed, text=excluded.text, error=excluded.error`,
		sess.ID, sess.Mode, sess.Provider, sess.StartedAt.UnixMilli(), sess.Elapsed.Milliseconds(),
		sess.Submitted, sess.Dropped, sess.Filtered, sess.Failed, sess.Text, sess.Error)
	if err != nil {
		return err
	}
	return s.Prune(ctx)
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, mode, provider, started_at, elapsed_ms, submitted, dropped, filtered, failed, text, error
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started, elapsed int64
		if err := rows.Scan(&sess.ID, &sess.Mode, &sess.Provider, &started, &elapsed,
			&sess.Submitted, &sess.Dropped, &sess.Filtered, &sess.Failed, &sess.Text, &sess.Error); err != nil {
			return nil, err
		}
		sess.StartedAt = time.UnixMilli(started)
		sess.Elapsed = time.Duration(elapsed) * time.Millisecond
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Prune deletes the oldest sessions beyond the configured maximum.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.maxSessions <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
		SELECT session_id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?
	)`, s.maxSessions)
	return err
}
