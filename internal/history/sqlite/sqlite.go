// Package sqlite stores instance history in an embedded SQLite
// database using the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/warden/internal/history"
)

const defaultRecentLimit = 50

// Store persists lifecycle events in SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database and ensures the schema exists.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection; keep the pool at one.
	db.SetMaxOpenConns(1)

	st := &Store{db: db}
	if err := st.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS instance_events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		clean INTEGER NOT NULL DEFAULT 0,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_instance_events_name ON instance_events(name, occurred_at);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Store) Append(ctx context.Context, e history.Event) error {
	clean := 0
	if e.Clean {
		clean = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_events(event_id, name, kind, pid, exit_code, clean, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.EventID, e.Name, string(e.Kind), e.PID, e.ExitCode, clean, e.OccurredAt.UTC().UnixNano())
	return err
}

func (s *Store) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `SELECT event_id, name, kind, pid, exit_code, clean, occurred_at
		FROM instance_events`
	args := make([]any, 0, 2)
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e     history.Event
			kind  string
			clean int
			nanos int64
		)
		if err := rows.Scan(&e.EventID, &e.Name, &kind, &e.PID, &e.ExitCode, &clean, &nanos); err != nil {
			return nil, err
		}
		e.Kind = history.Kind(kind)
		e.Clean = clean != 0
		e.OccurredAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
