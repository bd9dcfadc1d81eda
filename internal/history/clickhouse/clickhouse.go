// Package clickhouse exports instance history to ClickHouse using the
// official Go client over the native protocol.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/warden/internal/history"
)

// DefaultTable is used when no table is configured.
const DefaultTable = "instance_events"

// Sink sends lifecycle events to a ClickHouse table.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to ClickHouse at addr (host:port, native protocol) and
// ensures the target table exists. An empty table selects DefaultTable.
func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = DefaultTable
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id String,
		name String,
		kind String,
		pid Int32,
		exit_code Int32,
		clean Bool,
		occurred_at DateTime64(6, 'UTC')
	) ENGINE = MergeTree() ORDER BY (name, occurred_at)`, s.table)

	if err := s.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (event_id, name, kind, pid, exit_code, clean, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		e.EventID,
		e.Name,
		string(e.Kind),
		int32(e.PID),
		int32(e.ExitCode),
		e.Clean,
		e.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
