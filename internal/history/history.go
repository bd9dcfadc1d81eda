// Package history records instance lifecycle events.
//
// Events flow through a Recorder into a Store (queryable, backs the
// history API) and optionally out to analytics Sinks (ClickHouse,
// OpenSearch). The Recorder decouples supervision from storage: a slow
// or unavailable backend never blocks a start or stop.
package history

import (
	"context"
	"time"
)

// Config is the [history] section of the daemon configuration.
type Config struct {
	Enabled bool       `json:"enabled" mapstructure:"enabled"`
	DSN     string     `json:"dsn" mapstructure:"dsn"`
	Sink    SinkConfig `json:"sink" mapstructure:"sink"`
}

// SinkConfig selects an optional export sink. Type is "clickhouse" or
// "opensearch"; an empty Type disables export.
type SinkConfig struct {
	Type  string `json:"type" mapstructure:"type"`
	DSN   string `json:"dsn" mapstructure:"dsn"`
	URL   string `json:"url" mapstructure:"url"`
	Index string `json:"index" mapstructure:"index"`
	Table string `json:"table" mapstructure:"table"`
}

// Kind classifies a lifecycle event.
type Kind string

const (
	KindStarted      Kind = "started"
	KindExited       Kind = "exited"
	KindLaunchFailed Kind = "launch_failed"
)

// Event is one lifecycle transition of one instance. ExitCode and Clean
// are meaningful only for KindExited and KindLaunchFailed.
type Event struct {
	EventID    string    `json:"event_id"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Clean      bool      `json:"clean"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store persists events and answers queries for the history API.
type Store interface {
	// Append records one event.
	Append(ctx context.Context, e Event) error
	// Recent returns up to limit events for the named instance, newest
	// first. An empty name returns events for all instances.
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
	Close() error
}

// Sink exports events to an external system. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
