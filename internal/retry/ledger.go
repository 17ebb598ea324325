// Package retry keeps events that could not be indexed because a
// dependency was missing, keyed by the dependencies they wait on.
//
// The ledger is the redelivery side of dependency resolution: when a
// dependency is indexed, the events parked on its key are handed back
// for reprocessing. Every park counts as an attempt; an event parked more
// than MaxAttempts times is dropped for good.
package retry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/gillohner/pubky-nexus/internal/clock"
	"github.com/gillohner/pubky-nexus/internal/sqlitedb"
	"github.com/gillohner/pubky-nexus/internal/uri"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - parked_events and parked_deps
const currentSchemaVersion = 1

// DefaultMaxAttempts bounds how often one event may be parked.
const DefaultMaxAttempts = 5

// ErrExhausted is returned by Park when the event has used up its
// attempts. The event is no longer in the ledger.
var ErrExhausted = errors.New("retry attempts exhausted")

// Entry is one parked event.
type Entry struct {
	// EventKey identifies the event across redeliveries, e.g.
	// "PUT pubky://alice/pub/pubky.app/posts/p1".
	EventKey   string
	Op         string
	Kind       string
	AuthorID   string
	ResourceID string
	Payload    []byte
	Attempts   int
	// ParkedAt is the last park time in unix milliseconds.
	ParkedAt int64
}

// Options configures a Ledger.
type Options struct {
	MaxAttempts int
	Clock       clock.Clock
}

// Ledger is a SQLite-backed set of parked events.
type Ledger struct {
	db          *sql.DB
	clock       clock.Clock
	maxAttempts int
}

// Open creates or opens a ledger database at path.
func Open(path string, opts Options) (*Ledger, error) {
	db, err := sqlitedb.Open(path, schemaSQL, currentSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("retry ledger: %w", err)
	}

	l := &Ledger{db: db, clock: opts.Clock, maxAttempts: opts.MaxAttempts}
	if l.clock == nil {
		l.clock = clock.Real()
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = DefaultMaxAttempts
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// MaxAttempts returns the configured attempt bound.
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

// Park records e as waiting on keys and counts one attempt. The payload
// and key set replace those of an earlier park of the same event.
// Returns the attempt count, and ErrExhausted (with the event removed)
// once the count exceeds MaxAttempts.
func (l *Ledger) Park(ctx context.Context, e Entry, keys []uri.DependencyKey) (int, error) {
	if e.EventKey == "" {
		return 0, fmt.Errorf("park: empty event key")
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("park %s: no dependency keys", e.EventKey)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("park %s: begin: %w", e.EventKey, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO parked_events (event_key, op, kind, author_id, resource_id, payload, attempts, parked_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(event_key) DO UPDATE SET
			op = excluded.op,
			kind = excluded.kind,
			author_id = excluded.author_id,
			resource_id = excluded.resource_id,
			payload = excluded.payload,
			attempts = parked_events.attempts + 1,
			parked_at = excluded.parked_at
	`, e.EventKey, e.Op, e.Kind, e.AuthorID, e.ResourceID, e.Payload, clock.Millis(l.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("park %s: %w", e.EventKey, err)
	}

	var attempts int
	if err := tx.QueryRowContext(ctx,
		`SELECT attempts FROM parked_events WHERE event_key = ?`, e.EventKey,
	).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("park %s: read attempts: %w", e.EventKey, err)
	}

	if attempts > l.maxAttempts {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parked_events WHERE event_key = ?`, e.EventKey); err != nil {
			return 0, fmt.Errorf("park %s: drop: %w", e.EventKey, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("park %s: commit: %w", e.EventKey, err)
		}
		return attempts, fmt.Errorf("park %s: %w after %d attempts", e.EventKey, ErrExhausted, attempts-1)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM parked_deps WHERE event_key = ?`, e.EventKey); err != nil {
		return 0, fmt.Errorf("park %s: reset keys: %w", e.EventKey, err)
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parked_deps (event_key, dep_key) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			e.EventKey, k.String(),
		); err != nil {
			return 0, fmt.Errorf("park %s: key %s: %w", e.EventKey, k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("park %s: commit: %w", e.EventKey, err)
	}
	return attempts, nil
}

// Due returns the events waiting on key, oldest first.
func (l *Ledger) Due(ctx context.Context, key uri.DependencyKey) ([]Entry, error) {
	return l.query(ctx, "due "+key.String(), `
		SELECT e.event_key, e.op, e.kind, e.author_id, e.resource_id, e.payload, e.attempts, e.parked_at
		FROM parked_events AS e
		JOIN parked_deps AS d ON d.event_key = e.event_key
		WHERE d.dep_key = ?
		ORDER BY e.parked_at ASC, e.event_key ASC
	`, key.String())
}

// All returns every parked event, oldest first.
func (l *Ledger) All(ctx context.Context) ([]Entry, error) {
	return l.query(ctx, "all", `
		SELECT event_key, op, kind, author_id, resource_id, payload, attempts, parked_at
		FROM parked_events
		ORDER BY parked_at ASC, event_key ASC
	`)
}

func (l *Ledger) query(ctx context.Context, op, query string, args ...any) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventKey, &e.Op, &e.Kind, &e.AuthorID, &e.ResourceID,
			&e.Payload, &e.Attempts, &e.ParkedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

// Clear removes an event and its keys. Clearing an unknown event is not
// an error.
func (l *Ledger) Clear(ctx context.Context, eventKey string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM parked_events WHERE event_key = ?`, eventKey); err != nil {
		return fmt.Errorf("clear %s: %w", eventKey, err)
	}
	return nil
}

// Len returns the number of parked events.
func (l *Ledger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM parked_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count parked events: %w", err)
	}
	return n, nil
}
