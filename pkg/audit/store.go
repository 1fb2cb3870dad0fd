package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StoreLogger records audit events into a SQL table for retention. It works
// against any database/sql driver; deployments use postgres or sqlite
// depending on the DSN.
type StoreLogger struct {
	db    *sql.DB
	clock func() time.Time
}

// NewStoreLogger creates a store-backed logger over db.
func NewStoreLogger(db *sql.DB) *StoreLogger {
	return &StoreLogger{db: db, clock: time.Now}
}

// Migrate creates the audit table when absent.
func (l *StoreLogger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id            TEXT PRIMARY KEY,
			actor         TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			action        TEXT NOT NULL,
			resource      TEXT NOT NULL,
			occurred_at   TIMESTAMP NOT NULL,
			metadata      TEXT,
			content_hash  TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate audit store: %w", err)
	}
	return nil
}

// Record implements Logger.
func (l *StoreLogger) Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]any) error {
	if l.db == nil {
		return fmt.Errorf("fail-closed: audit store not configured")
	}
	event := NewEvent(eventType, actor, action, resource, metadata, l.clock())

	var meta []byte
	if event.Metadata != nil {
		var err error
		meta, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, actor, event_type, action, resource, occurred_at, metadata, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Actor, string(event.Type), event.Action, event.Resource,
		event.Timestamp, nullable(meta), event.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Query returns the events for actor within [start, end], oldest first.
// An empty actor matches every actor; zero times widen the bound.
func (l *StoreLogger) Query(ctx context.Context, actor string, start, end time.Time) ([]Event, error) {
	if end.IsZero() {
		end = l.clock()
	}
	query := `
		SELECT id, actor, event_type, action, resource, occurred_at, metadata, content_hash
		FROM audit_events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		ORDER BY occurred_at ASC`
	args := []any{start, end}
	if actor != "" {
		query = `
		SELECT id, actor, event_type, action, resource, occurred_at, metadata, content_hash
		FROM audit_events
		WHERE actor = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at ASC`
		args = []any{actor, start, end}
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event Event
			kind  string
			meta  sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Actor, &kind, &event.Action,
			&event.Resource, &event.Timestamp, &meta, &event.ContentHash); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Type = EventType(kind)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Tee fans one record out to several loggers, failing on the first error.
type Tee []Logger

// Record implements Logger.
func (t Tee) Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]any) error {
	for _, l := range t {
		if err := l.Record(ctx, eventType, actor, action, resource, metadata); err != nil {
			return err
		}
	}
	return nil
}
