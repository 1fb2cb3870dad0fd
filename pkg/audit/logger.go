// Package audit emits structured records for every activation state
// transition. The default logger writes JSON lines; a SQL-backed logger and
// an evidence-pack exporter provide retention and hand-off to assessors.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// EventType defines the category of the audit event.
type EventType string

const (
	// EventAccess records reads of the catalog.
	EventAccess EventType = "ACCESS"
	// EventActivation records request, approval, and provisioning
	// transitions.
	EventActivation EventType = "ACTIVATION"
	// EventSystem records startup, shutdown, and configuration events.
	EventSystem EventType = "SYSTEM"
)

// Event represents a structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Type      EventType      `json:"type"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// ContentHash is the SHA-256 of the canonicalized record, computed
	// before writing so exports can prove integrity.
	ContentHash string `json:"content_hash,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]any) error
}

// logger implements Logger, writing canonical JSON lines to a Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  func() time.Time
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w, clock: time.Now}
}

func (l *logger) Record(ctx context.Context, eventType EventType, actor, action, resource string, metadata map[string]any) error {
	_ = ctx
	event := NewEvent(eventType, actor, action, resource, metadata, l.clock())

	bytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}

// NewEvent builds an Event with its content hash filled in.
func NewEvent(eventType EventType, actor, action, resource string, metadata map[string]any, at time.Time) Event {
	event := Event{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: at.UTC(),
		Metadata:  metadata,
	}
	event.ContentHash = contentHash(event)
	return event
}

// contentHash hashes the canonical JSON form of the event (excluding the
// hash field itself).
func contentHash(event Event) string {
	event.ContentHash = ""
	raw, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Discard is a Logger that drops every record. Used in tests.
type Discard struct{}

// Record implements Logger.
func (Discard) Record(context.Context, EventType, string, string, string, map[string]any) error {
	return nil
}
