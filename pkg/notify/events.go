package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Event is one activation lifecycle event for external consumers.
type Event struct {
	Type        string    `json:"type"`
	Beneficiary string    `json:"beneficiary"`
	Role        string    `json:"role"`
	Project     string    `json:"project"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Event types published on activation transitions.
const (
	EventRequested    = "jitaccess.activation.requested"
	EventSelfApproved = "jitaccess.activation.self-approved"
	EventApproved     = "jitaccess.activation.approved"
)

// eventSchema pins the wire shape of published events. Publishing is
// fire-and-forget, so a malformed payload must be caught before it leaves
// the process.
const eventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type", "beneficiary", "role", "project", "start_time", "end_time"],
	"properties": {
		"type":        {"type": "string", "pattern": "^jitaccess\\."},
		"beneficiary": {"type": "string", "format": "email"},
		"role":        {"type": "string", "minLength": 1},
		"project":     {"type": "string", "minLength": 1},
		"start_time":  {"type": "string"},
		"end_time":    {"type": "string"}
	}
}`

var compiledEventSchema = jsonschema.MustCompileString("event.schema.json", eventSchema)

// Publisher delivers events to an external transport (such as a Pub/Sub
// topic).
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// EventSink validates and publishes events. Publish failures are logged,
// never returned: event publication must not block or fail an activation.
type EventSink struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewEventSink creates an EventSink. publisher may be nil to disable
// publication entirely.
func NewEventSink(publisher Publisher) *EventSink {
	return &EventSink{
		publisher: publisher,
		logger:    slog.Default().With("component", "notify.events"),
	}
}

// Publish validates event against the schema and hands it to the
// transport. Best effort by contract.
func (s *EventSink) Publish(ctx context.Context, event Event) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "event serialization failed", "type", event.Type, "error", err)
		return
	}
	if err := validateEvent(payload); err != nil {
		s.logger.ErrorContext(ctx, "event rejected by schema", "type", event.Type, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.WarnContext(ctx, "event publication failed", "type", event.Type, "error", err)
	}
}

func validateEvent(payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return compiledEventSchema.Validate(doc)
}
