// Package notify delivers rendered request-approval and
// approval-confirmation messages to reviewers and beneficiaries, and
// publishes activation events. Delivery transports are pluggable; failures
// of the event side are fire-and-forget and never block an activation.
package notify

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

// Message is one rendered notification.
type Message struct {
	To      []resources.UserEmail
	CC      []resources.UserEmail
	Subject string
	Body    string
}

// Sink delivers messages.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SlogSink writes messages to the structured log. The default sink for
// deployments without a mail transport.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink() *SlogSink {
	return &SlogSink{logger: slog.Default().With("component", "notify")}
}

// Send implements Sink.
func (s *SlogSink) Send(ctx context.Context, msg Message) error {
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Email)
	}
	s.logger.InfoContext(ctx, "notification",
		"to", recipients,
		"subject", msg.Subject,
	)
	return nil
}

// MultiSink fans a message out to several sinks; the first error wins but
// remaining sinks are still attempted.
type MultiSink []Sink

// Send implements Sink.
func (m MultiSink) Send(ctx context.Context, msg Message) error {
	var first error
	for _, sink := range m {
		if err := sink.Send(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
