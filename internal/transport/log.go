package transport

import (
	"context"

	"github.com/rs/zerolog"
)

// Log is a development transport that writes messages to the logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a Log transport.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "transport").Logger()}
}

// Send implements Transport. The message id is derived from the idempotency key.
func (l *Log) Send(_ context.Context, msg Message) (Result, error) {
	ev := l.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("draft_id", msg.DraftID).
		Str("idempotency_key", msg.IdempotencyKey).
		Int("text_bytes", len(msg.Text)).
		Int("html_bytes", len(msg.HTML))
	if msg.ScheduledAt != nil {
		ev = ev.Time("scheduled_at", *msg.ScheduledAt)
	}
	ev.Msg("email sent")
	return Result{MessageID: "log-" + msg.IdempotencyKey}, nil
}
