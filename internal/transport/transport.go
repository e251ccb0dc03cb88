// Package transport delivers rendered stylist emails.
package transport

import (
	"context"
	"time"
)

// Message is one rendered email.
type Message struct {
	IdempotencyKey string
	DraftID        string
	ConversationID string
	To             string
	Subject        string
	Text           string
	HTML           string
	ScheduledAt    *time.Time
}

// Result is the provider's acceptance of a message.
type Result struct {
	MessageID string
	Replayed  bool // returned from a previous send with the same key
}

// Transport sends email. Implementations must treat IdempotencyKey as a
// deduplication key when the provider supports one.
type Transport interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
