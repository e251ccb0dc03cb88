// Package events fans out queue and draft lifecycle notifications to
// dashboard streams and the metrics aggregator.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/stylequeue/internal/models"
)

// Type names an event kind.
type Type string

// Event kinds.
const (
	TypeConversationClaimed Type = "conversation_claimed"
	TypeConversationUpdated Type = "conversation_updated"
	TypeNewConversation     Type = "new_conversation"
	TypeEmailSent           Type = "email_sent"
	TypeQueueUpdated        Type = "queue_updated"
)

// AllTypes lists every event kind.
var AllTypes = []Type{
	TypeConversationClaimed,
	TypeConversationUpdated,
	TypeNewConversation,
	TypeEmailSent,
	TypeQueueUpdated,
}

// Valid reports whether t is a known kind.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// stylistScoped reports whether a stylist-scoped subscription filters t.
func (t Type) stylistScoped() bool {
	return t == TypeConversationClaimed || t == TypeConversationUpdated || t == TypeEmailSent
}

// ParseTypes parses a comma-separated list of event kinds. Empty input means all.
func ParseTypes(s string) ([]Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []Type
	for _, part := range strings.Split(s, ",") {
		t := Type(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		out = append(out, t)
	}
	return out, nil
}

// Event is one notification. ID is a ULID assigned by the bus.
type Event struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	StylistID      string          `json:"stylist_id,omitempty"`
	Priority       models.Priority `json:"priority,omitempty"`
	Status         models.Status   `json:"status,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ForConversation builds an event describing c's current state.
func ForConversation(t Type, c *models.Conversation, stylistID string) Event {
	return Event{
		Type:           t,
		ConversationID: c.ID,
		StylistID:      stylistID,
		Priority:       c.Priority,
		Status:         c.Status,
	}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(evt Event) Event
}

// Filter selects which events a subscription receives.
type Filter struct {
	Types     []Type // empty means all
	StylistID string // scopes claim/update/sent events to this stylist's conversations
}
