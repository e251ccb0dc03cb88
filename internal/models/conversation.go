package models

import (
	"fmt"
	"time"
)

// Status is a conversation lifecycle state.
type Status string

// Conversation lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusEscalated  Status = "escalated"
)

// Held reports whether a conversation in this state carries a live claim.
func (s Status) Held() bool {
	return s == StatusClaimed || s == StatusInProgress
}

// Priority is a conversation's triage tier.
type Priority string

// Priority tiers, lowest first.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every tier in ascending order.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}

// Rank returns the tier's position in Priorities, or -1 if unknown.
func (p Priority) Rank() int {
	for i, q := range Priorities {
		if q == p {
			return i
		}
	}
	return -1
}

// Next returns the tier one step up, capped at urgent.
func (p Priority) Next() Priority {
	r := p.Rank()
	if r < 0 || r >= len(Priorities)-1 {
		return PriorityUrgent
	}
	return Priorities[r+1]
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority converts a string into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want low, normal, high or urgent)", s)
	}
	return p, nil
}

// Role is the calling user's role as supplied by the identity provider.
type Role string

// Roles known to the dashboard.
const (
	RoleUser          Role = "user"
	RoleStylist       Role = "stylist"
	RoleSeniorStylist Role = "senior_stylist"
	RoleAdmin         Role = "admin"
)

// Supervisor reports whether the role may re-triage escalated conversations.
func (r Role) Supervisor() bool {
	return r == RoleSeniorStylist || r == RoleAdmin
}

// Conversation is a customer request waiting for, or being handled by, a stylist.
type Conversation struct {
	ID              string   `gorm:"primaryKey;size:36" json:"id"`
	RequesterID     string   `gorm:"size:64;not null;index" json:"requester_id"`
	RequesterEmail  string   `gorm:"size:256" json:"requester_email,omitempty"`
	Subject         string   `gorm:"size:256;not null" json:"subject"`
	Status          Status   `gorm:"size:16;default:pending;index" json:"status"`
	Priority        Priority `gorm:"size:8;default:normal;index" json:"priority"`
	ClaimedBy       string   `gorm:"size:64;index" json:"claimed_by,omitempty"`
	EscalationCount int      `gorm:"default:0" json:"escalation_count"`
	CompletedBy     string   `gorm:"size:64" json:"completed_by,omitempty"`
	Version         int      `gorm:"default:0" json:"version"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastUserReplyAt time.Time  `gorm:"index" json:"last_user_reply_at"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Claim is the exclusive binding of one conversation to one stylist.
type Claim struct {
	ConversationID string    `gorm:"primaryKey;size:36" json:"conversation_id"`
	StylistID      string    `gorm:"size:64;not null;index" json:"stylist_id"`
	ClaimedAt      time.Time `gorm:"index" json:"claimed_at"`
}
