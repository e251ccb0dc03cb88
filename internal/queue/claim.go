package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/stylequeue/internal/conversation"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
)

// ReleaseReason says why a claim is being given up.
type ReleaseReason string

// Release reasons.
const (
	ReasonStylistRelease    ReleaseReason = "stylist_release"
	ReasonEscalationTimeout ReleaseReason = "escalation_timeout"
)

// Claim binds a pending conversation to stylistID. Exactly one of any number
// of concurrent callers wins; the rest get CLAIM_CONFLICT.
func (m *Manager) Claim(ctx context.Context, id, stylistID string) (*models.Conversation, error) {
	if stylistID == "" {
		return nil, sqerr.NewInvalidRequest("stylist_id is required")
	}

	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.setHidden(id, true)

	var claimed *models.Conversation
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err := conversation.Load(tx, id)
		if err != nil {
			return err
		}
		if c.Status.Held() {
			return sqerr.NewClaimConflict(id, c.ClaimedBy)
		}
		if c.Status != models.StatusPending {
			return sqerr.NewNotFound("pending conversation", id)
		}
		if err := m.store.Advance(tx, c, models.StatusClaimed, conversation.AdvanceOpts{StylistID: stylistID}); err != nil {
			if sqerr.Is(err, sqerr.ErrConflict) {
				return sqerr.NewClaimConflict(id, "")
			}
			return err
		}
		claimed = c
		return nil
	})
	if err != nil {
		m.setHidden(id, false)
		if sqerr.Is(err, sqerr.ErrClaimConflict) {
			m.logger.Debug().Str("conversation_id", id).Str("stylist_id", stylistID).Msg("claim lost")
		}
		return nil, err
	}

	m.remove(id)
	m.bus.Publish(events.ForConversation(events.TypeConversationClaimed, claimed, stylistID))
	m.publishQueueUpdated(claimed)

	m.logger.Info().Str("conversation_id", id).Str("stylist_id", stylistID).Msg("conversation claimed")
	return claimed, nil
}

// BeginWork moves a claimed conversation to in_progress. Already in progress
// is a no-op.
func (m *Manager) BeginWork(ctx context.Context, id, stylistID string) (*models.Conversation, error) {
	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Conversation
	changed := false
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err := conversation.RequireOwner(tx, id, stylistID)
		if err != nil {
			return err
		}
		out = c
		if c.Status == models.StatusInProgress {
			return nil
		}
		changed = true
		return m.store.Advance(tx, c, models.StatusInProgress, conversation.AdvanceOpts{})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.bus.Publish(events.ForConversation(events.TypeConversationUpdated, out, stylistID))
	}
	return out, nil
}

// Release gives up a live claim. A stylist may only release their own claim;
// escalation_timeout releases follow the timeout policy.
func (m *Manager) Release(ctx context.Context, id, stylistID string, reason ReleaseReason) (*models.Conversation, error) {
	switch reason {
	case ReasonStylistRelease, ReasonEscalationTimeout:
	default:
		return nil, sqerr.NewInvalidRequest(fmt.Sprintf("unknown release reason %q", reason))
	}

	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		holder string
		steps  []models.Conversation
	)
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		steps = nil
		c, err := conversation.Load(tx, id)
		if err != nil {
			return err
		}
		if !c.Status.Held() {
			return sqerr.NewNotHeld(id)
		}
		if reason == ReasonStylistRelease && c.ClaimedBy != stylistID {
			return sqerr.NewNotHeld(id)
		}
		holder = c.ClaimedBy

		if reason == ReasonStylistRelease || m.onTimeout == OnTimeoutRequeue {
			if err := m.store.Advance(tx, c, models.StatusPending, conversation.AdvanceOpts{}); err != nil {
				return err
			}
			steps = append(steps, *c)
			return nil
		}
		steps, err = m.escalate(tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	final := m.finish(steps, holder)
	m.logger.Info().
		Str("conversation_id", id).
		Str("stylist_id", holder).
		Str("reason", string(reason)).
		Str("status", string(final.Status)).
		Msg("claim released")
	return final, nil
}

// Escalate handles an SLA breach: the conversation moves to escalated, any
// claim is destroyed, and with auto re-triage it re-enters the queue one tier up.
func (m *Manager) Escalate(ctx context.Context, id, reason string) (*models.Conversation, error) {
	return m.EscalateIf(ctx, id, reason, nil)
}

// EscalateIf is Escalate guarded by still, which is evaluated against the
// stored row under the conversation lock. When still reports false the row
// changed since the caller decided to escalate, and CONFLICT is returned with
// nothing changed. A nil still escalates unconditionally.
func (m *Manager) EscalateIf(ctx context.Context, id, reason string, still func(models.Conversation) bool) (*models.Conversation, error) {
	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		holder string
		steps  []models.Conversation
	)
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err := conversation.Load(tx, id)
		if err != nil {
			return err
		}
		if still != nil && !still(*c) {
			return sqerr.NewConflict(fmt.Sprintf("conversation %s changed before escalation", id))
		}
		holder = c.ClaimedBy
		steps, err = m.escalate(tx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	final := m.finish(steps, holder)
	m.logger.Warn().
		Str("conversation_id", id).
		Str("reason", reason).
		Str("priority", string(final.Priority)).
		Int("escalation_count", final.EscalationCount).
		Msg("conversation escalated")
	return final, nil
}

// escalate advances c to escalated and, with auto re-triage, back to pending.
// It returns each state c passed through.
func (m *Manager) escalate(tx *gorm.DB, c *models.Conversation) ([]models.Conversation, error) {
	if err := m.store.Advance(tx, c, models.StatusEscalated, conversation.AdvanceOpts{}); err != nil {
		return nil, err
	}
	steps := []models.Conversation{*c}
	if m.autoRetriage {
		if err := m.store.Advance(tx, c, models.StatusPending, conversation.AdvanceOpts{}); err != nil {
			return nil, err
		}
		steps = append(steps, *c)
	}
	return steps, nil
}

// Retriage returns an escalated conversation to the queue one tier up.
// Only supervisors may re-triage.
func (m *Manager) Retriage(ctx context.Context, id string, role models.Role) (*models.Conversation, error) {
	if !role.Supervisor() {
		return nil, sqerr.NewForbidden(fmt.Sprintf("role %q may not re-triage conversations", role))
	}

	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Conversation
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err := conversation.Load(tx, id)
		if err != nil {
			return err
		}
		if err := m.store.Advance(tx, c, models.StatusPending, conversation.AdvanceOpts{}); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.finish([]models.Conversation{*out}, ""), nil
}

// RecordReply stamps a customer reply and reorders the queue accordingly.
// The index is updated before the conversation lock is released.
func (m *Manager) RecordReply(ctx context.Context, id string, at time.Time) (*models.Conversation, error) {
	unlock, err := m.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var c *models.Conversation
	err = m.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err = m.store.Reply(tx, id, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	if m.refresh(c) {
		m.publishQueueUpdated(c)
	}
	return c, nil
}

// ExpiredClaims returns claims taken before cutoff.
func (m *Manager) ExpiredClaims(ctx context.Context, cutoff time.Time) ([]models.Claim, error) {
	return m.store.Claims(ctx, cutoff)
}

// finish syncs the index with the final state and publishes one
// conversation_updated per step. Caller holds the conversation lock.
func (m *Manager) finish(steps []models.Conversation, holder string) *models.Conversation {
	final := steps[len(steps)-1]
	m.put(&final)
	for i := range steps {
		m.bus.Publish(events.ForConversation(events.TypeConversationUpdated, &steps[i], holder))
	}
	m.publishQueueUpdated(&final)
	return &final
}
