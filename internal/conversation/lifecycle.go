package conversation

import (
	"fmt"

	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
)

// ValidTransitions maps each status to its valid next statuses.
var ValidTransitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusClaimed, models.StatusEscalated},
	models.StatusClaimed:    {models.StatusInProgress, models.StatusPending, models.StatusEscalated},
	models.StatusInProgress: {models.StatusCompleted, models.StatusPending, models.StatusEscalated},
	models.StatusEscalated:  {models.StatusPending},
}

// IsValidTransition reports whether from → to is in the transition table.
func IsValidTransition(from, to models.Status) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AdvanceOpts carries the inputs some transitions need.
type AdvanceOpts struct {
	StylistID string          // required when moving to claimed
	Priority  models.Priority // escalated → pending; defaults to one tier up
}

// Advance moves c to status `to` inside tx. It keeps claimed_by and the claims
// table consistent with the new status and guards the write with c.Version.
// On success c reflects the stored row.
func (s *Store) Advance(tx *gorm.DB, c *models.Conversation, to models.Status, opts AdvanceOpts) error {
	from := c.Status
	if !IsValidTransition(from, to) {
		return sqerr.NewInvalidTransition(c.ID, string(from), string(to))
	}

	now := s.Now()
	updates := map[string]interface{}{
		"status":     to,
		"version":    c.Version + 1,
		"updated_at": now,
	}

	next := *c
	next.Status = to
	next.Version = c.Version + 1
	next.UpdatedAt = now

	switch to {
	case models.StatusClaimed:
		if opts.StylistID == "" {
			return sqerr.NewInvalidRequest("stylist_id is required to claim")
		}
		updates["claimed_by"] = opts.StylistID
		updates["claimed_at"] = now
		next.ClaimedBy = opts.StylistID
		next.ClaimedAt = &now

	case models.StatusInProgress:

	case models.StatusPending:
		if from == models.StatusEscalated {
			p := opts.Priority
			if p == "" {
				p = c.Priority.Next()
			}
			updates["priority"] = p
			next.Priority = p
		}
		clearClaim(updates, &next)

	case models.StatusEscalated:
		updates["escalated_at"] = now
		updates["escalation_count"] = c.EscalationCount + 1
		next.EscalatedAt = &now
		next.EscalationCount = c.EscalationCount + 1
		clearClaim(updates, &next)

	case models.StatusCompleted:
		by := c.ClaimedBy
		if opts.StylistID != "" {
			by = opts.StylistID
		}
		updates["completed_at"] = now
		updates["completed_by"] = by
		next.CompletedAt = &now
		next.CompletedBy = by
		clearClaim(updates, &next)
	}

	res := tx.Model(&models.Conversation{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("conversation: advance %s to %s: %w", c.ID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return sqerr.NewConflict(fmt.Sprintf("conversation %s was modified concurrently", c.ID))
	}

	switch {
	case to == models.StatusClaimed:
		cl := models.Claim{ConversationID: c.ID, StylistID: opts.StylistID, ClaimedAt: now}
		if err := tx.Create(&cl).Error; err != nil {
			return fmt.Errorf("conversation: record claim %s: %w", c.ID, err)
		}
	case from.Held() && !to.Held():
		if err := tx.Where("conversation_id = ?", c.ID).Delete(&models.Claim{}).Error; err != nil {
			return fmt.Errorf("conversation: drop claim %s: %w", c.ID, err)
		}
	}

	*c = next
	return nil
}

func clearClaim(updates map[string]interface{}, c *models.Conversation) {
	updates["claimed_by"] = ""
	updates["claimed_at"] = nil
	c.ClaimedBy = ""
	c.ClaimedAt = nil
}

// RequireOwner loads a conversation and fails with NOT_CLAIMED unless stylistID
// holds its live claim.
func RequireOwner(tx *gorm.DB, id, stylistID string) (*models.Conversation, error) {
	c, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.Held() || c.ClaimedBy != stylistID {
		return nil, sqerr.NewNotClaimed(id, stylistID)
	}
	cl, err := ClaimFor(tx, id)
	if err != nil {
		return nil, err
	}
	if cl == nil || cl.StylistID != stylistID {
		return nil, sqerr.NewNotClaimed(id, stylistID)
	}
	return c, nil
}
