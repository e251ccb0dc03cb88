// Package draft composes, validates and sends stylist email drafts.
package draft

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/conversation"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/transport"
	"gorm.io/gorm"
)

// Options configures a Builder.
type Options struct {
	Store     *conversation.Store
	Transport transport.Transport
	Bus       events.Publisher
	Logger    zerolog.Logger
}

// Builder owns email drafts. Every mutation runs inside the conversation's
// critical section and requires the caller to hold the live claim.
type Builder struct {
	store     *conversation.Store
	transport transport.Transport
	bus       events.Publisher
	logger    zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{
		store:     opts.Store,
		transport: opts.Transport,
		bus:       opts.Bus,
		logger:    opts.Logger.With().Str("component", "draft").Logger(),
	}
}

// SaveOpts holds a partial draft update. Nil fields are left unchanged.
type SaveOpts struct {
	SubjectLine     *string
	Notes           *string
	IsScheduled     *bool
	ScheduledSendAt *time.Time
	ClearSchedule   bool
}

// SendResult is the outcome of Send.
type SendResult struct {
	Draft        *models.EmailDraft   `json:"draft"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	MessageID    string               `json:"message_id"`
	Replayed     bool                 `json:"replayed"`
}

// Create opens a draft for a conversation the stylist has claimed, moving the
// conversation to in_progress. An existing unsent draft is returned as is.
func (b *Builder) Create(ctx context.Context, conversationID, stylistID string) (*models.EmailDraft, error) {
	unlock, err := b.store.Lock(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		out   *models.EmailDraft
		began *models.Conversation
	)
	err = b.store.Transaction(ctx, func(tx *gorm.DB) error {
		c, err := conversation.RequireOwner(tx, conversationID, stylistID)
		if err != nil {
			return err
		}
		if c.Status == models.StatusClaimed {
			if err := b.store.Advance(tx, c, models.StatusInProgress, conversation.AdvanceOpts{}); err != nil {
				return err
			}
			began = c
		}

		var existing models.EmailDraft
		res := tx.Where("conversation_id = ? AND stylist_id = ? AND status = ?", conversationID, stylistID, models.DraftStatusDraft).
			Order("created_at DESC").
			Limit(1).
			Find(&existing)
		if res.Error != nil {
			return fmt.Errorf("draft: find existing: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			out = &existing
			return nil
		}

		now := b.store.Now()
		id := uuid.NewString()
		d := models.EmailDraft{
			ID:             id,
			ConversationID: conversationID,
			StylistID:      stylistID,
			SubjectLine:    c.Subject,
			Modules:        []models.EmailModule{},
			Status:         models.DraftStatusDraft,
			IdempotencyKey: "draft-" + id,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&d).Error; err != nil {
			return fmt.Errorf("draft: create: %w", err)
		}
		out = &d
		return nil
	})
	if err != nil {
		return nil, err
	}

	if began != nil {
		b.bus.Publish(events.ForConversation(events.TypeConversationUpdated, began, stylistID))
	}
	return out, nil
}

// Get retrieves a draft by ID.
func (b *Builder) Get(ctx context.Context, id string) (*models.EmailDraft, error) {
	return loadDraft(b.store.DB().WithContext(ctx), id)
}

func loadDraft(tx *gorm.DB, id string) (*models.EmailDraft, error) {
	var d models.EmailDraft
	if err := tx.Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sqerr.NewNotFound("draft", id)
		}
		return nil, fmt.Errorf("draft: get %s: %w", id, err)
	}
	return &d, nil
}

// ForConversation lists drafts for a conversation, newest first.
func (b *Builder) ForConversation(ctx context.Context, conversationID string) ([]models.EmailDraft, error) {
	var out []models.EmailDraft
	if err := b.store.DB().WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("draft: list for %s: %w", conversationID, err)
	}
	return out, nil
}

// mutate applies fn to an unsent draft owned by stylistID and saves it.
func (b *Builder) mutate(ctx context.Context, draftID, stylistID string, fn func(d *models.EmailDraft) error) (*models.EmailDraft, error) {
	d, err := b.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}

	unlock, err := b.store.Lock(ctx, d.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = b.store.Transaction(ctx, func(tx *gorm.DB) error {
		d, err = loadDraft(tx, draftID)
		if err != nil {
			return err
		}
		if d.Sent() {
			return sqerr.NewDraftSent(d.ID)
		}
		if d.StylistID != stylistID {
			return sqerr.NewNotClaimed(d.ConversationID, stylistID)
		}
		if _, err := conversation.RequireOwner(tx, d.ConversationID, stylistID); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		d.UpdatedAt = b.store.Now()
		if err := tx.Save(d).Error; err != nil {
			return fmt.Errorf("draft: save %s: %w", d.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddModule appends a module. The module ID and creation time are assigned here.
func (b *Builder) AddModule(ctx context.Context, draftID, stylistID string, m models.EmailModule) (*models.EmailDraft, error) {
	if err := checkModule(&m); err != nil {
		return nil, err
	}
	return b.mutate(ctx, draftID, stylistID, func(d *models.EmailDraft) error {
		m.ModuleID = uuid.NewString()
		m.CreatedAt = b.store.Now()
		if m.Items == nil {
			m.Items = []models.EmailItem{}
		}
		if m.Actions == nil {
			m.Actions = []models.EmailAction{}
		}
		d.Modules = append(d.Modules, m)
		return nil
	})
}

// RemoveModule deletes a module by ID.
func (b *Builder) RemoveModule(ctx context.Context, draftID, stylistID, moduleID string) (*models.EmailDraft, error) {
	return b.mutate(ctx, draftID, stylistID, func(d *models.EmailDraft) error {
		i := slices.IndexFunc(d.Modules, func(m models.EmailModule) bool { return m.ModuleID == moduleID })
		if i < 0 {
			return sqerr.NewNotFound("module", moduleID)
		}
		d.Modules = slices.Delete(d.Modules, i, i+1)
		return nil
	})
}

// Reorder sets module order. ids must be exactly the draft's module IDs.
func (b *Builder) Reorder(ctx context.Context, draftID, stylistID string, ids []string) (*models.EmailDraft, error) {
	return b.mutate(ctx, draftID, stylistID, func(d *models.EmailDraft) error {
		byID := make(map[string]models.EmailModule, len(d.Modules))
		current := make([]string, len(d.Modules))
		for i, m := range d.Modules {
			byID[m.ModuleID] = m
			current[i] = m.ModuleID
		}
		inconsistent := func() error {
			return sqerr.NewInconsistent("module order does not match the draft's modules", map[string]any{
				"draft_id": d.ID,
				"expected": current,
				"got":      ids,
			})
		}
		if len(ids) != len(d.Modules) {
			return inconsistent()
		}
		seen := make(map[string]bool, len(ids))
		reordered := make([]models.EmailModule, 0, len(ids))
		for _, id := range ids {
			m, ok := byID[id]
			if !ok || seen[id] {
				return inconsistent()
			}
			seen[id] = true
			reordered = append(reordered, m)
		}
		d.Modules = reordered
		return nil
	})
}

// Save applies a partial update without validating content.
func (b *Builder) Save(ctx context.Context, draftID, stylistID string, opts SaveOpts) (*models.EmailDraft, error) {
	return b.mutate(ctx, draftID, stylistID, func(d *models.EmailDraft) error {
		if opts.SubjectLine != nil {
			d.SubjectLine = *opts.SubjectLine
		}
		if opts.Notes != nil {
			d.Notes = *opts.Notes
		}
		if opts.IsScheduled != nil {
			d.IsScheduled = *opts.IsScheduled
		}
		if opts.ScheduledSendAt != nil {
			at := opts.ScheduledSendAt.UTC()
			d.ScheduledSendAt = &at
		}
		if opts.ClearSchedule {
			d.IsScheduled = false
			d.ScheduledSendAt = nil
		}
		return nil
	})
}

// Validate returns every content rule the draft violates.
func (b *Builder) Validate(ctx context.Context, draftID string) ([]sqerr.Violation, error) {
	d, err := b.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return ValidateDraft(d), nil
}

// Send delivers the draft and completes the conversation. A draft that has
// already been sent returns its recorded result. On transport failure nothing
// changes and the caller may retry; the draft's idempotency key is stable.
func (b *Builder) Send(ctx context.Context, draftID, stylistID string) (*SendResult, error) {
	d, err := b.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if d.Sent() {
		return &SendResult{Draft: d, MessageID: d.MessageID, Replayed: true}, nil
	}
	if v := ValidateDraft(d); len(v) > 0 {
		return nil, sqerr.NewValidationFailed(d.ID, v)
	}

	unlock, err := b.store.Lock(ctx, d.ConversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var c *models.Conversation
	err = b.store.Transaction(ctx, func(tx *gorm.DB) error {
		d, err = loadDraft(tx, draftID)
		if err != nil {
			return err
		}
		if d.Sent() {
			return nil
		}
		if d.StylistID != stylistID {
			return sqerr.NewNotClaimed(d.ConversationID, stylistID)
		}
		c, err = conversation.RequireOwner(tx, d.ConversationID, stylistID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if d.Sent() {
		return &SendResult{Draft: d, MessageID: d.MessageID, Replayed: true}, nil
	}
	if v := ValidateDraft(d); len(v) > 0 {
		return nil, sqerr.NewValidationFailed(d.ID, v)
	}

	rendered, err := Render(d)
	if err != nil {
		return nil, sqerr.NewInternal(err)
	}
	msg := transport.Message{
		IdempotencyKey: d.IdempotencyKey,
		DraftID:        d.ID,
		ConversationID: d.ConversationID,
		To:             recipient(c),
		Subject:        rendered.Subject,
		Text:           rendered.Text,
		HTML:           rendered.HTML,
	}
	if d.IsScheduled {
		msg.ScheduledAt = d.ScheduledSendAt
	}

	res, err := b.transport.Send(ctx, msg)
	if err != nil {
		b.logger.Warn().Err(err).Str("draft_id", d.ID).Str("idempotency_key", d.IdempotencyKey).Msg("email transport failed")
		return nil, sqerr.NewTransport(d.IdempotencyKey, err)
	}

	err = b.store.Transaction(ctx, func(tx *gorm.DB) error {
		cur, err := conversation.RequireOwner(tx, d.ConversationID, stylistID)
		if err != nil {
			return err
		}
		if cur.Status == models.StatusClaimed {
			if err := b.store.Advance(tx, cur, models.StatusInProgress, conversation.AdvanceOpts{}); err != nil {
				return err
			}
		}
		if err := b.store.Advance(tx, cur, models.StatusCompleted, conversation.AdvanceOpts{StylistID: stylistID}); err != nil {
			return err
		}

		now := b.store.Now()
		d.Status = models.DraftStatusSent
		d.MessageID = res.MessageID
		d.SentAt = &now
		d.UpdatedAt = now
		if err := tx.Save(d).Error; err != nil {
			return fmt.Errorf("draft: mark sent %s: %w", d.ID, err)
		}
		c = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.bus.Publish(events.ForConversation(events.TypeConversationUpdated, c, stylistID))
	b.bus.Publish(events.ForConversation(events.TypeEmailSent, c, stylistID))

	b.logger.Info().
		Str("draft_id", d.ID).
		Str("conversation_id", c.ID).
		Str("stylist_id", stylistID).
		Str("message_id", res.MessageID).
		Msg("email sent")
	return &SendResult{Draft: d, Conversation: c, MessageID: res.MessageID}, nil
}

// recipient falls back to the requester ID when it looks like an address.
func recipient(c *models.Conversation) string {
	if c.RequesterEmail != "" {
		return c.RequesterEmail
	}
	if strings.Contains(c.RequesterID, "@") {
		return c.RequesterID
	}
	return ""
}
