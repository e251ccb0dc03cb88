// Package conversation owns persisted conversations and their lifecycle state
// machine. Every status change goes through Advance.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
)

// Store persists conversations and claims.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	locks *keyLocks
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		now:   time.Now,
		locks: newKeyLocks(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// CreateOpts holds parameters for a new conversation.
type CreateOpts struct {
	ID             string // optional; generated when empty
	RequesterID    string
	RequesterEmail string
	Subject        string
	Priority       models.Priority // defaults to normal
}

// ListFilters holds optional filters for listing conversations.
type ListFilters struct {
	Status      models.Status
	Priority    models.Priority
	ClaimedBy   string
	RequesterID string
	Limit       int
}

// Create inserts a new pending conversation.
func (s *Store) Create(ctx context.Context, opts CreateOpts) (*models.Conversation, error) {
	if strings.TrimSpace(opts.RequesterID) == "" {
		return nil, sqerr.NewInvalidRequest("requester_id is required")
	}
	if strings.TrimSpace(opts.Subject) == "" {
		return nil, sqerr.NewInvalidRequest("subject is required")
	}
	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}
	if !opts.Priority.Valid() {
		return nil, sqerr.NewInvalidRequest(fmt.Sprintf("unknown priority %q", opts.Priority))
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	now := s.Now()
	c := models.Conversation{
		ID:              opts.ID,
		RequesterID:     opts.RequesterID,
		RequesterEmail:  opts.RequesterEmail,
		Subject:         opts.Subject,
		Status:          models.StatusPending,
		Priority:        opts.Priority,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastUserReplyAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, fmt.Errorf("conversation: create: %w", err)
	}
	return &c, nil
}

// Get retrieves a conversation by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return Load(s.db.WithContext(ctx), id)
}

// Load reads a conversation inside tx.
func Load(tx *gorm.DB, id string) (*models.Conversation, error) {
	var c models.Conversation
	if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sqerr.NewNotFound("conversation", id)
		}
		return nil, fmt.Errorf("conversation: get %s: %w", id, err)
	}
	return &c, nil
}

// List returns conversations matching filters, newest first.
func (s *Store) List(ctx context.Context, f ListFilters) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.ClaimedBy != "" {
		q = q.Where("claimed_by = ?", f.ClaimedBy)
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []models.Conversation
	if err := q.Order("created_at DESC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("conversation: list: %w", err)
	}
	return out, nil
}

// Pending returns every pending conversation.
func (s *Store) Pending(ctx context.Context) ([]models.Conversation, error) {
	return s.List(ctx, ListFilters{Status: models.StatusPending})
}

// RecordReply stamps a new customer message, restarting the wait clock.
func (s *Store) RecordReply(ctx context.Context, id string, at time.Time) (*models.Conversation, error) {
	unlock, err := s.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *models.Conversation
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		out, err = s.Reply(tx, id, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reply is RecordReply inside tx. The caller holds the conversation lock.
func (s *Store) Reply(tx *gorm.DB, id string, at time.Time) (*models.Conversation, error) {
	c, err := Load(tx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusCompleted {
		return nil, sqerr.NewInvalidTransition(id, string(c.Status), string(c.Status))
	}
	at = at.UTC()
	res := tx.Model(&models.Conversation{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"last_user_reply_at": at,
			"version":            c.Version + 1,
			"updated_at":         s.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("conversation: record reply %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, sqerr.NewConflict(fmt.Sprintf("conversation %s was modified concurrently", id))
	}
	c.LastUserReplyAt = at
	c.Version++
	return c, nil
}

// Transaction runs fn in a database transaction bound to ctx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Lock enters the critical section for one conversation. It blocks until the
// section is free or ctx is done, in which case it returns TIMEOUT.
func (s *Store) Lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return nil, sqerr.NewTimeout("lock conversation "+id, err)
	}
	return unlock, nil
}

// Claims returns live claims taken before cutoff, oldest first.
func (s *Store) Claims(ctx context.Context, cutoff time.Time) ([]models.Claim, error) {
	var out []models.Claim
	if err := s.db.WithContext(ctx).
		Where("claimed_at < ?", cutoff.UTC()).
		Order("claimed_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("conversation: list claims: %w", err)
	}
	return out, nil
}

// ClaimFor returns the live claim on a conversation, if any.
func ClaimFor(tx *gorm.DB, id string) (*models.Claim, error) {
	var cl models.Claim
	if err := tx.Where("conversation_id = ?", id).First(&cl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: get claim %s: %w", id, err)
	}
	return &cl, nil
}
