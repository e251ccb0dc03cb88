package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Idempotent wraps a Transport so a key is delivered at most once. Accepted
// sends are recorded in the send_records table.
type Idempotent struct {
	db       *gorm.DB
	next     Transport
	provider string
	now      func() time.Time
}

// NewIdempotent wraps next.
func NewIdempotent(db *gorm.DB, next Transport, provider string) *Idempotent {
	return &Idempotent{db: db, next: next, provider: provider, now: time.Now}
}

// Send implements Transport.
func (t *Idempotent) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("transport: idempotency key is required")
	}

	var rec models.SendRecord
	err := t.db.WithContext(ctx).Where("idempotency_key = ?", msg.IdempotencyKey).First(&rec).Error
	switch {
	case err == nil:
		return Result{MessageID: rec.MessageID, Replayed: true}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Result{}, fmt.Errorf("transport: lookup send record: %w", err)
	}

	res, err := t.next.Send(ctx, msg)
	if err != nil {
		return Result{}, err
	}

	rec = models.SendRecord{
		IdempotencyKey: msg.IdempotencyKey,
		DraftID:        msg.DraftID,
		MessageID:      res.MessageID,
		Provider:       t.provider,
		CreatedAt:      t.now().UTC(),
	}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		// Delivered but unrecorded: the provider-side key still deduplicates a retry.
		return res, fmt.Errorf("transport: record send %s: %w", msg.IdempotencyKey, err)
	}
	return res, nil
}

// Lookup returns the recorded send for key, or nil.
func (t *Idempotent) Lookup(ctx context.Context, key string) (*models.SendRecord, error) {
	var rec models.SendRecord
	err := t.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transport: lookup send record: %w", err)
	}
	return &rec, nil
}
