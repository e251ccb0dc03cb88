// Package profile serves the customer context shown next to queue entries.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqerr "github.com/zulandar/stylequeue/internal/errors"
	"github.com/zulandar/stylequeue/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Summary is the context a stylist sees for a requester.
type Summary struct {
	UserID           string   `json:"user_id"`
	RecentPurchases  int      `json:"recent_purchases"`
	StylePreferences []string `json:"style_preferences,omitempty"`
	EngagementScore  float64  `json:"engagement_score"`
}

// Provider looks up a requester's summary.
type Provider interface {
	Lookup(ctx context.Context, userID string) (*Summary, error)
}

// Store is a gorm-backed Provider.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Lookup returns the stored profile for userID.
func (s *Store) Lookup(ctx context.Context, userID string) (*Summary, error) {
	var p models.CustomerProfile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sqerr.NewNotFound("profile", userID)
		}
		return nil, fmt.Errorf("profile: lookup %s: %w", userID, err)
	}
	return &Summary{
		UserID:           p.UserID,
		RecentPurchases:  p.RecentPurchases,
		StylePreferences: p.StylePreferences,
		EngagementScore:  p.EngagementScore,
	}, nil
}

// Upsert writes a profile, replacing any existing row for the user.
func (s *Store) Upsert(ctx context.Context, sum Summary) error {
	if sum.UserID == "" {
		return sqerr.NewInvalidRequest("user_id is required")
	}
	if sum.EngagementScore < 0 || sum.EngagementScore > 1 {
		return sqerr.NewInvalidRequest(fmt.Sprintf("engagement_score %.2f must be within [0,1]", sum.EngagementScore))
	}
	p := models.CustomerProfile{
		UserID:           sum.UserID,
		RecentPurchases:  sum.RecentPurchases,
		StylePreferences: sum.StylePreferences,
		EngagementScore:  sum.EngagementScore,
		UpdatedAt:        s.now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"recent_purchases", "style_preferences", "engagement_score", "updated_at"}),
	}).Create(&p)
	if res.Error != nil {
		return fmt.Errorf("profile: upsert %s: %w", sum.UserID, res.Error)
	}
	return nil
}

// Static is an in-memory Provider.
type Static map[string]Summary

// Lookup returns the summary for userID.
func (s Static) Lookup(_ context.Context, userID string) (*Summary, error) {
	sum, ok := s[userID]
	if !ok {
		return nil, sqerr.NewNotFound("profile", userID)
	}
	return &sum, nil
}
