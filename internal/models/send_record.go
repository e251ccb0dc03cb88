package models

import "time"

// SendRecord remembers a transport acceptance so retried sends with the same
// idempotency key are not delivered twice.
type SendRecord struct {
	IdempotencyKey string `gorm:"primaryKey;size:64"`
	DraftID        string `gorm:"size:36;index"`
	MessageID      string `gorm:"size:128;not null"`
	Provider       string `gorm:"size:32"`
	CreatedAt      time.Time
}
