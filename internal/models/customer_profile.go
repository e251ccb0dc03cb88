package models

import "time"

// CustomerProfile holds the context summary shown next to queue entries.
type CustomerProfile struct {
	UserID           string   `gorm:"primaryKey;size:64"`
	RecentPurchases  int      `gorm:"default:0"`
	StylePreferences []string `gorm:"serializer:json;type:text"`
	EngagementScore  float64  `gorm:"default:0"`
	UpdatedAt        time.Time
}
