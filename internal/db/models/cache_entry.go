package models

import "time"

// CacheEntry is one row of the side cache (OAuth state, quota snapshot).
type CacheEntry struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
