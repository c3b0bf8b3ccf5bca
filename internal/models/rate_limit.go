package models

import "time"

// RateLimitEntry backs the shared limiter storage. A zero ExpiresAt never expires.
type RateLimitEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Value     []byte    `gorm:"type:bytea"`
	ExpiresAt time.Time `gorm:"index"`
}
