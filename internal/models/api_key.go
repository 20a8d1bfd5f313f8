package models

import "time"

// APIKey stores a proxy access key.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name   string `gorm:"type:varchar(255);not null"`             // Display name.
	APIKey string `gorm:"type:varchar(128);not null;uniqueIndex"` // Key material presented by callers.

	Active     bool       `gorm:"not null;default:true"` // Whether the key is accepted.
	LastUsedAt *time.Time // Last successful authentication.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
