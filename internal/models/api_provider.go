package models

import (
	"time"

	"gorm.io/datatypes"
)

// Last-tested outcomes recorded on providers and external APIs.
const (
	TestStatusPending = "pending"
	TestStatusSuccess = "success"
	TestStatusError   = "error"
)

// APIProvider stores a third-party API provider and its credential settings.
type APIProvider struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name             string `gorm:"type:varchar(255);not null;uniqueIndex"` // Unique display name.
	Description      string `gorm:"type:text"`                              // Optional description.
	BaseURL          string `gorm:"type:text;not null"`                     // Upstream base URL.
	DocumentationURL string `gorm:"type:text"`                              // Optional documentation link.

	RequiresAuth bool           `gorm:"not null;default:false"` // Whether auth headers are attached.
	AuthType     string         `gorm:"type:varchar(32)"`       // Legacy auth type (none, api_key, bearer, basic, oauth2).
	AuthConfig   datatypes.JSON `gorm:"type:jsonb"`             // Legacy single auth descriptor.
	AuthConfigs  datatypes.JSON `gorm:"type:jsonb"`             // Auth descriptor list (authoritative when present).

	RateLimit int `gorm:"not null;default:60"`    // Advisory requests per minute.
	Timeout   int `gorm:"not null;default:30000"` // Request timeout in milliseconds.

	IsActive   bool       `gorm:"not null;default:true;index"` // Whether dispatch is allowed.
	LastTested *time.Time // Last dispatch attempt timestamp.
	TestStatus string     `gorm:"type:varchar(32);default:'pending'"` // Outcome of the last dispatch attempt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
