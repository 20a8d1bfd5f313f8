package models

import (
	"time"

	"gorm.io/datatypes"
)

// ExternalAPI stores a flattened single-endpoint registration kept for
// compatibility with pre-provider records.
type ExternalAPI struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name         string `gorm:"type:varchar(255);not null;index"`        // Display name, not unique.
	Description  string `gorm:"type:text"`                               // Optional description.
	BaseURL      string `gorm:"type:text;not null"`                      // Upstream base URL.
	EndpointPath string `gorm:"type:text;not null"`                      // Path template, may contain {param} placeholders.
	Method       string `gorm:"type:varchar(16);not null;default:'GET'"` // Upper-case HTTP method.

	AuthType    string         `gorm:"type:varchar(32)"` // Legacy auth type (none, api_key, bearer, basic, oauth2).
	AuthConfig  datatypes.JSON `gorm:"type:jsonb"`       // Legacy single auth descriptor.
	AuthConfigs datatypes.JSON `gorm:"type:jsonb"`       // Auth descriptor list (authoritative when present).

	RateLimit int `gorm:"not null;default:60"`    // Advisory requests per minute.
	Timeout   int `gorm:"not null;default:30000"` // Request timeout in milliseconds.

	IsActive   bool       `gorm:"not null;default:true;index"` // Whether test dispatch is allowed.
	LastTested *time.Time // Last dispatch attempt timestamp.
	TestStatus string     `gorm:"type:varchar(32);default:'pending'"` // Outcome of the last dispatch attempt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
