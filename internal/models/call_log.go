package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallLog stores one row per dispatch attempt, including failed attempts.
// Rows are append-only and reference their source by plain indexed columns
// so they survive provider or registration deletion.
type CallLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID    *uint64 `gorm:"index"`                        // Provider the call targeted, if any.
	EndpointID    *uint64 `gorm:"index"`                        // Matched endpoint, if any.
	ExternalAPIID *uint64 `gorm:"column:external_api_id;index"` // Legacy registration the call targeted, if any.

	Method string `gorm:"type:varchar(16);not null"` // HTTP method sent upstream.
	URL    string `gorm:"type:text;not null"`        // Fully resolved target URL.

	StatusCode   int   `gorm:"not null;default:0"` // Upstream status code, 0 when no response arrived.
	Success      bool  `gorm:"not null;index"`     // Whether the attempt returned a 2xx response.
	DurationMs   int64 `gorm:"not null;default:0"` // Elapsed time in milliseconds.
	ResponseSize int64 `gorm:"not null;default:0"` // Response body size in bytes, 0 on failure.

	ResponseHeaders datatypes.JSON `gorm:"type:jsonb"` // Upstream response headers.
	ErrorMessage    string         `gorm:"type:text"`  // Transport or dispatch error, empty on success.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Attempt timestamp.
}
