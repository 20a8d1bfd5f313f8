package models

import "time"

// APIEndpoint stores a single callable path under an APIProvider.
type APIEndpoint struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID uint64 `gorm:"not null;index;uniqueIndex:idx_endpoint_route"`            // Owning provider.
	Path       string `gorm:"type:text;not null;uniqueIndex:idx_endpoint_route"`        // Path template, may contain {param} placeholders.
	Method     string `gorm:"type:varchar(16);not null;uniqueIndex:idx_endpoint_route"` // Upper-case HTTP method.

	Name        string `gorm:"type:varchar(255);not null"` // Display name.
	Description string `gorm:"type:text"`                  // Optional description.

	IsActive bool `gorm:"not null;default:true;index"` // Whether the endpoint is callable.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
