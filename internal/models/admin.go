package models

import "time"

// Admin stores a management console account.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username     string `gorm:"type:varchar(255);not null;uniqueIndex"` // Unique login name.
	PasswordHash string `gorm:"type:text;not null"`                     // Bcrypt password hash.
	TOTPSecret   string `gorm:"type:text"`                              // TOTP secret, empty when disabled.

	Active      bool       `gorm:"not null;default:true"` // Whether login is allowed.
	LastLoginAt *time.Time // Last successful login.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
