package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/config"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
)

// defaultAdminUsername is used when no admin username is configured.
const defaultAdminUsername = "admin"

// HasAdminAccount reports whether at least one admin account exists.
func HasAdminAccount(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.Admin{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// EnsureAdmin creates the initial admin account when none exists. The
// credentials come from ADMIN_USERNAME/ADMIN_PASSWORD; a missing password is
// generated and logged once.
func EnsureAdmin(conn *gorm.DB) error {
	exists, errCheck := HasAdminAccount(conn)
	if errCheck != nil {
		return errCheck
	}
	if exists {
		return nil
	}

	username := strings.TrimSpace(os.Getenv(config.EnvAdminUsername))
	if username == "" {
		username = defaultAdminUsername
	}

	password := strings.TrimSpace(os.Getenv(config.EnvAdminPassword))
	generated := password == ""
	if generated {
		random, errRandom := security.GenerateRandomString(16)
		if errRandom != nil {
			return fmt.Errorf("generate admin password: %w", errRandom)
		}
		password = random
	}

	if errCreate := CreateAdminAccount(conn, username, password); errCreate != nil {
		return errCreate
	}

	if generated {
		log.Infof("created initial admin %q with generated password: %s", username, password)
	} else {
		log.Infof("created initial admin %q", username)
	}
	return nil
}

// CreateAdminAccount creates an active admin with a hashed password.
func CreateAdminAccount(conn *gorm.DB, username, password string) error {
	if conn == nil {
		return fmt.Errorf("open database: nil connection")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("create admin: empty username")
	}
	if password == "" {
		return fmt.Errorf("create admin: empty password")
	}

	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("hash password: %w", errHash)
	}

	now := time.Now().UTC()
	admin := models.Admin{
		Username:     username,
		PasswordHash: hashedPassword,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		return fmt.Errorf("create admin: %w", errCreate)
	}
	return nil
}
