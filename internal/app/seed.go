package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apifleet/apimanager/internal/config"
	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"
)

// Seed opens the database and inserts sample registrations for local
// development. Existing rows are left untouched.
func Seed(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	return SeedSampleData(conn.WithContext(ctx))
}

// SeedSampleData inserts a sample provider with endpoints and a legacy
// single-endpoint registration, skipping anything that already exists.
func SeedSampleData(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("nil db")
	}
	now := time.Now().UTC()

	provider := models.APIProvider{
		Name:         "jsonplaceholder",
		Description:  "Free fake REST API for testing and prototyping",
		BaseURL:      "https://jsonplaceholder.typicode.com",
		RequiresAuth: false,
		AuthType:     dispatch.AuthTypeNone,
		RateLimit:    60,
		Timeout:      30000,
		IsActive:     true,
		TestStatus:   models.TestStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&provider).Error; errCreate != nil {
		return fmt.Errorf("seed provider: %w", errCreate)
	}
	// DoNothing leaves the ID zero when the row already existed.
	if provider.ID == 0 {
		if errFind := conn.Where("name = ?", provider.Name).First(&provider).Error; errFind != nil {
			return fmt.Errorf("seed provider: reload: %w", errFind)
		}
	}

	endpoints := []models.APIEndpoint{
		{
			ProviderID:  provider.ID,
			Path:        "/todos/{id}",
			Method:      "GET",
			Name:        "Get todo",
			Description: "Fetch a single todo by id",
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ProviderID:  provider.ID,
			Path:        "/users/{id}/posts",
			Method:      "GET",
			Name:        "List user posts",
			Description: "Fetch all posts written by a user",
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	for i := range endpoints {
		if errCreate := conn.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}, {Name: "path"}, {Name: "method"}},
			DoNothing: true,
		}).Create(&endpoints[i]).Error; errCreate != nil {
			return fmt.Errorf("seed endpoint %s: %w", endpoints[i].Path, errCreate)
		}
	}

	external := models.ExternalAPI{
		Name:         "jsonplaceholder todos",
		Description:  "Legacy registration of the todos endpoint",
		BaseURL:      "https://jsonplaceholder.typicode.com",
		EndpointPath: "/todos/{id}",
		Method:       "GET",
		AuthType:     dispatch.AuthTypeNone,
		RateLimit:    60,
		Timeout:      30000,
		IsActive:     true,
		TestStatus:   models.TestStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var existing int64
	if errCount := conn.Model(&models.ExternalAPI{}).Where("name = ?", external.Name).Count(&existing).Error; errCount != nil {
		return fmt.Errorf("seed external api: %w", errCount)
	}
	if existing == 0 {
		if errCreate := conn.Create(&external).Error; errCreate != nil {
			return fmt.Errorf("seed external api: %w", errCreate)
		}
	}

	log.Info("seeded sample registrations")
	return nil
}
