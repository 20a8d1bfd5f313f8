package app

import (
	"path/filepath"
	"testing"

	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
	"gorm.io/gorm"
)

func openAppTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "apimanager-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestEnsureAdmin_CreatesFromEnv(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD", "hunter22")
	conn := openAppTestDB(t)

	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("EnsureAdmin: %v", errEnsure)
	}

	var admin models.Admin
	if errFind := conn.First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if admin.Username != "root" {
		t.Fatalf("expected username=root, got %q", admin.Username)
	}
	if !admin.Active {
		t.Fatalf("expected admin to be active")
	}
	if !security.VerifyPassword(admin.PasswordHash, "hunter22") {
		t.Fatalf("expected stored hash to verify the env password")
	}
}

func TestEnsureAdmin_GeneratesPasswordWithoutEnv(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	conn := openAppTestDB(t)

	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("EnsureAdmin: %v", errEnsure)
	}

	var admin models.Admin
	if errFind := conn.First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if admin.Username != defaultAdminUsername {
		t.Fatalf("expected username=%q, got %q", defaultAdminUsername, admin.Username)
	}
	if admin.PasswordHash == "" {
		t.Fatalf("expected a hashed password")
	}
}

func TestEnsureAdmin_SkipsWhenAdminExists(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "ignored")
	t.Setenv("ADMIN_PASSWORD", "ignored")
	conn := openAppTestDB(t)

	if errCreate := CreateAdminAccount(conn, "existing", "password"); errCreate != nil {
		t.Fatalf("CreateAdminAccount: %v", errCreate)
	}
	if errEnsure := EnsureAdmin(conn); errEnsure != nil {
		t.Fatalf("EnsureAdmin: %v", errEnsure)
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count admins: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 admin, got %d", count)
	}
}

func TestCreateAdminAccount_RejectsEmptyInput(t *testing.T) {
	conn := openAppTestDB(t)

	if errCreate := CreateAdminAccount(conn, "", "password"); errCreate == nil {
		t.Fatalf("expected error for empty username")
	}
	if errCreate := CreateAdminAccount(conn, "admin", ""); errCreate == nil {
		t.Fatalf("expected error for empty password")
	}
}
