package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/config"
	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testJWT = config.JWTConfig{Secret: "admin-test-secret", Expiry: time.Hour}

// envelope mirrors the response wrapper for decoding in tests.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestEngine(t *testing.T, conn *gorm.DB) *gin.Engine {
	t.Helper()
	engine := gin.New()
	RegisterAdminRoutes(engine, conn, testJWT)
	return engine
}

func createAdmin(t *testing.T, conn *gorm.DB, username, password string) models.Admin {
	t.Helper()
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	now := time.Now().UTC()
	admin := models.Admin{Username: username, PasswordHash: hash, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := conn.Create(&admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return admin
}

func request(t *testing.T, engine *gin.Engine, method, target, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var decoded envelope
	if rec.Body.Len() > 0 {
		if errDecode := json.Unmarshal(rec.Body.Bytes(), &decoded); errDecode != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), errDecode)
		}
	}
	return rec.Code, decoded
}

func login(t *testing.T, engine *gin.Engine, username, password string) string {
	t.Helper()
	status, resp := request(t, engine, http.MethodPost, "/api/auth/login", "",
		fmt.Sprintf(`{"username":%q,"password":%q}`, username, password))
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d %q", status, resp.Message)
	}
	var session struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(resp.Data, &session); errDecode != nil {
		t.Fatalf("decode session: %v", errDecode)
	}
	if session.Token == "" {
		t.Fatalf("login returned empty token")
	}
	return session.Token
}

func TestAdminRoutes_RejectBadAuthHeaders(t *testing.T) {
	conn := openTestDB(t)
	engine := newTestEngine(t, conn)

	cases := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Token abc", http.StatusUnauthorized, "invalid authorization format"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "empty token"},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized, "invalid token"},
	}
	for _, tc := range cases {
		status, resp := request(t, engine, http.MethodGet, "/api/api-providers", tc.header, "")
		if status != tc.status || resp.Success {
			t.Fatalf("%s: expected %d failure, got %d %+v", tc.name, tc.status, status, resp)
		}
		if resp.Message != tc.message {
			t.Fatalf("%s: expected message %q, got %q", tc.name, tc.message, resp.Message)
		}
	}
}

func TestAdminRoutes_LoginThenAccess(t *testing.T) {
	conn := openTestDB(t)
	engine := newTestEngine(t, conn)
	admin := createAdmin(t, conn, "root", "hunter22")

	token := login(t, engine, "root", "hunter22")

	status, resp := request(t, engine, http.MethodGet, "/api/auth/me", "Bearer "+token, "")
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("me: expected 200 success, got %d %q", status, resp.Message)
	}
	var profile struct {
		ID       uint64 `json:"id"`
		Username string `json:"username"`
	}
	if errDecode := json.Unmarshal(resp.Data, &profile); errDecode != nil {
		t.Fatalf("decode profile: %v", errDecode)
	}
	if profile.ID != admin.ID || profile.Username != "root" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	status, resp = request(t, engine, http.MethodPost, "/api/api-providers", "Bearer "+token,
		`{"name":"jsonplaceholder","description":"fake rest api","baseUrl":"https://jsonplaceholder.typicode.com"}`)
	if status != http.StatusCreated || !resp.Success {
		t.Fatalf("create provider: expected 201, got %d %q", status, resp.Message)
	}

	status, resp = request(t, engine, http.MethodGet, "/healthz", "", "")
	if status != http.StatusOK {
		t.Fatalf("healthz: expected 200 without auth, got %d %q", status, resp.Message)
	}
}

func TestAdminRoutes_RejectStaleAdmins(t *testing.T) {
	conn := openTestDB(t)
	engine := newTestEngine(t, conn)
	admin := createAdmin(t, conn, "root", "hunter22")
	token := login(t, engine, "root", "hunter22")

	if err := conn.Model(&models.Admin{}).Where("id = ?", admin.ID).Update("active", false).Error; err != nil {
		t.Fatalf("disable admin: %v", err)
	}
	status, resp := request(t, engine, http.MethodGet, "/api/auth/me", "Bearer "+token, "")
	if status != http.StatusForbidden || resp.Message != "admin disabled" {
		t.Fatalf("expected 403 for disabled admin, got %d %q", status, resp.Message)
	}

	if err := conn.Delete(&models.Admin{}, admin.ID).Error; err != nil {
		t.Fatalf("delete admin: %v", err)
	}
	status, resp = request(t, engine, http.MethodGet, "/api/auth/me", "Bearer "+token, "")
	if status != http.StatusUnauthorized || resp.Message != "admin not found" {
		t.Fatalf("expected 401 for deleted admin, got %d %q", status, resp.Message)
	}
}
