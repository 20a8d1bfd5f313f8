package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

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

func createExternalAPI(t *testing.T, conn *gorm.DB, api models.ExternalAPI) models.ExternalAPI {
	t.Helper()
	if api.RateLimit == 0 {
		api.RateLimit = 60
	}
	if api.Timeout == 0 {
		api.Timeout = 5000
	}
	if err := conn.Create(&api).Error; err != nil {
		t.Fatalf("create external api: %v", err)
	}
	return api
}

func TestCheckOnce_ProbesActiveAPIs(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := openTestDB(t)
	probed := createExternalAPI(t, conn, models.ExternalAPI{Name: "ping", BaseURL: server.URL, EndpointPath: "/ping", Method: "GET", IsActive: true})
	createExternalAPI(t, conn, models.ExternalAPI{Name: "templated", BaseURL: server.URL, EndpointPath: "/todos/{id}", Method: "GET", IsActive: true})
	createExternalAPI(t, conn, models.ExternalAPI{Name: "disabled", BaseURL: server.URL, EndpointPath: "/off", Method: "GET", IsActive: false})

	checker := NewChecker(conn, time.Minute)
	if err := checker.CheckOnce(context.Background()); err != nil {
		t.Fatalf("check once: %v", err)
	}

	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", got)
	}

	var rows []models.CallLog
	if err := conn.Find(&rows).Error; err != nil {
		t.Fatalf("load call logs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 call log row, got %d", len(rows))
	}
	if rows[0].ExternalAPIID == nil || *rows[0].ExternalAPIID != probed.ID {
		t.Fatalf("expected probe for api %d, got %v", probed.ID, rows[0].ExternalAPIID)
	}
	if !rows[0].Success {
		t.Fatalf("expected successful probe row")
	}

	var reloaded models.ExternalAPI
	if err := conn.First(&reloaded, probed.ID).Error; err != nil {
		t.Fatalf("reload api: %v", err)
	}
	if reloaded.TestStatus != "success" {
		t.Fatalf("expected test status success, got %q", reloaded.TestStatus)
	}
}

func TestCheckOnce_RecordsFailedProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close()

	conn := openTestDB(t)
	api := createExternalAPI(t, conn, models.ExternalAPI{Name: "dead", BaseURL: server.URL, EndpointPath: "/ping", Method: "GET", IsActive: true})

	checker := NewChecker(conn, time.Minute)
	if err := checker.CheckOnce(context.Background()); err != nil {
		t.Fatalf("check once: %v", err)
	}

	var row models.CallLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if row.Success {
		t.Fatalf("expected failed probe row")
	}
	if row.ErrorMessage == "" {
		t.Fatalf("expected error message recorded")
	}

	var reloaded models.ExternalAPI
	if err := conn.First(&reloaded, api.ID).Error; err != nil {
		t.Fatalf("reload api: %v", err)
	}
	if reloaded.TestStatus != "error" {
		t.Fatalf("expected test status error, got %q", reloaded.TestStatus)
	}
}

func TestStart_DisabledInterval(t *testing.T) {
	conn := openTestDB(t)
	createExternalAPI(t, conn, models.ExternalAPI{Name: "ping", BaseURL: "http://127.0.0.1:1", EndpointPath: "/ping", Method: "GET", IsActive: true})

	checker := NewChecker(conn, 0)
	checker.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	var count int64
	if err := conn.Model(&models.CallLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no probes when disabled, got %d", count)
	}
}

func TestStart_RunsInitialSweep(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := openTestDB(t)
	createExternalAPI(t, conn, models.ExternalAPI{Name: "ping", BaseURL: server.URL, EndpointPath: "/ping", Method: "GET", IsActive: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := NewChecker(conn, time.Hour)
	checker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hits.Load() == 0 {
		t.Fatalf("expected initial sweep to probe the api")
	}
}
