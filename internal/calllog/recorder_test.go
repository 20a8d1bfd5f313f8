package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/dispatch"
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

func createProvider(t *testing.T, conn *gorm.DB) models.APIProvider {
	t.Helper()
	provider := models.APIProvider{
		Name:      "test-provider",
		BaseURL:   "https://api.example.com",
		RateLimit: 60,
		Timeout:   30000,
		IsActive:  true,
	}
	if err := conn.Create(&provider).Error; err != nil {
		t.Fatalf("create provider: %v", err)
	}
	return provider
}

func TestRecorder_RecordProviderCall_Success(t *testing.T) {
	conn := openTestDB(t)
	provider := createProvider(t, conn)

	recorder := &Recorder{db: conn, now: time.Now}
	req := dispatch.Request{Method: http.MethodGet, URL: "https://api.example.com/todos/1"}
	result := dispatch.Result{
		StatusCode: 200,
		Status:     "200 OK",
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"id":1}`),
		Duration:   42 * time.Millisecond,
	}
	recorder.RecordProviderCall(context.Background(), provider.ID, nil, req, result, nil)

	var row models.CallLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if row.ProviderID == nil || *row.ProviderID != provider.ID {
		t.Fatalf("expected provider id %d, got %v", provider.ID, row.ProviderID)
	}
	if !row.Success || row.StatusCode != 200 {
		t.Fatalf("expected successful row, got success=%v status=%d", row.Success, row.StatusCode)
	}
	if row.DurationMs != 42 {
		t.Fatalf("expected 42ms, got %d", row.DurationMs)
	}
	if row.ResponseSize != int64(len(`{"id":1}`)) {
		t.Fatalf("unexpected response size %d", row.ResponseSize)
	}

	var headers map[string]string
	if err := json.Unmarshal(row.ResponseHeaders, &headers); err != nil {
		t.Fatalf("decode headers: %v", err)
	}
	if headers["Content-Type"] != "application/json" {
		t.Fatalf("expected content type header, got %v", headers)
	}

	var reloaded models.APIProvider
	if err := conn.First(&reloaded, provider.ID).Error; err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	if reloaded.TestStatus != models.TestStatusSuccess {
		t.Fatalf("expected test status success, got %q", reloaded.TestStatus)
	}
	if reloaded.LastTested == nil {
		t.Fatalf("expected last tested to be set")
	}
}

func TestRecorder_RecordProviderCall_Failure(t *testing.T) {
	conn := openTestDB(t)
	provider := createProvider(t, conn)

	recorder := NewRecorder(conn)
	req := dispatch.Request{Method: http.MethodGet, URL: "https://api.example.com/down"}
	result := dispatch.Result{Duration: 5 * time.Millisecond}
	recorder.RecordProviderCall(context.Background(), provider.ID, nil, req, result, errors.New("dispatch: do request: connection refused"))

	var row models.CallLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if row.Success {
		t.Fatalf("expected failed row")
	}
	if row.StatusCode != 0 {
		t.Fatalf("expected zero status, got %d", row.StatusCode)
	}
	if row.ResponseSize != 0 {
		t.Fatalf("expected zero response size, got %d", row.ResponseSize)
	}
	if row.ErrorMessage == "" {
		t.Fatalf("expected error message recorded")
	}

	var reloaded models.APIProvider
	if err := conn.First(&reloaded, provider.ID).Error; err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	if reloaded.TestStatus != models.TestStatusError {
		t.Fatalf("expected test status error, got %q", reloaded.TestStatus)
	}
}

func TestRecorder_RecordProviderCall_UpstreamStatusError(t *testing.T) {
	conn := openTestDB(t)
	provider := createProvider(t, conn)

	recorder := NewRecorder(conn)
	req := dispatch.Request{Method: http.MethodGet, URL: "https://api.example.com/missing"}
	result := dispatch.Result{
		StatusCode: 404,
		Status:     "404 Not Found",
		Body:       []byte(`{"error":"not found"}`),
		Duration:   3 * time.Millisecond,
	}
	recorder.RecordProviderCall(context.Background(), provider.ID, nil, req, result, nil)

	var row models.CallLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if row.Success {
		t.Fatalf("expected failed row for 404")
	}
	if row.StatusCode != 404 {
		t.Fatalf("expected status 404, got %d", row.StatusCode)
	}
	if row.ErrorMessage != "upstream returned status 404" {
		t.Fatalf("expected upstream status message, got %q", row.ErrorMessage)
	}

	var reloaded models.APIProvider
	if err := conn.First(&reloaded, provider.ID).Error; err != nil {
		t.Fatalf("reload provider: %v", err)
	}
	if reloaded.TestStatus != models.TestStatusError {
		t.Fatalf("expected test status error, got %q", reloaded.TestStatus)
	}
}

func TestRecorder_RecordExternalAPICall(t *testing.T) {
	conn := openTestDB(t)
	api := models.ExternalAPI{Name: "legacy", BaseURL: "https://api.example.com", EndpointPath: "/ping", Method: "GET", RateLimit: 60, Timeout: 30000, IsActive: true}
	if err := conn.Create(&api).Error; err != nil {
		t.Fatalf("create external api: %v", err)
	}

	recorder := NewRecorder(conn)
	req := dispatch.Request{Method: http.MethodGet, URL: "https://api.example.com/ping"}
	result := dispatch.Result{StatusCode: 204, Status: "204 No Content", Duration: time.Millisecond}
	recorder.RecordExternalAPICall(context.Background(), api.ID, req, result, nil)

	var row models.CallLog
	if err := conn.First(&row).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if row.ExternalAPIID == nil || *row.ExternalAPIID != api.ID {
		t.Fatalf("expected external api id %d, got %v", api.ID, row.ExternalAPIID)
	}
	if row.ProviderID != nil {
		t.Fatalf("expected no provider id, got %v", row.ProviderID)
	}
	if !row.Success {
		t.Fatalf("expected 204 to count as success")
	}
}

func TestRecorder_PurgeOlderThan(t *testing.T) {
	conn := openTestDB(t)

	old := models.CallLog{Method: "GET", URL: "https://api.example.com/old", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := models.CallLog{Method: "GET", URL: "https://api.example.com/recent", CreatedAt: time.Now().UTC()}
	if err := conn.Create(&old).Error; err != nil {
		t.Fatalf("create old row: %v", err)
	}
	if err := conn.Create(&recent).Error; err != nil {
		t.Fatalf("create recent row: %v", err)
	}

	recorder := NewRecorder(conn)
	removed, err := recorder.PurgeOlderThan(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	var count int64
	if err := conn.Model(&models.CallLog{}).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining row, got %d", count)
	}
}
