package handlers

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/db"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// apiResponse mirrors the response envelope for decoding in tests.
type apiResponse struct {
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

// doJSON sends a request with a JSON-encoded payload and decodes the response
// envelope. A nil payload sends an empty body.
func doJSON(t *testing.T, router *gin.Engine, method, target string, payload any) (int, apiResponse) {
	t.Helper()
	raw := ""
	if payload != nil {
		data, errMarshal := json.Marshal(payload)
		if errMarshal != nil {
			t.Fatalf("marshal payload: %v", errMarshal)
		}
		raw = string(data)
	}
	return doRaw(t, router, method, target, raw)
}

// doRaw sends a request with a literal body and decodes the response envelope.
func doRaw(t *testing.T, router *gin.Engine, method, target, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded apiResponse
	if rec.Body.Len() > 0 {
		if errDecode := json.Unmarshal(rec.Body.Bytes(), &decoded); errDecode != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), errDecode)
		}
	}
	return rec.Code, decoded
}

// decodeData unmarshals the envelope data payload into out, which must be a
// pointer.
func decodeData(t *testing.T, resp apiResponse, out any) {
	t.Helper()
	if len(resp.Data) == 0 {
		t.Fatalf("response has no data payload")
	}
	if errDecode := json.Unmarshal(resp.Data, out); errDecode != nil {
		t.Fatalf("decode data %q: %v", string(resp.Data), errDecode)
	}
}
