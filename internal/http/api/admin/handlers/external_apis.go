package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apifleet/apimanager/internal/calllog"
	dbutil "github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/usage"
	"gorm.io/gorm"
)

// ExternalAPIHandler manages the legacy single-endpoint registrations.
type ExternalAPIHandler struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	recorder   *calllog.Recorder
}

// NewExternalAPIHandler constructs an ExternalAPIHandler.
func NewExternalAPIHandler(db *gorm.DB) *ExternalAPIHandler {
	return &ExternalAPIHandler{
		db:         db,
		dispatcher: dispatch.NewDispatcher(),
		recorder:   calllog.NewRecorder(db),
	}
}

// createExternalAPIRequest captures the payload for creating a registration.
type createExternalAPIRequest struct {
	Name         string                `json:"name"`         // Display name.
	Description  string                `json:"description"`  // Optional description.
	BaseURL      string                `json:"baseUrl"`      // Upstream base URL.
	EndpointPath string                `json:"endpointPath"` // Path template.
	Method       string                `json:"method"`       // HTTP method, defaults to GET.
	AuthType     string                `json:"authType"`     // Optional legacy auth type.
	AuthConfig   map[string]any        `json:"authConfig"`   // Optional legacy single descriptor.
	AuthConfigs  []dispatch.AuthConfig `json:"authConfigs"`  // Optional descriptor list.
	RateLimit    *int                  `json:"rateLimit"`    // Advisory requests per minute.
	Timeout      *int                  `json:"timeout"`      // Timeout in milliseconds.
	IsActive     *bool                 `json:"isActive"`     // Defaults to active.
}

// updateExternalAPIRequest captures optional fields for updates.
type updateExternalAPIRequest struct {
	Name         *string                `json:"name"`         // Optional display name.
	Description  *string                `json:"description"`  // Optional description.
	BaseURL      *string                `json:"baseUrl"`      // Optional base URL.
	EndpointPath *string                `json:"endpointPath"` // Optional path template.
	Method       *string                `json:"method"`       // Optional HTTP method.
	AuthType     *string                `json:"authType"`     // Optional auth type.
	AuthConfig   *map[string]any        `json:"authConfig"`   // Optional legacy descriptor.
	AuthConfigs  *[]dispatch.AuthConfig `json:"authConfigs"`  // Optional descriptor list.
	RateLimit    *int                   `json:"rateLimit"`    // Optional rate limit.
	Timeout      *int                   `json:"timeout"`      // Optional timeout.
	IsActive     *bool                  `json:"isActive"`     // Optional active flag.
}

// testExternalAPIRequest carries path parameters and an optional body for a
// test dispatch.
type testExternalAPIRequest struct {
	Params map[string]string `json:"params"` // Values for {param} placeholders.
	Body   any               `json:"body"`   // Optional request body.
}

// Create validates and inserts a registration.
func (h *ExternalAPIHandler) Create(c *gin.Context) {
	var body createExternalAPIRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		respondError(c, http.StatusBadRequest, "missing name")
		return
	}
	baseURL := strings.TrimSpace(body.BaseURL)
	if baseURL == "" {
		respondError(c, http.StatusBadRequest, "missing baseUrl")
		return
	}
	endpointPath := normalizeEndpointPath(body.EndpointPath)
	if endpointPath == "" {
		respondError(c, http.StatusBadRequest, "missing endpointPath")
		return
	}
	method := normalizeMethod(body.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedEndpointMethods[method] {
		respondError(c, http.StatusBadRequest, "invalid method")
		return
	}
	authType := strings.TrimSpace(body.AuthType)
	if authType != "" && !validAuthTypes[authType] {
		respondError(c, http.StatusBadRequest, "invalid authType")
		return
	}
	rateLimit := 60
	if body.RateLimit != nil {
		if *body.RateLimit <= 0 {
			respondError(c, http.StatusBadRequest, "invalid rateLimit")
			return
		}
		rateLimit = *body.RateLimit
	}
	timeout := 30000
	if body.Timeout != nil {
		if *body.Timeout <= 0 {
			respondError(c, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = *body.Timeout
	}

	authConfigJSON, errConfig := marshalJSON(body.AuthConfig)
	if errConfig != nil {
		respondError(c, http.StatusBadRequest, "invalid authConfig")
		return
	}
	authConfigsJSON, errConfigs := marshalJSON(body.AuthConfigs)
	if errConfigs != nil {
		respondError(c, http.StatusBadRequest, "invalid authConfigs")
		return
	}

	now := time.Now().UTC()
	row := models.ExternalAPI{
		Name:         name,
		Description:  strings.TrimSpace(body.Description),
		BaseURL:      baseURL,
		EndpointPath: endpointPath,
		Method:       method,
		AuthType:     authType,
		AuthConfig:   authConfigJSON,
		AuthConfigs:  authConfigsJSON,
		RateLimit:    rateLimit,
		Timeout:      timeout,
		IsActive:     body.IsActive == nil || *body.IsActive,
		TestStatus:   models.TestStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		respondError(c, http.StatusInternalServerError, "create external api failed")
		return
	}
	respondData(c, http.StatusCreated, formatExternalAPIRow(&row))
}

// List returns registrations, optionally filtered by search text, active
// flag, or auth type.
func (h *ExternalAPIHandler) List(c *gin.Context) {
	conn := h.db.WithContext(c.Request.Context())
	q := conn.Model(&models.ExternalAPI{})

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := dbutil.NormalizeLikePattern(conn, "%"+search+"%")
		q = q.Where(
			fmt.Sprintf("%s OR %s", dbutil.CaseInsensitiveLikeExpr(conn, "name"), dbutil.CaseInsensitiveLikeExpr(conn, "description")),
			pattern, pattern,
		)
	}
	if rawActive := strings.TrimSpace(c.Query("isActive")); rawActive != "" {
		active, errParse := strconv.ParseBool(rawActive)
		if errParse != nil {
			respondError(c, http.StatusBadRequest, "invalid isActive")
			return
		}
		q = q.Where("is_active = ?", active)
	}
	if authType := strings.TrimSpace(c.Query("authType")); authType != "" {
		q = q.Where(fmt.Sprintf("COALESCE(%s, auth_type) = ?", dbutil.JSONArrayFirstTextExpr(conn, "auth_configs", "type")), authType)
	}

	var rows []models.ExternalAPI
	if errFind := q.Order("created_at DESC, id DESC").Find(&rows).Error; errFind != nil {
		respondError(c, http.StatusInternalServerError, "list external apis failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatExternalAPIRow(&rows[i]))
	}
	respondData(c, http.StatusOK, out)
}

// Get returns one registration.
func (h *ExternalAPIHandler) Get(c *gin.Context) {
	row, ok := h.load(c)
	if !ok {
		return
	}
	respondData(c, http.StatusOK, formatExternalAPIRow(row))
}

// Update applies partial changes to a registration.
func (h *ExternalAPIHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body updateExternalAPIRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	var row models.ExternalAPI
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "external api not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load external api failed")
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			respondError(c, http.StatusBadRequest, "missing name")
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.BaseURL != nil {
		baseURL := strings.TrimSpace(*body.BaseURL)
		if baseURL == "" {
			respondError(c, http.StatusBadRequest, "missing baseUrl")
			return
		}
		updates["base_url"] = baseURL
	}
	if body.EndpointPath != nil {
		endpointPath := normalizeEndpointPath(*body.EndpointPath)
		if endpointPath == "" {
			respondError(c, http.StatusBadRequest, "missing endpointPath")
			return
		}
		updates["endpoint_path"] = endpointPath
	}
	if body.Method != nil {
		method := normalizeMethod(*body.Method)
		if !allowedEndpointMethods[method] {
			respondError(c, http.StatusBadRequest, "invalid method")
			return
		}
		updates["method"] = method
	}
	if body.AuthType != nil {
		authType := strings.TrimSpace(*body.AuthType)
		if authType != "" && !validAuthTypes[authType] {
			respondError(c, http.StatusBadRequest, "invalid authType")
			return
		}
		updates["auth_type"] = authType
	}
	if body.AuthConfig != nil {
		configJSON, errConfig := marshalJSON(*body.AuthConfig)
		if errConfig != nil {
			respondError(c, http.StatusBadRequest, "invalid authConfig")
			return
		}
		updates["auth_config"] = configJSON
	}
	if body.AuthConfigs != nil {
		configsJSON, errConfigs := marshalJSON(*body.AuthConfigs)
		if errConfigs != nil {
			respondError(c, http.StatusBadRequest, "invalid authConfigs")
			return
		}
		updates["auth_configs"] = configsJSON
	}
	if body.RateLimit != nil {
		if *body.RateLimit <= 0 {
			respondError(c, http.StatusBadRequest, "invalid rateLimit")
			return
		}
		updates["rate_limit"] = *body.RateLimit
	}
	if body.Timeout != nil {
		if *body.Timeout <= 0 {
			respondError(c, http.StatusBadRequest, "invalid timeout")
			return
		}
		updates["timeout"] = *body.Timeout
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}
	if len(updates) == 0 {
		respondError(c, http.StatusBadRequest, "no fields to update")
		return
	}
	updates["updated_at"] = time.Now().UTC()

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.ExternalAPI{}).
		Where("id = ?", id).
		Updates(updates).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "update external api failed")
		return
	}
	if errReload := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errReload != nil {
		respondError(c, http.StatusInternalServerError, "load external api failed")
		return
	}
	respondData(c, http.StatusOK, formatExternalAPIRow(&row))
}

// UpdateStatus toggles or sets the registration active flag.
func (h *ExternalAPIHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}

	// body optionally pins the flag instead of toggling it.
	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var row models.ExternalAPI
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "external api not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load external api failed")
		return
	}

	next := !row.IsActive
	if body.IsActive != nil {
		next = *body.IsActive
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.ExternalAPI{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  next,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "update status failed")
		return
	}

	row.IsActive = next
	respondData(c, http.StatusOK, formatExternalAPIRow(&row))
}

// Delete removes a registration. Call logs referencing it are kept.
func (h *ExternalAPIHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	res := h.db.WithContext(c.Request.Context()).Where("id = ?", id).Delete(&models.ExternalAPI{})
	if res.Error != nil {
		respondError(c, http.StatusInternalServerError, "delete external api failed")
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "external api not found")
		return
	}
	respondMessage(c, http.StatusOK, "external api deleted")
}

// Test dispatches one call against the registration and records the outcome.
// Inactive registrations are rejected before any outbound call.
func (h *ExternalAPIHandler) Test(c *gin.Context) {
	row, ok := h.load(c)
	if !ok {
		return
	}
	if !row.IsActive {
		respondError(c, http.StatusBadRequest, "external api is inactive")
		return
	}

	var body testExternalAPIRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var payload []byte
	if body.Body != nil {
		data, errMarshal := json.Marshal(body.Body)
		if errMarshal != nil {
			respondError(c, http.StatusBadRequest, "invalid body")
			return
		}
		payload = data
	}

	method := normalizeMethod(row.Method)
	if method == "" {
		method = http.MethodGet
	}
	configs := dispatch.ResolveAuthConfigs(row.AuthType, row.AuthConfig, row.AuthConfigs)
	req := dispatch.Request{
		Method:  method,
		URL:     dispatch.JoinURL(row.BaseURL, dispatch.RenderPath(row.EndpointPath, body.Params)),
		Headers: dispatch.BuildHeaders(configs),
		Body:    payload,
		Timeout: time.Duration(row.Timeout) * time.Millisecond,
	}

	result, errDispatch := h.dispatcher.Do(c.Request.Context(), req)
	h.recorder.RecordExternalAPICall(c.Request.Context(), row.ID, req, result, errDispatch)

	if errDispatch != nil {
		respondError(c, http.StatusInternalServerError, errDispatch.Error())
		return
	}
	if !result.OK() {
		respondError(c, http.StatusInternalServerError, fmt.Sprintf("request failed with status code %d", result.StatusCode))
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"status":     result.StatusCode,
		"statusText": http.StatusText(result.StatusCode),
		"headers":    flattenHeaders(result.Headers),
		"data":       decodeBody(result.Body),
		"duration":   result.Duration.Milliseconds(),
		"timestamp":  time.Now().UTC(),
	})
}

// Usage returns aggregated call counts for a registration.
func (h *ExternalAPIHandler) Usage(c *gin.Context) {
	row, ok := h.load(c)
	if !ok {
		return
	}
	stats, errAggregate := usage.Aggregate(c.Request.Context(), h.db, usage.ForExternalAPI(row.ID), c.Query("period"))
	if errAggregate != nil {
		respondError(c, http.StatusInternalServerError, "aggregate usage failed")
		return
	}
	respondData(c, http.StatusOK, stats)
}

// Logs returns paginated call logs for a registration, newest first.
func (h *ExternalAPIHandler) Logs(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	listCallLogs(c, h.db, func(q *gorm.DB) *gorm.DB {
		return q.Where("external_api_id = ?", id)
	})
}

// load fetches the registration addressed by the id parameter, writing the
// error response itself when the lookup fails.
func (h *ExternalAPIHandler) load(c *gin.Context) (*models.ExternalAPI, bool) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	var row models.ExternalAPI
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "external api not found")
			return nil, false
		}
		respondError(c, http.StatusInternalServerError, "load external api failed")
		return nil, false
	}
	return &row, true
}

// flattenHeaders keeps the first value of each response header.
func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) > 0 {
			flat[name] = values[0]
		}
	}
	return flat
}

// decodeBody returns parsed JSON when the body is JSON, the raw text
// otherwise.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return string(body)
}

// formatExternalAPIRow shapes a registration for API responses.
func formatExternalAPIRow(row *models.ExternalAPI) gin.H {
	return gin.H{
		"id":           row.ID,
		"name":         row.Name,
		"description":  row.Description,
		"baseUrl":      row.BaseURL,
		"endpointPath": row.EndpointPath,
		"method":       row.Method,
		"authType":     row.AuthType,
		"authConfig":   row.AuthConfig,
		"authConfigs":  row.AuthConfigs,
		"rateLimit":    row.RateLimit,
		"timeout":      row.Timeout,
		"isActive":     row.IsActive,
		"lastTested":   row.LastTested,
		"testStatus":   row.TestStatus,
		"createdAt":    row.CreatedAt,
		"updatedAt":    row.UpdatedAt,
	}
}
