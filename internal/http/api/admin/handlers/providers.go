package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	dbutil "github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/usage"
	"gorm.io/gorm"
)

// validAuthTypes enumerates the accepted auth descriptor types.
var validAuthTypes = map[string]bool{
	dispatch.AuthTypeNone:   true,
	dispatch.AuthTypeAPIKey: true,
	dispatch.AuthTypeBearer: true,
	dispatch.AuthTypeBasic:  true,
	dispatch.AuthTypeOAuth2: true,
}

// ProviderHandler manages admin CRUD for API providers and their endpoints.
type ProviderHandler struct {
	db *gorm.DB
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(db *gorm.DB) *ProviderHandler {
	return &ProviderHandler{db: db}
}

// endpointPayload defines one endpoint template in a provider payload.
type endpointPayload struct {
	Path        string `json:"path"`        // Path template, may contain {param} placeholders.
	Method      string `json:"method"`      // HTTP method.
	Name        string `json:"name"`        // Optional endpoint name.
	Description string `json:"description"` // Optional description.
	IsActive    *bool  `json:"isActive"`    // Defaults to active.
}

// createProviderRequest captures the payload for creating a provider.
type createProviderRequest struct {
	Name             string                `json:"name"`             // Unique provider name.
	Description      string                `json:"description"`      // Provider description.
	BaseURL          string                `json:"baseUrl"`          // Upstream base URL.
	DocumentationURL string                `json:"documentationUrl"` // Optional docs link.
	RequiresAuth     *bool                 `json:"requiresAuth"`     // Inferred from auth fields when omitted.
	AuthType         string                `json:"authType"`         // Optional legacy auth type.
	AuthConfig       map[string]any        `json:"authConfig"`       // Optional legacy single descriptor.
	AuthConfigs      []dispatch.AuthConfig `json:"authConfigs"`      // Optional descriptor list.
	RateLimit        *int                  `json:"rateLimit"`        // Advisory requests per minute.
	Timeout          *int                  `json:"timeout"`          // Timeout in milliseconds.
	IsActive         *bool                 `json:"isActive"`         // Defaults to active.
	Endpoints        []endpointPayload     `json:"endpoints"`        // Owned endpoint templates.
}

// updateProviderRequest captures optional fields for provider updates.
type updateProviderRequest struct {
	Name             *string                `json:"name"`             // Optional provider name.
	Description      *string                `json:"description"`      // Optional description.
	BaseURL          *string                `json:"baseUrl"`          // Optional base URL.
	DocumentationURL *string                `json:"documentationUrl"` // Optional docs link.
	RequiresAuth     *bool                  `json:"requiresAuth"`     // Optional auth requirement flag.
	AuthType         *string                `json:"authType"`         // Optional auth type.
	AuthConfig       *map[string]any        `json:"authConfig"`       // Optional legacy descriptor.
	AuthConfigs      *[]dispatch.AuthConfig `json:"authConfigs"`      // Optional descriptor list.
	RateLimit        *int                   `json:"rateLimit"`        // Optional rate limit.
	Timeout          *int                   `json:"timeout"`          // Optional timeout.
	IsActive         *bool                  `json:"isActive"`         // Optional active flag.
}

// Create validates and inserts a provider with its endpoint templates.
func (h *ProviderHandler) Create(c *gin.Context) {
	var body createProviderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		respondError(c, http.StatusBadRequest, "missing name")
		return
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		respondError(c, http.StatusBadRequest, "missing description")
		return
	}
	baseURL := strings.TrimSpace(body.BaseURL)
	if baseURL == "" {
		respondError(c, http.StatusBadRequest, "missing baseUrl")
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

	endpoints, errEndpoints := buildEndpointRows(body.Endpoints)
	if errEndpoints != nil {
		respondError(c, http.StatusBadRequest, errEndpoints.Error())
		return
	}

	var existing models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).Where("name = ?", name).First(&existing).Error; errFind == nil {
		respondError(c, http.StatusConflict, "provider name already exists")
		return
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

	requiresAuth := body.RequiresAuth != nil && *body.RequiresAuth
	if body.RequiresAuth == nil {
		requiresAuth = (authType != "" && authType != dispatch.AuthTypeNone) || len(body.AuthConfigs) > 0
	}

	now := time.Now().UTC()
	provider := models.APIProvider{
		Name:             name,
		Description:      description,
		BaseURL:          baseURL,
		DocumentationURL: strings.TrimSpace(body.DocumentationURL),
		RequiresAuth:     requiresAuth,
		AuthType:         authType,
		AuthConfig:       authConfigJSON,
		AuthConfigs:      authConfigsJSON,
		RateLimit:        rateLimit,
		Timeout:          timeout,
		IsActive:         body.IsActive == nil || *body.IsActive,
		TestStatus:       models.TestStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&provider).Error; errCreate != nil {
			return errCreate
		}
		for i := range endpoints {
			endpoints[i].ProviderID = provider.ID
			if errCreate := tx.Create(&endpoints[i]).Error; errCreate != nil {
				return errCreate
			}
		}
		return nil
	}); errTx != nil {
		if isDuplicateErr(errTx) {
			respondError(c, http.StatusConflict, "provider name already exists")
			return
		}
		respondError(c, http.StatusInternalServerError, "create provider failed")
		return
	}

	respondData(c, http.StatusCreated, formatProviderRow(&provider, endpoints))
}

// buildEndpointRows validates endpoint payloads and rejects duplicate routes.
func buildEndpointRows(payloads []endpointPayload) ([]models.APIEndpoint, error) {
	now := time.Now().UTC()
	seen := make(map[string]bool, len(payloads))
	rows := make([]models.APIEndpoint, 0, len(payloads))
	for _, payload := range payloads {
		path := normalizeEndpointPath(payload.Path)
		if path == "" {
			return nil, errors.New("missing endpoint path")
		}
		method := normalizeMethod(payload.Method)
		if !allowedEndpointMethods[method] {
			return nil, fmt.Errorf("invalid endpoint method %q", payload.Method)
		}
		route := method + " " + path
		if seen[route] {
			return nil, fmt.Errorf("duplicate endpoint %s", route)
		}
		seen[route] = true
		rows = append(rows, models.APIEndpoint{
			Path:        path,
			Method:      method,
			Name:        strings.TrimSpace(payload.Name),
			Description: strings.TrimSpace(payload.Description),
			IsActive:    payload.IsActive == nil || *payload.IsActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return rows, nil
}

// normalizeEndpointPath trims a path template and forces a leading slash.
func normalizeEndpointPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// List returns providers with their active endpoints, optionally filtered by
// search text, active flag, or auth type.
func (h *ProviderHandler) List(c *gin.Context) {
	conn := h.db.WithContext(c.Request.Context())
	q := conn.Model(&models.APIProvider{})

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

	var providers []models.APIProvider
	if errFind := q.Order("name ASC").Find(&providers).Error; errFind != nil {
		respondError(c, http.StatusInternalServerError, "list providers failed")
		return
	}

	ids := make([]uint64, 0, len(providers))
	for _, provider := range providers {
		ids = append(ids, provider.ID)
	}
	grouped, errEndpoints := h.loadEndpoints(c.Request.Context(), ids, includeInactiveEndpoints(c))
	if errEndpoints != nil {
		respondError(c, http.StatusInternalServerError, "list endpoints failed")
		return
	}

	out := make([]gin.H, 0, len(providers))
	for i := range providers {
		out = append(out, formatProviderRow(&providers[i], grouped[providers[i].ID]))
	}
	respondData(c, http.StatusOK, out)
}

// Get returns one provider with its endpoints.
func (h *ProviderHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}

	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}

	grouped, errEndpoints := h.loadEndpoints(c.Request.Context(), []uint64{id}, includeInactiveEndpoints(c))
	if errEndpoints != nil {
		respondError(c, http.StatusInternalServerError, "list endpoints failed")
		return
	}
	respondData(c, http.StatusOK, formatProviderRow(&provider, grouped[id]))
}

// Update applies partial changes to a provider.
func (h *ProviderHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body updateProviderRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			respondError(c, http.StatusBadRequest, "missing name")
			return
		}
		if name != provider.Name {
			var existing models.APIProvider
			if errFind := h.db.WithContext(c.Request.Context()).Where("name = ? AND id <> ?", name, id).First(&existing).Error; errFind == nil {
				respondError(c, http.StatusConflict, "provider name already exists")
				return
			}
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
	if body.DocumentationURL != nil {
		updates["documentation_url"] = strings.TrimSpace(*body.DocumentationURL)
	}
	if body.RequiresAuth != nil {
		updates["requires_auth"] = *body.RequiresAuth
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

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.APIProvider{}).
		Where("id = ?", id).
		Updates(updates).Error; errUpdate != nil {
		if isDuplicateErr(errUpdate) {
			respondError(c, http.StatusConflict, "provider name already exists")
			return
		}
		respondError(c, http.StatusInternalServerError, "update provider failed")
		return
	}

	if errReload := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errReload != nil {
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}
	grouped, errEndpoints := h.loadEndpoints(c.Request.Context(), []uint64{id}, includeInactiveEndpoints(c))
	if errEndpoints != nil {
		respondError(c, http.StatusInternalServerError, "list endpoints failed")
		return
	}
	respondData(c, http.StatusOK, formatProviderRow(&provider, grouped[id]))
}

// UpdateStatus toggles or sets the provider active flag.
func (h *ProviderHandler) UpdateStatus(c *gin.Context) {
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

	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}

	next := !provider.IsActive
	if body.IsActive != nil {
		next = *body.IsActive
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.APIProvider{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  next,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "update status failed")
		return
	}

	provider.IsActive = next
	respondData(c, http.StatusOK, formatProviderRow(&provider, nil))
}

// Delete removes a provider and its endpoints. Call logs referencing the
// provider are kept.
func (h *ProviderHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errEndpoints := tx.Where("provider_id = ?", id).Delete(&models.APIEndpoint{}).Error; errEndpoints != nil {
			return errEndpoints
		}
		res := tx.Where("id = ?", id).Delete(&models.APIProvider{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "delete provider failed")
		return
	}
	respondMessage(c, http.StatusOK, "provider deleted")
}

// CreateEndpoint adds one endpoint template to a provider.
func (h *ProviderHandler) CreateEndpoint(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var body endpointPayload
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	path := normalizeEndpointPath(body.Path)
	if path == "" {
		respondError(c, http.StatusBadRequest, "missing endpoint path")
		return
	}
	method := normalizeMethod(body.Method)
	if !allowedEndpointMethods[method] {
		respondError(c, http.StatusBadRequest, "invalid endpoint method")
		return
	}

	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}

	var existing models.APIEndpoint
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("provider_id = ? AND path = ? AND method = ?", id, path, method).
		First(&existing).Error; errFind == nil {
		respondError(c, http.StatusConflict, "endpoint already exists")
		return
	}

	now := time.Now().UTC()
	endpoint := models.APIEndpoint{
		ProviderID:  id,
		Path:        path,
		Method:      method,
		Name:        strings.TrimSpace(body.Name),
		Description: strings.TrimSpace(body.Description),
		IsActive:    body.IsActive == nil || *body.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&endpoint).Error; errCreate != nil {
		if isDuplicateErr(errCreate) {
			respondError(c, http.StatusConflict, "endpoint already exists")
			return
		}
		respondError(c, http.StatusInternalServerError, "create endpoint failed")
		return
	}
	respondData(c, http.StatusCreated, formatEndpointRow(&endpoint))
}

// UpdateEndpoint applies partial changes to an endpoint template.
func (h *ProviderHandler) UpdateEndpoint(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	endpointID, okEndpoint := parseIDParam(c.Param("endpointId"))
	if !okEndpoint {
		respondError(c, http.StatusBadRequest, "invalid endpoint id")
		return
	}

	// body carries optional endpoint fields.
	var body struct {
		Path        *string `json:"path"`
		Method      *string `json:"method"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		IsActive    *bool   `json:"isActive"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}

	var endpoint models.APIEndpoint
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND provider_id = ?", endpointID, id).
		First(&endpoint).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "endpoint not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load endpoint failed")
		return
	}

	nextPath := endpoint.Path
	nextMethod := endpoint.Method
	updates := map[string]any{}
	if body.Path != nil {
		nextPath = normalizeEndpointPath(*body.Path)
		if nextPath == "" {
			respondError(c, http.StatusBadRequest, "missing endpoint path")
			return
		}
		updates["path"] = nextPath
	}
	if body.Method != nil {
		nextMethod = normalizeMethod(*body.Method)
		if !allowedEndpointMethods[nextMethod] {
			respondError(c, http.StatusBadRequest, "invalid endpoint method")
			return
		}
		updates["method"] = nextMethod
	}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}
	if len(updates) == 0 {
		respondError(c, http.StatusBadRequest, "no fields to update")
		return
	}

	if nextPath != endpoint.Path || nextMethod != endpoint.Method {
		var existing models.APIEndpoint
		if errFind := h.db.WithContext(c.Request.Context()).
			Where("provider_id = ? AND path = ? AND method = ? AND id <> ?", id, nextPath, nextMethod, endpointID).
			First(&existing).Error; errFind == nil {
			respondError(c, http.StatusConflict, "endpoint already exists")
			return
		}
	}
	updates["updated_at"] = time.Now().UTC()

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.APIEndpoint{}).
		Where("id = ?", endpointID).
		Updates(updates).Error; errUpdate != nil {
		if isDuplicateErr(errUpdate) {
			respondError(c, http.StatusConflict, "endpoint already exists")
			return
		}
		respondError(c, http.StatusInternalServerError, "update endpoint failed")
		return
	}

	if errReload := h.db.WithContext(c.Request.Context()).First(&endpoint, endpointID).Error; errReload != nil {
		respondError(c, http.StatusInternalServerError, "load endpoint failed")
		return
	}
	respondData(c, http.StatusOK, formatEndpointRow(&endpoint))
}

// DeleteEndpoint removes one endpoint template.
func (h *ProviderHandler) DeleteEndpoint(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	endpointID, okEndpoint := parseIDParam(c.Param("endpointId"))
	if !okEndpoint {
		respondError(c, http.StatusBadRequest, "invalid endpoint id")
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND provider_id = ?", endpointID, id).
		Delete(&models.APIEndpoint{})
	if res.Error != nil {
		respondError(c, http.StatusInternalServerError, "delete endpoint failed")
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "endpoint not found")
		return
	}
	respondMessage(c, http.StatusOK, "endpoint deleted")
}

// Usage returns aggregated call counts for a provider.
func (h *ProviderHandler) Usage(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "provider not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load provider failed")
		return
	}

	stats, errAggregate := usage.Aggregate(c.Request.Context(), h.db, usage.ForProvider(id), c.Query("period"))
	if errAggregate != nil {
		respondError(c, http.StatusInternalServerError, "aggregate usage failed")
		return
	}
	respondData(c, http.StatusOK, stats)
}

// Logs returns paginated call logs for a provider, newest first.
func (h *ProviderHandler) Logs(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	listCallLogs(c, h.db, func(q *gorm.DB) *gorm.DB {
		return q.Where("provider_id = ?", id)
	})
}

// includeInactiveEndpoints reports whether the listing should include
// inactive endpoint templates.
func includeInactiveEndpoints(c *gin.Context) bool {
	include, errParse := strconv.ParseBool(strings.TrimSpace(c.Query("includeInactive")))
	return errParse == nil && include
}

// loadEndpoints fetches endpoint templates grouped by provider ID.
func (h *ProviderHandler) loadEndpoints(ctx context.Context, providerIDs []uint64, includeInactive bool) (map[uint64][]models.APIEndpoint, error) {
	grouped := make(map[uint64][]models.APIEndpoint, len(providerIDs))
	if len(providerIDs) == 0 {
		return grouped, nil
	}
	for _, providerID := range providerIDs {
		grouped[providerID] = []models.APIEndpoint{}
	}
	q := h.db.WithContext(ctx).Where("provider_id IN ?", providerIDs)
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var endpoints []models.APIEndpoint
	if errFind := q.Order("provider_id ASC, path ASC, method ASC").Find(&endpoints).Error; errFind != nil {
		return nil, errFind
	}
	for _, endpoint := range endpoints {
		grouped[endpoint.ProviderID] = append(grouped[endpoint.ProviderID], endpoint)
	}
	return grouped, nil
}

// formatProviderRow shapes a provider for API responses. A nil endpoints
// slice omits the endpoints key entirely.
func formatProviderRow(row *models.APIProvider, endpoints []models.APIEndpoint) gin.H {
	out := gin.H{
		"id":               row.ID,
		"name":             row.Name,
		"description":      row.Description,
		"baseUrl":          row.BaseURL,
		"documentationUrl": row.DocumentationURL,
		"requiresAuth":     row.RequiresAuth,
		"authType":         row.AuthType,
		"authConfig":       row.AuthConfig,
		"authConfigs":      row.AuthConfigs,
		"rateLimit":        row.RateLimit,
		"timeout":          row.Timeout,
		"isActive":         row.IsActive,
		"lastTested":       row.LastTested,
		"testStatus":       row.TestStatus,
		"createdAt":        row.CreatedAt,
		"updatedAt":        row.UpdatedAt,
	}
	if endpoints != nil {
		rows := make([]gin.H, 0, len(endpoints))
		for i := range endpoints {
			rows = append(rows, formatEndpointRow(&endpoints[i]))
		}
		out["endpoints"] = rows
	}
	return out
}

// formatEndpointRow shapes an endpoint template for API responses.
func formatEndpointRow(row *models.APIEndpoint) gin.H {
	return gin.H{
		"id":          row.ID,
		"providerId":  row.ProviderID,
		"path":        row.Path,
		"method":      row.Method,
		"name":        row.Name,
		"description": row.Description,
		"isActive":    row.IsActive,
		"createdAt":   row.CreatedAt,
		"updatedAt":   row.UpdatedAt,
	}
}
