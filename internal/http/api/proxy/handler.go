package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/calllog"
	"github.com/apifleet/apimanager/internal/dispatch"
	"github.com/apifleet/apimanager/internal/models"
)

// ProxyHandler forwards caller requests to registered upstream APIs.
type ProxyHandler struct {
	db         *gorm.DB
	dispatcher *dispatch.Dispatcher
	recorder   *calllog.Recorder
}

// NewProxyHandler constructs a ProxyHandler.
func NewProxyHandler(db *gorm.DB) *ProxyHandler {
	return &ProxyHandler{
		db:         db,
		dispatcher: dispatch.NewDispatcher(),
		recorder:   calllog.NewRecorder(db),
	}
}

// Provider forwards a request through a provider endpoint. The request path
// is matched against the provider's active endpoint templates.
func (h *ProxyHandler) Provider(c *gin.Context) {
	providerID, okID := parseID(c.Param("providerId"))
	if !okID {
		respondError(c, http.StatusBadRequest, "invalid provider id")
		return
	}

	var provider models.APIProvider
	if errFind := h.db.WithContext(c.Request.Context()).First(&provider, providerID).Error; errFind != nil {
		respondError(c, http.StatusNotFound, "provider not found")
		return
	}
	if !provider.IsActive {
		respondError(c, http.StatusBadRequest, "provider is inactive")
		return
	}

	var endpoints []models.APIEndpoint
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("provider_id = ? AND is_active = ?", provider.ID, true).
		Order("id ASC").
		Find(&endpoints).Error; errFind != nil {
		respondError(c, http.StatusInternalServerError, "load endpoints failed")
		return
	}

	endpoint, params := matchEndpoint(endpoints, c.Request.Method, c.Param("endpointPath"))
	if endpoint == nil {
		respondError(c, http.StatusNotFound, "no matching endpoint")
		return
	}

	body, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		respondError(c, http.StatusBadRequest, "read request body failed")
		return
	}

	url := dispatch.JoinURL(provider.BaseURL, dispatch.RenderPath(endpoint.Path, params))
	if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
		url += "?" + rawQuery
	}

	configs := dispatch.ResolveAuthConfigs(provider.AuthType, provider.AuthConfig, provider.AuthConfigs)
	req := dispatch.Request{
		Method:  endpoint.Method,
		URL:     url,
		Headers: dispatch.ResolveHeaders(provider.RequiresAuth, configs),
		Body:    body,
		Timeout: time.Duration(provider.Timeout) * time.Millisecond,
	}

	result, errDispatch := h.dispatcher.Do(c.Request.Context(), req)
	h.recorder.RecordProviderCall(c.Request.Context(), provider.ID, &endpoint.ID, req, result, errDispatch)
	h.respondUpstream(c, result, errDispatch)
}

// Dynamic forwards a request through a legacy single-endpoint registration.
// Query parameters fill the stored path template.
func (h *ProxyHandler) Dynamic(c *gin.Context) {
	apiID, okID := parseID(c.Param("externalApiId"))
	if !okID {
		respondError(c, http.StatusBadRequest, "invalid external api id")
		return
	}

	var row models.ExternalAPI
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, apiID).Error; errFind != nil {
		respondError(c, http.StatusNotFound, "external api not found")
		return
	}
	if !row.IsActive {
		respondError(c, http.StatusBadRequest, "external api is inactive")
		return
	}

	params := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	body, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		respondError(c, http.StatusBadRequest, "read request body failed")
		return
	}

	method := strings.ToUpper(strings.TrimSpace(row.Method))
	if method == "" {
		method = http.MethodGet
	}

	configs := dispatch.ResolveAuthConfigs(row.AuthType, row.AuthConfig, row.AuthConfigs)
	req := dispatch.Request{
		Method:  method,
		URL:     dispatch.JoinURL(row.BaseURL, dispatch.RenderPath(row.EndpointPath, params)),
		Headers: dispatch.BuildHeaders(configs),
		Body:    body,
		Timeout: time.Duration(row.Timeout) * time.Millisecond,
	}

	result, errDispatch := h.dispatcher.Do(c.Request.Context(), req)
	h.recorder.RecordExternalAPICall(c.Request.Context(), row.ID, req, result, errDispatch)
	h.respondUpstream(c, result, errDispatch)
}

// respondUpstream translates a dispatch outcome into the caller response. The
// upstream status code is propagated on any received response.
func (h *ProxyHandler) respondUpstream(c *gin.Context, result dispatch.Result, errDispatch error) {
	if errDispatch != nil {
		respondError(c, http.StatusInternalServerError, errDispatch.Error())
		return
	}
	c.JSON(result.StatusCode, gin.H{
		"success": result.OK(),
		"data":    decodeBody(result.Body),
	})
}

// matchEndpoint finds the first endpoint whose method and path template match
// the request, binding placeholder values from the request path.
func matchEndpoint(endpoints []models.APIEndpoint, method, path string) (*models.APIEndpoint, map[string]string) {
	method = strings.ToUpper(strings.TrimSpace(method))
	actual := splitPath(path)
	for i := range endpoints {
		if endpoints[i].Method != method {
			continue
		}
		params, ok := bindTemplate(splitPath(endpoints[i].Path), actual)
		if !ok {
			continue
		}
		return &endpoints[i], params
	}
	return nil, nil
}

// bindTemplate matches template segments against request segments. A segment
// of the form {name} binds the request value; all others must match exactly.
func bindTemplate(template, actual []string) (map[string]string, bool) {
	if len(template) != len(actual) {
		return nil, false
	}
	params := map[string]string{}
	for i, segment := range template {
		if len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			params[segment[1:len(segment)-1]] = actual[i]
			continue
		}
		if segment != actual[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(strings.TrimSpace(p), "/"), "/")
}

func parseID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// decodeBody returns parsed JSON when the body is valid JSON, else the raw
// body as a string.
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
