package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
	"gorm.io/gorm"
)

// APIKeyHandler manages the proxy access keys.
type APIKeyHandler struct {
	db *gorm.DB
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB) *APIKeyHandler {
	return &APIKeyHandler{db: db}
}

// Create issues a new proxy access key. The full key value is returned only
// in this response.
func (h *APIKeyHandler) Create(c *gin.Context) {
	// body holds the create request payload.
	var body struct {
		Name string `json:"name"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respondError(c, http.StatusBadRequest, "invalid json")
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		respondError(c, http.StatusBadRequest, "missing name")
		return
	}

	token, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		respondError(c, http.StatusInternalServerError, "generate api key failed")
		return
	}
	now := time.Now().UTC()
	row := models.APIKey{
		Name:      name,
		APIKey:    token,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		respondError(c, http.StatusInternalServerError, "create api key failed")
		return
	}
	respondData(c, http.StatusCreated, gin.H{
		"id":        row.ID,
		"name":      row.Name,
		"key":       token,
		"active":    row.Active,
		"createdAt": row.CreatedAt,
	})
}

// List returns all proxy access keys with masked key material.
func (h *APIKeyHandler) List(c *gin.Context) {
	var rows []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Find(&rows).Error; errFind != nil {
		respondError(c, http.StatusInternalServerError, "list api keys failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"name":       row.Name,
			"keyPrefix":  maskAPIKey(row.APIKey),
			"active":     row.Active,
			"lastUsedAt": row.LastUsedAt,
			"createdAt":  row.CreatedAt,
			"updatedAt":  row.UpdatedAt,
		})
	}
	respondData(c, http.StatusOK, out)
}

// UpdateStatus toggles or sets the key active flag.
func (h *APIKeyHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}

	// body optionally pins the flag instead of toggling it.
	var body struct {
		Active *bool `json:"active"`
	}
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			respondError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}

	var row models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "api key not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "load api key failed")
		return
	}

	next := !row.Active
	if body.Active != nil {
		next = *body.Active
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     next,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		respondError(c, http.StatusInternalServerError, "update status failed")
		return
	}
	respondData(c, http.StatusOK, gin.H{"id": id, "active": next})
}

// Revoke deactivates a key by ID.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, ok := parseIDParam(c.Param("id"))
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid id")
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		respondError(c, http.StatusInternalServerError, "revoke failed")
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, http.StatusNotFound, "api key not found")
		return
	}
	respondMessage(c, http.StatusOK, "api key revoked")
}

// maskAPIKey hides the middle of a key, keeping a recognizable prefix.
func maskAPIKey(key string) string {
	if len(key) < 8 {
		return ""
	}
	return key[:8] + "········" + key[len(key)-4:]
}
