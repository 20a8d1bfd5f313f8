package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/models"
)

// RegisterProxyRoutes registers the key-protected proxy routes.
func RegisterProxyRoutes(r *gin.Engine, db *gorm.DB) {
	if r == nil || db == nil {
		return
	}

	handler := NewProxyHandler(db)
	group := r.Group("/api/proxy")
	group.Use(apiKeyAuthMiddleware(db))
	group.Any("/provider/:providerId/*endpointPath", handler.Provider)
	group.Any("/dynamic/:externalApiId", handler.Dynamic)
}

// apiKeyAuthMiddleware validates the X-API-Key header against stored keys.
func apiKeyAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if rawKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing api key"})
			return
		}

		var key models.APIKey
		if errFind := db.WithContext(c.Request.Context()).Where("api_key = ?", rawKey).First(&key).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid api key"})
			return
		}
		if !key.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "api key disabled"})
			return
		}

		now := time.Now().UTC()
		if errUpdate := db.WithContext(c.Request.Context()).
			Model(&models.APIKey{}).
			Where("id = ?", key.ID).
			Updates(map[string]any{"last_used_at": now, "updated_at": now}).Error; errUpdate != nil {
			log.WithError(errUpdate).Warn("update api key usage failed")
		}

		c.Set("apiKeyID", key.ID)
		c.Next()
	}
}
