package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/apifleet/apimanager/internal/config"
	handlers "github.com/apifleet/apimanager/internal/http/api/admin/handlers"
	"github.com/apifleet/apimanager/internal/models"
	"github.com/apifleet/apimanager/internal/security"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	apiGroup := r.Group("/api")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	apiGroup.POST("/auth/login", authHandler.Login)

	authed := apiGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	authed.GET("/auth/me", authHandler.Me)
	authed.POST("/auth/totp/prepare", authHandler.PrepareTOTP)
	authed.POST("/auth/totp/confirm", authHandler.ConfirmTOTP)
	authed.POST("/auth/totp/disable", authHandler.DisableTOTP)

	providerHandler := handlers.NewProviderHandler(db)
	authed.POST("/api-providers", providerHandler.Create)
	authed.GET("/api-providers", providerHandler.List)
	authed.GET("/api-providers/:id", providerHandler.Get)
	authed.PUT("/api-providers/:id", providerHandler.Update)
	authed.DELETE("/api-providers/:id", providerHandler.Delete)
	authed.PATCH("/api-providers/:id/status", providerHandler.UpdateStatus)
	authed.POST("/api-providers/:id/endpoints", providerHandler.CreateEndpoint)
	authed.PUT("/api-providers/:id/endpoints/:endpointId", providerHandler.UpdateEndpoint)
	authed.DELETE("/api-providers/:id/endpoints/:endpointId", providerHandler.DeleteEndpoint)
	authed.GET("/api-providers/:id/usage", providerHandler.Usage)
	authed.GET("/api-providers/:id/logs", providerHandler.Logs)

	externalAPIHandler := handlers.NewExternalAPIHandler(db)
	authed.POST("/external-apis", externalAPIHandler.Create)
	authed.GET("/external-apis", externalAPIHandler.List)
	authed.GET("/external-apis/:id", externalAPIHandler.Get)
	authed.PUT("/external-apis/:id", externalAPIHandler.Update)
	authed.DELETE("/external-apis/:id", externalAPIHandler.Delete)
	authed.PATCH("/external-apis/:id/status", externalAPIHandler.UpdateStatus)
	authed.POST("/external-apis/:id/test", externalAPIHandler.Test)
	authed.GET("/external-apis/:id/usage", externalAPIHandler.Usage)
	authed.GET("/external-apis/:id/logs", externalAPIHandler.Logs)

	apiKeyHandler := handlers.NewAPIKeyHandler(db)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.PATCH("/api-keys/:id/status", apiKeyHandler.UpdateStatus)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Revoke)

	callLogHandler := handlers.NewCallLogHandler(db)
	authed.GET("/call-logs", callLogHandler.List)
	authed.DELETE("/call-logs", callLogHandler.Purge)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "admin disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}
