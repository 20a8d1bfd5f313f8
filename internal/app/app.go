package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/apifleet/apimanager/internal/config"
	"github.com/apifleet/apimanager/internal/db"
	"github.com/apifleet/apimanager/internal/healthcheck"
	"github.com/apifleet/apimanager/internal/http/api/admin"
	"github.com/apifleet/apimanager/internal/http/api/proxy"
	"github.com/apifleet/apimanager/internal/security"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	_ = ctx
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the API manager with database-backed components. A port
// above zero overrides the configured listener port.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	sqlDB, errSQL := conn.DB()
	if errSQL != nil {
		return errSQL
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("close database error: %v", errClose)
		}
	}()

	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errAdmin := EnsureAdmin(conn); errAdmin != nil {
		return errAdmin
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if strings.TrimSpace(jwtConfig.Secret) == "" {
		jwtConfig.Secret = generateJWTSecret()
		log.Warn("jwt secret not configured, generated an ephemeral secret; sessions will not survive restarts")
	}

	serverConfig, _ := config.LoadServerConfig(configPath)
	if port > 0 {
		serverConfig.Port = port
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	admin.RegisterAdminRoutes(engine, conn, jwtConfig)
	proxy.RegisterProxyRoutes(engine, conn)

	healthConfig, _ := config.LoadHealthCheckConfig(configPath)
	healthcheck.NewChecker(conn, healthConfig.Interval).Start(ctx)

	addr := fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port)
	log.Infof("starting api manager on %s (config=%s)", addr, configPath)

	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}
	return nil
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// corsMiddleware enables permissive CORS for browser clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
