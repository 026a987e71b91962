// Package api wires together all HTTP routes for the blood donation backend.
//
// Route grouping philosophy:
//   - The banner (/) and probes (/healthz, /version) are always public: load
//     balancers and uptime monitors hit them without credentials.
//   - Everything under /api/v1/ goes through the full middleware chain. When
//     identity verification is enabled the mutating routes require a verified
//     bearer token; read routes accept anonymous callers so that public
//     frontends can resolve roles before sign-in completes.
package api

import (
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/bloodlink/bloodlink/internal/api/users"
	"github.com/bloodlink/bloodlink/internal/audit"
	"github.com/bloodlink/bloodlink/internal/auth/identity"
	"github.com/bloodlink/bloodlink/internal/config"
	"github.com/bloodlink/bloodlink/internal/db/repositories"
	"github.com/bloodlink/bloodlink/internal/middleware"
	"github.com/bloodlink/bloodlink/internal/services"
)

// Version is the reported API version. Overridable at build time with
// -ldflags "-X github.com/bloodlink/bloodlink/internal/api.Version=...".
var Version = "0.1.0"

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	shipper      audit.Shipper
}

// Shutdown stops background goroutines and flushes external audit
// destinations. It should be called after the HTTP server has been shut down
// so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Warn("failed to close audit shipper", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sql.DB, verifier identity.Verifier) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	router.Use(gin.Recovery())

	// Initialize repositories. The audit repository uses sqlx for its
	// dynamic filter queries; the user repository stays on database/sql.
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(sqlx.NewDb(db, "postgres"))

	// Optional external audit destinations
	shipper, err := audit.NewShipper(cfg.Audit.Shippers)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}

	lifecycleService := services.NewLifecycleService(userRepo, auditRepo, shipper)
	queryService := services.NewQueryService(userRepo, auditRepo, shipper)
	handlers := users.NewHandlers(lifecycleService, queryService, auditRepo)

	bg := &BackgroundServices{shipper: shipper}

	// Global middleware. Security headers and CORS run before everything
	// so that even rate-limited and unauthenticated responses carry them.
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Security.RateLimiting.Enabled {
		limiterCfg := middleware.DefaultRateLimitConfig()
		limiterCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		limiterCfg.BurstSize = cfg.Security.RateLimiting.Burst
		limiter := middleware.NewRateLimiter(limiterCfg)
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		router.Use(limiter.Middleware())
	}

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))

	// Banner endpoint; kept as a plain-text liveness hint for humans.
	router.GET("/", bannerHandler())

	// Health check endpoint
	router.GET("/healthz", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	requireAuth := cfg.Auth.Identity.Enabled

	apiV1 := router.Group("/api/v1")
	{
		// Read endpoints: anonymous callers allowed, verified identities
		// recorded as the acting party when a token is present.
		readGroup := apiV1.Group("")
		readGroup.Use(middleware.AuthMiddleware(verifier, false))
		{
			readGroup.GET("/users", handlers.ListUsersHandler())
			readGroup.GET("/users/:email/role", handlers.GetRoleHandler())
		}

		// Mutating endpoints and the audit trail require a verified
		// identity when verification is enabled.
		writeGroup := apiV1.Group("")
		writeGroup.Use(middleware.AuthMiddleware(verifier, requireAuth))
		{
			writeGroup.POST("/users", handlers.CreateUserHandler())
			writeGroup.PATCH("/users/:id/status", handlers.UpdateStatusHandler())
			writeGroup.PATCH("/users/:id/role", handlers.UpdateRoleHandler())
			writeGroup.GET("/audit-logs", handlers.ListAuditLogsHandler())
		}
	}

	return router, bg
}

// bannerHandler returns the human-readable service banner.
func bannerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, "Blood Donation Server is Running!")
	}
}

// healthCheckHandler returns the health status of the service.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging via slog. The output
// format (text or JSON) follows the handler installed by telemetry.SetupLogger,
// so this middleware only collects attributes.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
