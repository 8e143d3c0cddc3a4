package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/rs/zerolog"
)

// NewRouter creates and configures the Gin router
func NewRouter(services *service.Services, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware())

	// Handlers
	importHandler := NewImportHandler(services, cfg, log)
	sessionHandler := NewSessionHandler(services, log)
	exportHandler := NewExportHandler(services, log)
	bulkHandler := NewBulkHandler(services, cfg, log)
	pingoneHandler := NewPingOneHandler(services, log)

	// Health check
	router.GET("/health", healthCheck(services))

	// Import endpoints
	imports := router.Group("/import")
	{
		imports.POST("", importHandler.StartImport)
		imports.GET("/progress/:sessionId", importHandler.Progress)
		imports.POST("/resolve-conflict", importHandler.ResolveConflict)
		imports.POST("/resolve-invalid-population", importHandler.ResolveInvalidPopulation)
		imports.POST("/cancel", importHandler.Cancel)
	}

	// Session endpoints
	sessions := router.Group("/sessions")
	{
		sessions.GET("", sessionHandler.ListSessions)
		sessions.GET("/:sessionId", sessionHandler.GetSession)
		sessions.GET("/:sessionId/errors", sessionHandler.GetSessionErrors)
		sessions.GET("/:sessionId/ignored", sessionHandler.GetIgnoredUsers)
	}

	// Synchronous bulk endpoints
	router.POST("/export-users", exportHandler.ExportUsers)
	router.POST("/modify-users", bulkHandler.ModifyUsers)
	router.POST("/delete-users", bulkHandler.DeleteUsers)
	router.POST("/population-delete", bulkHandler.DeletePopulation)

	// PingOne delegates
	pingone := router.Group("/pingone")
	{
		pingone.GET("/populations", pingoneHandler.ListPopulations)
		pingone.POST("/get-token", pingoneHandler.GetToken)
	}

	return router
}

// healthCheck returns the health status, queue occupancy and database reachability
func healthCheck(services *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats []queue.Stats
		if services.Queues != nil {
			stats = services.Queues.Stats()
		}

		status, code := "healthy", http.StatusOK
		database := "disabled"
		if services.DBHealth != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err := services.DBHealth(ctx)
			cancel()
			database = "ok"
			if err != nil {
				status, code, database = "unhealthy", http.StatusServiceUnavailable, err.Error()
			}
		}

		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "pingone-bulk-users",
			"database":  database,
			"queues":    stats,
		})
	}
}

// recoveryMiddleware handles panics
func recoveryMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("error", err).Msg("Panic recovered")
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs requests
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		event := log.Info()
		if statusCode >= 400 {
			event = log.Warn()
		}
		if statusCode >= 500 {
			event = log.Error()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
