package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingone-bulk-users/internal/api"
	"github.com/pingone-bulk-users/internal/backoff"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/database"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/pingone"
	"github.com/pingone-bulk-users/internal/progress"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/repository"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/pingone-bulk-users/internal/settings"
	"github.com/pingone-bulk-users/internal/token"
	"github.com/pingone-bulk-users/pkg/logger"
)

func main() {
	// Initialize logger
	log := logger.New()
	log.Info().Msg("Starting PingOne bulk users server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Persisted settings, consulted for credentials the environment leaves empty
	store, err := settings.Load(cfg.PingOne.SettingsFile, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}

	retry := backoff.Policy{
		Base:       cfg.API.RetryBaseDelay,
		Max:        cfg.API.RetryMaxDelay,
		Jitter:     backoff.Default.Jitter,
		MaxRetries: cfg.API.MaxRetries,
	}

	tokens := token.NewProvider(models.Credentials{
		ClientID:      cfg.PingOne.ClientID,
		ClientSecret:  cfg.PingOne.ClientSecret,
		EnvironmentID: cfg.PingOne.EnvironmentID,
		Region:        cfg.PingOne.Region,
	}, store, token.Config{
		MinRequestInterval: cfg.Token.MinRequestInterval,
		ExpiryBuffer:       cfg.Token.ExpiryBuffer,
		MaxLifetime:        cfg.Token.MaxLifetime,
		Timeout:            cfg.API.Timeout,
		Retry:              retry,
	}, log)

	gateway := pingone.NewGateway(tokens, pingone.Config{
		Timeout: cfg.API.Timeout,
		Retry:   retry,
	}, log)

	// Session history: Postgres when enabled, process memory otherwise
	repos := repository.NewInMemory()
	var dbHealth func(ctx context.Context) error
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(cfg.Database.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		repos = repository.New(db)
		dbHealth = db.HealthCheck
	} else {
		log.Info().Msg("Database disabled, keeping session history in memory")
	}

	// Initialize services
	services := service.NewServices(service.Dependencies{
		Directory: gateway,
		Tokens:    tokens,
		Repos:     repos,
		Queues:    queue.NewRegistry(cfg.Queues, log),
		Hub:       progress.NewHub(cfg.Progress.KeepAlive, cfg.Progress.DrainTimeout, log),
		DBHealth:  dbHealth,
	}, cfg, log)

	// Initialize router
	router := api.NewRouter(services, cfg, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop live sessions at their next batch boundary
	if err := services.Sessions.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Sessions did not stop in time")
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}
