package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/pingone-bulk-users/internal/config"
	"github.com/rs/zerolog"
)

// DB wraps the sql.DB connection that backs session history and the audit trail
type DB struct {
	*sql.DB
	log zerolog.Logger
}

// defaultMigrationsPath is used when MIGRATIONS_PATH is unset
const defaultMigrationsPath = "./migrations"

// New opens the session history database.
// History is written once per finished session (one row plus one COPY of its failures) and read by
// the sessions endpoints, so the pool stays small: a zero MaxOpenConns falls back to 10 and idle
// connections to 2.
func New(cfg *config.DatabaseConfig, log zerolog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open session history database: %w", err)
	}

	maxOpen, maxIdle := poolLimits(cfg)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach session history database at %s: %w", cfg.Host, err)
	}

	wrapper := &DB{
		DB:  db,
		log: log.With().Str("component", "database").Logger(),
	}
	wrapper.log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Name).
		Int("max_open_conns", maxOpen).
		Int("max_idle_conns", maxIdle).
		Msg("Session history database connected")

	return wrapper, nil
}

// poolLimits sizes the pool for history traffic
func poolLimits(cfg *config.DatabaseConfig) (maxOpen, maxIdle int) {
	maxOpen, maxIdle = cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = min(2, maxOpen)
	}
	return maxOpen, maxIdle
}

// newMigrate builds a golang-migrate instance over the open connection
func (db *DB) newMigrate(migrationsPath string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations creates the sessions, session_failures and ignored_users tables.
// An empty path means ./migrations.
func (db *DB) RunMigrations(migrationsPath string) error {
	if migrationsPath == "" {
		migrationsPath = defaultMigrationsPath
	}
	db.log.Info().Str("path", migrationsPath).Msg("Running database migrations")

	m, err := db.newMigrate(migrationsPath)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("session history schema is dirty at version %d", version)
	}
	db.log.Info().Uint("version", version).Msg("Session history schema up to date")

	return nil
}

// HealthCheck pings the history database for /health
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("session history database unreachable: %w", err)
	}
	return nil
}
