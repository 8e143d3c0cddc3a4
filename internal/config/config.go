package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// PingOne worker application and region
	PingOne PingOneConfig

	// Token acquisition settings
	Token TokenConfig

	// Remote API gateway settings
	API APIConfig

	// Bulk job settings
	Jobs JobsConfig

	// Local request queue limits
	Queues QueuesConfig

	// Progress channel settings
	Progress ProgressConfig

	// Optional history database
	Database DatabaseConfig

	// Logging configuration
	Log LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // 0 keeps progress streams open indefinitely
	ShutdownTimeout time.Duration
}

// PingOneConfig holds process-level credentials; empty values fall back to the settings file
type PingOneConfig struct {
	ClientID      string
	ClientSecret  string
	EnvironmentID string
	Region        string
	SettingsFile  string
}

// TokenConfig holds token cache and rate limit settings
type TokenConfig struct {
	MinRequestInterval time.Duration
	ExpiryBuffer       time.Duration
	MaxLifetime        time.Duration
}

// APIConfig holds outbound call settings
type APIConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// JobsConfig holds orchestrator settings
type JobsConfig struct {
	BatchSize                   int
	BatchDelay                  time.Duration
	MaxUploadSize               int64 // in bytes
	MaxConsecutiveFailedBatches int
	SessionRetention            time.Duration
}

// QueueLimits bounds one request queue
type QueueLimits struct {
	MaxConcurrent int
	MaxPending    int
}

// QueuesConfig holds one limit set per operation kind
type QueuesConfig struct {
	Import QueueLimits
	Export QueueLimits
	API    QueueLimits
}

// ProgressConfig holds progress channel settings
type ProgressConfig struct {
	KeepAlive    time.Duration
	DrainTimeout time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MaxLifetime    time.Duration
	MigrationsPath string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string // "json" or "pretty"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "4000"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		PingOne: PingOneConfig{
			ClientID:      getEnv("PINGONE_CLIENT_ID", ""),
			ClientSecret:  getEnv("PINGONE_CLIENT_SECRET", ""),
			EnvironmentID: getEnv("PINGONE_ENVIRONMENT_ID", ""),
			Region:        getEnv("PINGONE_REGION", ""),
			SettingsFile:  getEnv("SETTINGS_FILE", "./data/settings.json"),
		},
		Token: TokenConfig{
			MinRequestInterval: getDurationEnv("TOKEN_MIN_REQUEST_INTERVAL", 500*time.Millisecond),
			ExpiryBuffer:       getDurationEnv("TOKEN_EXPIRY_BUFFER", 2*time.Minute),
			MaxLifetime:        getDurationEnv("TOKEN_MAX_LIFETIME", 55*time.Minute),
		},
		API: APIConfig{
			Timeout:        getDurationEnv("API_TIMEOUT", 30*time.Second),
			MaxRetries:     getIntEnv("API_MAX_RETRIES", 3),
			RetryBaseDelay: getDurationEnv("API_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:  getDurationEnv("API_RETRY_MAX_DELAY", 30*time.Second),
		},
		Jobs: JobsConfig{
			BatchSize:                   getIntEnv("BATCH_SIZE", 5),
			BatchDelay:                  getDurationEnv("BATCH_DELAY", time.Second),
			MaxUploadSize:               getInt64Env("MAX_UPLOAD_SIZE", 10*1024*1024), // 10MB
			MaxConsecutiveFailedBatches: getIntEnv("MAX_CONSECUTIVE_FAILED_BATCHES", 3),
			SessionRetention:            getDurationEnv("SESSION_RETENTION", 10*time.Minute),
		},
		Queues: QueuesConfig{
			Import: QueueLimits{
				MaxConcurrent: getIntEnv("IMPORT_QUEUE_CONCURRENCY", 10),
				MaxPending:    getIntEnv("IMPORT_QUEUE_MAX_PENDING", 1000),
			},
			Export: QueueLimits{
				MaxConcurrent: getIntEnv("EXPORT_QUEUE_CONCURRENCY", 2),
				MaxPending:    getIntEnv("EXPORT_QUEUE_MAX_PENDING", 50),
			},
			API: QueueLimits{
				MaxConcurrent: getIntEnv("API_QUEUE_CONCURRENCY", 10),
				MaxPending:    getIntEnv("API_QUEUE_MAX_PENDING", 500),
			},
		},
		Progress: ProgressConfig{
			KeepAlive:    getDurationEnv("PROGRESS_KEEPALIVE", 20*time.Second),
			DrainTimeout: getDurationEnv("PROGRESS_DRAIN_TIMEOUT", 2*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:        getBoolEnv("DB_ENABLED", false),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			Name:           getEnv("DB_NAME", "pingone_bulk_users"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:   getIntEnv("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:   getIntEnv("DB_MAX_IDLE_CONNS", 2),
			MaxLifetime:    getDurationEnv("DB_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Jobs.BatchSize)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive")
	}
	for name, q := range map[string]QueueLimits{"IMPORT": c.Queues.Import, "EXPORT": c.Queues.Export, "API": c.Queues.API} {
		if q.MaxConcurrent <= 0 || q.MaxPending <= 0 {
			return fmt.Errorf("%s_QUEUE limits must be positive", name)
		}
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required when DB_ENABLED is set")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required when DB_ENABLED is set")
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
