package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Jobs.BatchSize != 5 {
		t.Errorf("Expected batch size 5, got %d", cfg.Jobs.BatchSize)
	}
	if cfg.Jobs.BatchDelay != time.Second {
		t.Errorf("Expected batch delay 1s, got %v", cfg.Jobs.BatchDelay)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("Expected API timeout 30s, got %v", cfg.API.Timeout)
	}
	if cfg.Token.ExpiryBuffer != 2*time.Minute {
		t.Errorf("Expected 2m expiry buffer, got %v", cfg.Token.ExpiryBuffer)
	}
	if cfg.Database.Enabled {
		t.Error("Database should be disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("BATCH_DELAY", "250ms")
	t.Setenv("PINGONE_REGION", "EU")
	t.Setenv("DB_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Jobs.BatchSize != 10 {
		t.Errorf("Expected batch size 10, got %d", cfg.Jobs.BatchSize)
	}
	if cfg.Jobs.BatchDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Jobs.BatchDelay)
	}
	if cfg.PingOne.Region != "EU" {
		t.Errorf("Expected region EU, got %s", cfg.PingOne.Region)
	}
	if !cfg.Database.Enabled {
		t.Error("Expected database enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero batch size", mutate: func(c *Config) { c.Jobs.BatchSize = 0 }, wantErr: true},
		{name: "zero api timeout", mutate: func(c *Config) { c.API.Timeout = 0 }, wantErr: true},
		{name: "zero queue concurrency", mutate: func(c *Config) { c.Queues.Export.MaxConcurrent = 0 }, wantErr: true},
		{name: "db enabled without host", mutate: func(c *Config) {
			c.Database.Enabled = true
			c.Database.Host = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
