package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chat-omega/fundonboarding/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("PORT", "8080")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("REVIEW_THRESHOLD", "0.65")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Environment != "test" {
		t.Errorf("Expected environment 'test', got %s", cfg.Environment)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.HTTP.Port)
	}

	if cfg.Gemini.APIKey != "test-key" {
		t.Errorf("Expected Gemini API key 'test-key', got %s", cfg.Gemini.APIKey)
	}

	if cfg.Pipeline.ReviewThreshold != 0.65 {
		t.Errorf("Expected review threshold 0.65, got %v", cfg.Pipeline.ReviewThreshold)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Pipeline.ReviewThreshold != config.DefaultReviewThreshold {
		t.Errorf("Expected default review threshold %v, got %v", config.DefaultReviewThreshold, cfg.Pipeline.ReviewThreshold)
	}
	if cfg.Pipeline.AverageThreshold != config.DefaultAverageThreshold {
		t.Errorf("Expected default average threshold %v, got %v", config.DefaultAverageThreshold, cfg.Pipeline.AverageThreshold)
	}
	if cfg.Cache.DefaultTTL != 24*time.Hour {
		t.Errorf("Expected default TTL 24h, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Research.MaxParallelSearches != 5 {
		t.Errorf("Expected 5 parallel searches, got %d", cfg.Research.MaxParallelSearches)
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
environment: staging
cache:
  backend: sqlite
  default_ttl: 2h
research:
  max_parallel_searches: 3
pipeline:
  average_threshold: 0.75
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Environment != "production" {
		t.Errorf("Expected env to override file, got %s", cfg.Environment)
	}
	if cfg.Cache.DefaultTTL != 2*time.Hour {
		t.Errorf("Expected TTL 2h from file, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Research.MaxParallelSearches != 3 {
		t.Errorf("Expected 3 parallel searches from file, got %d", cfg.Research.MaxParallelSearches)
	}
	if cfg.Pipeline.AverageThreshold != 0.75 {
		t.Errorf("Expected average threshold 0.75, got %v", cfg.Pipeline.AverageThreshold)
	}
	if cfg.Pipeline.ReviewThreshold != config.DefaultReviewThreshold {
		t.Errorf("Expected untouched review threshold, got %v", cfg.Pipeline.ReviewThreshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"threshold above one", func(c *config.Config) { c.Pipeline.ReviewThreshold = 1.5 }},
		{"negative threshold", func(c *config.Config) { c.Pipeline.AverageThreshold = -0.1 }},
		{"zero memory budget", func(c *config.Config) { c.Cache.MaxMemoryBytes = 0 }},
		{"unknown backend", func(c *config.Config) { c.Cache.Backend = "memcached" }},
		{"redis backend without url", func(c *config.Config) { c.Cache.Backend = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}

	if err := config.Default().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigBadNumber(t *testing.T) {
	t.Setenv("PORT", "not-a-port")

	if _, err := config.Load(); err == nil {
		t.Error("Expected error for malformed PORT")
	}
}
