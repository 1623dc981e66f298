package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Log         logger.LogConfig `yaml:"log"`
	Redis       RedisConfig      `yaml:"redis"`
	Cache       CacheConfig      `yaml:"cache"`
	Research    ResearchConfig   `yaml:"research"`
	Gemini      GeminiConfig     `yaml:"gemini"`
	Storage     StorageConfig    `yaml:"storage"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	StreamsURL   string        `yaml:"streams_url"`
	PoolSize     int           `yaml:"pool_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	StreamMaxLen int64         `yaml:"stream_max_len"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

func (cfg RedisConfig) Enabled() bool {
	return cfg.URL != ""
}

type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	Path           string        `yaml:"path"`
	KeyPrefix      string        `yaml:"key_prefix"`
	MaxMemoryBytes int64         `yaml:"max_memory_bytes"`
	MaxDiskBytes   int64         `yaml:"max_disk_bytes"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	CleanupEvery   int           `yaml:"cleanup_every"`
	PromoteAfter   int           `yaml:"promote_after"`
}

type ResearchConfig struct {
	SearchURL           string        `yaml:"search_url"`
	UserAgent           string        `yaml:"user_agent"`
	SearchTimeout       time.Duration `yaml:"search_timeout"`
	MaxParallelSearches int           `yaml:"max_parallel_searches"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	MaxRetries          int           `yaml:"max_retries"`
	Offline             bool          `yaml:"offline"`
}

type GeminiConfig struct {
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	LocalPath string `yaml:"local_path"`
}

// PipelineConfig holds the review thresholds used by classification and the orchestrator.
type PipelineConfig struct {
	ReviewThreshold   float64       `yaml:"review_threshold"`
	AverageThreshold  float64       `yaml:"average_threshold"`
	HighConfidence    float64       `yaml:"high_confidence"`
	ExtractionReview  float64       `yaml:"extraction_review"`
	ResearchTTL       time.Duration `yaml:"research_ttl"`
	ClassificationTTL time.Duration `yaml:"classification_ttl"`
}

const (
	DefaultReviewThreshold  = 0.7
	DefaultAverageThreshold = 0.8
)

func Default() *Config {
	return &Config{
		Environment: "development",
		HTTP: HTTPConfig{
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
		Log: logger.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			DialTimeout:  5 * time.Second,
			StreamMaxLen: 1024,
			SessionTTL:   6 * time.Hour,
		},
		Cache: CacheConfig{
			Backend:        "sqlite",
			Path:           "data/research_cache.db",
			KeyPrefix:      "fundcache",
			MaxMemoryBytes: 100 * 1024 * 1024,
			MaxDiskBytes:   1024 * 1024 * 1024,
			DefaultTTL:     24 * time.Hour,
			CleanupEvery:   100,
			PromoteAfter:   3,
		},
		Research: ResearchConfig{
			SearchURL:           "https://html.duckduckgo.com/html/",
			UserAgent:           "FundOnboarding-Research/1.0",
			SearchTimeout:       10 * time.Second,
			MaxParallelSearches: 5,
			RequestsPerSecond:   2,
			MaxRetries:          2,
		},
		Gemini: GeminiConfig{
			Model:      "gemini-2.5-flash",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
		},
		Storage: StorageConfig{
			Region:    "us-east-1",
			Prefix:    "uploads",
			LocalPath: "data/uploads",
		},
		Pipeline: PipelineConfig{
			ReviewThreshold:   DefaultReviewThreshold,
			AverageThreshold:  DefaultAverageThreshold,
			HighConfidence:    0.8,
			ExtractionReview:  0.7,
			ResearchTTL:       24 * time.Hour,
			ClassificationTTL: 12 * time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) applyEnv() error {
	var errs []error

	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.HTTP.Port = getEnvInt("PORT", cfg.HTTP.Port, &errs)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = getEnv("LOG_OUTPUT", cfg.Log.Output)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.StreamsURL = getEnv("REDIS_STREAMS_URL", cfg.Redis.StreamsURL)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize, &errs)

	cfg.Cache.Backend = getEnv("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Path = getEnv("CACHE_PATH", cfg.Cache.Path)
	cfg.Cache.MaxMemoryBytes = int64(getEnvInt("CACHE_MAX_MEMORY_MB", int(cfg.Cache.MaxMemoryBytes/(1024*1024)), &errs)) * 1024 * 1024
	cfg.Cache.MaxDiskBytes = int64(getEnvInt("CACHE_MAX_DISK_MB", int(cfg.Cache.MaxDiskBytes/(1024*1024)), &errs)) * 1024 * 1024
	cfg.Cache.DefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", cfg.Cache.DefaultTTL, &errs)

	cfg.Research.SearchURL = getEnv("RESEARCH_SEARCH_URL", cfg.Research.SearchURL)
	cfg.Research.SearchTimeout = getEnvDuration("RESEARCH_SEARCH_TIMEOUT", cfg.Research.SearchTimeout, &errs)
	cfg.Research.MaxParallelSearches = getEnvInt("RESEARCH_MAX_PARALLEL", cfg.Research.MaxParallelSearches, &errs)
	cfg.Research.MaxRetries = getEnvInt("RESEARCH_MAX_RETRIES", cfg.Research.MaxRetries, &errs)
	cfg.Research.Offline = getEnvBool("RESEARCH_OFFLINE", cfg.Research.Offline, &errs)

	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.Model = getEnv("GEMINI_MODEL", cfg.Gemini.Model)

	cfg.Storage.Bucket = getEnv("S3_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Region = getEnv("AWS_REGION", cfg.Storage.Region)
	cfg.Storage.Endpoint = getEnv("S3_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.LocalPath = getEnv("UPLOAD_DIR", cfg.Storage.LocalPath)

	cfg.Pipeline.ReviewThreshold = getEnvFloat("REVIEW_THRESHOLD", cfg.Pipeline.ReviewThreshold, &errs)
	cfg.Pipeline.AverageThreshold = getEnvFloat("AVERAGE_THRESHOLD", cfg.Pipeline.AverageThreshold, &errs)

	return errors.Join(errs...)
}

func (cfg *Config) Validate() error {
	var errs []error

	thresholds := map[string]float64{
		"pipeline.review_threshold":  cfg.Pipeline.ReviewThreshold,
		"pipeline.average_threshold": cfg.Pipeline.AverageThreshold,
		"pipeline.high_confidence":   cfg.Pipeline.HighConfidence,
		"pipeline.extraction_review": cfg.Pipeline.ExtractionReview,
	}
	for name, value := range thresholds {
		if value < 0 || value > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, value))
		}
	}

	if cfg.Cache.MaxMemoryBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_memory_bytes must be positive"))
	}
	if cfg.Cache.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl must be positive"))
	}
	switch cfg.Cache.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend))
	}
	if cfg.Cache.Backend == "redis" && !cfg.Redis.Enabled() {
		errs = append(errs, fmt.Errorf("cache backend redis requires REDIS_URL"))
	}
	if cfg.Research.MaxParallelSearches <= 0 {
		errs = append(errs, fmt.Errorf("research.max_parallel_searches must be positive"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return parsed
}
