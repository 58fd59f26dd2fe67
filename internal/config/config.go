/**
 * Configuration for cardscan
 *
 * Defaults, then an optional YAML file, then environment variables.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds cardscan configuration
type Config struct {
	// Lookup service
	Endpoint      string `yaml:"endpoint"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	LookupRetries int    `yaml:"lookupRetries"`
	UserAgent     string `yaml:"userAgent"`

	// Text extraction
	OCREngine        string  `yaml:"ocrEngine"` // tesseract or remote
	OCRLanguageHint  string  `yaml:"ocrLanguageHint"`
	OCRMinConfidence float64 `yaml:"ocrMinConfidence"`
	OCRRemoteURL     string  `yaml:"ocrRemoteURL"`

	// Query construction: full or name
	QueryMode string `yaml:"queryMode"`

	// Redis (lookup cache, capture queue, outcome events). Empty disables all three.
	RedisURL        string `yaml:"redisURL"`
	CacheTTLSeconds int    `yaml:"cacheTTLSeconds"`

	// Session history
	DatabaseDriver string `yaml:"databaseDriver"` // sqlite or postgres
	DatabaseURL    string `yaml:"databaseURL"`

	// Capture queue
	QueueDriver       string `yaml:"queueDriver"` // redis or asynq
	QueueName         string `yaml:"queueName"`
	WorkerConcurrency int    `yaml:"workerConcurrency"`

	// HTTP surface
	HTTPAddr string `yaml:"httpAddr"`

	// Surface limits: live coordinators and how long an idle one is kept
	MaxSurfaces        int `yaml:"maxSurfaces"`
	SurfaceIdleSeconds int `yaml:"surfaceIdleSeconds"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Endpoint:           "https://api.scryfall.com/cards/named",
		TimeoutMs:          5000,
		LookupRetries:      0,
		UserAgent:          "cardscan/1.0",
		OCREngine:          "tesseract",
		QueryMode:          "full",
		CacheTTLSeconds:    86400,
		DatabaseDriver:     "sqlite",
		QueueDriver:        "redis",
		QueueName:          "cardscan:captures",
		WorkerConcurrency:  4,
		HTTPAddr:           ":8080",
		MaxSurfaces:        1000,
		SurfaceIdleSeconds: 600,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// LoadConfig loads configuration from an optional YAML file and environment variables
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Endpoint = getEnvOrDefault("LOOKUP_ENDPOINT", c.Endpoint)
	c.TimeoutMs = getEnvAsIntOrDefault("LOOKUP_TIMEOUT_MS", c.TimeoutMs)
	c.LookupRetries = getEnvAsIntOrDefault("LOOKUP_RETRIES", c.LookupRetries)
	c.UserAgent = getEnvOrDefault("LOOKUP_USER_AGENT", c.UserAgent)
	c.OCREngine = getEnvOrDefault("OCR_ENGINE", c.OCREngine)
	c.OCRLanguageHint = getEnvOrDefault("OCR_LANGUAGE_HINT", c.OCRLanguageHint)
	c.OCRMinConfidence = getEnvAsFloatOrDefault("OCR_MIN_CONFIDENCE", c.OCRMinConfidence)
	c.OCRRemoteURL = getEnvOrDefault("OCR_REMOTE_URL", c.OCRRemoteURL)
	c.QueryMode = getEnvOrDefault("QUERY_MODE", c.QueryMode)
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.CacheTTLSeconds = getEnvAsIntOrDefault("CACHE_TTL_SECONDS", c.CacheTTLSeconds)
	c.DatabaseDriver = getEnvOrDefault("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.QueueDriver = getEnvOrDefault("QUEUE_DRIVER", c.QueueDriver)
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.HTTPAddr = getEnvOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.MaxSurfaces = getEnvAsIntOrDefault("MAX_SURFACES", c.MaxSurfaces)
	c.SurfaceIdleSeconds = getEnvAsIntOrDefault("SURFACE_IDLE_SECONDS", c.SurfaceIdleSeconds)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("LOOKUP_ENDPOINT is required")
	}

	if c.TimeoutMs < 100 || c.TimeoutMs > 120000 {
		return fmt.Errorf("LOOKUP_TIMEOUT_MS must be between 100 and 120000, got %d", c.TimeoutMs)
	}

	if c.LookupRetries < 0 || c.LookupRetries > 5 {
		return fmt.Errorf("LOOKUP_RETRIES must be between 0 and 5, got %d", c.LookupRetries)
	}

	switch c.OCREngine {
	case "tesseract":
	case "remote":
		if c.OCRRemoteURL == "" {
			return fmt.Errorf("OCR_REMOTE_URL is required when OCR_ENGINE=remote")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be tesseract or remote, got %q", c.OCREngine)
	}

	if c.OCRMinConfidence < 0 || c.OCRMinConfidence > 100 {
		return fmt.Errorf("OCR_MIN_CONFIDENCE must be between 0 and 100, got %v", c.OCRMinConfidence)
	}

	if c.QueryMode != "full" && c.QueryMode != "name" {
		return fmt.Errorf("QUERY_MODE must be full or name, got %q", c.QueryMode)
	}

	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}

	if c.QueueDriver != "redis" && c.QueueDriver != "asynq" {
		return fmt.Errorf("QUEUE_DRIVER must be redis or asynq, got %q", c.QueueDriver)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxSurfaces < 0 {
		return fmt.Errorf("MAX_SURFACES must not be negative, got %d", c.MaxSurfaces)
	}

	if c.SurfaceIdleSeconds < 0 {
		return fmt.Errorf("SURFACE_IDLE_SECONDS must not be negative, got %d", c.SurfaceIdleSeconds)
	}

	return nil
}

// SurfaceIdleTimeout returns how long a surface without activity keeps its state
func (c *Config) SurfaceIdleTimeout() time.Duration {
	return time.Duration(c.SurfaceIdleSeconds) * time.Second
}

// LookupTimeout returns the bounded wait for one lookup request
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns how long resolved cards stay cached
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
