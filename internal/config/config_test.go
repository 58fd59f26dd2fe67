package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.scryfall.com/cards/named", cfg.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.LookupTimeout())
	assert.Equal(t, "tesseract", cfg.OCREngine)
	assert.Equal(t, "full", cfg.QueryMode)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 1000, cfg.MaxSurfaces)
	assert.Equal(t, 10*time.Minute, cfg.SurfaceIdleTimeout())
}

func TestLoadConfigSurfaceLimitsFromEnv(t *testing.T) {
	t.Setenv("MAX_SURFACES", "8")
	t.Setenv("SURFACE_IDLE_SECONDS", "30")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxSurfaces)
	assert.Equal(t, 30*time.Second, cfg.SurfaceIdleTimeout())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cardscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: http://localhost:9999/cards/named
timeoutMs: 1500
ocrLanguageHint: eng
queryMode: name
`), 0o600))

	t.Setenv("LOOKUP_TIMEOUT_MS", "2500")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999/cards/named", cfg.Endpoint)
	assert.Equal(t, 2500*time.Millisecond, cfg.LookupTimeout())
	assert.Equal(t, "eng", cfg.OCRLanguageHint)
	assert.Equal(t, "name", cfg.QueryMode)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"empty endpoint", func(c *Config) { c.Endpoint = "" }, "LOOKUP_ENDPOINT"},
		{"timeout too small", func(c *Config) { c.TimeoutMs = 10 }, "LOOKUP_TIMEOUT_MS"},
		{"remote without url", func(c *Config) { c.OCREngine = "remote" }, "OCR_REMOTE_URL"},
		{"unknown engine", func(c *Config) { c.OCREngine = "mlkit" }, "OCR_ENGINE"},
		{"unknown query mode", func(c *Config) { c.QueryMode = "fuzzy" }, "QUERY_MODE"},
		{"unknown db driver", func(c *Config) { c.DatabaseDriver = "mysql" }, "DATABASE_DRIVER"},
		{"unknown queue driver", func(c *Config) { c.QueueDriver = "kafka" }, "QUEUE_DRIVER"},
		{"too many retries", func(c *Config) { c.LookupRetries = 9 }, "LOOKUP_RETRIES"},
		{"negative surface cap", func(c *Config) { c.MaxSurfaces = -1 }, "MAX_SURFACES"},
		{"negative idle timeout", func(c *Config) { c.SurfaceIdleSeconds = -5 }, "SURFACE_IDLE_SECONDS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
