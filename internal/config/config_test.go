package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ORACLE_PROVIDER", "local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, cfg.OracleProvider)
	assert.Equal(t, 8000, cfg.MaxThoughtChars)
	assert.Equal(t, 5, cfg.EnrichMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.EnrichBackoffBase)
	assert.InDelta(t, 0.75, cfg.GraphEdgeThreshold, 1e-9)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORACLE_PROVIDER", "LOCAL")
	t.Setenv("ENRICH_WORKERS", "9")
	t.Setenv("QUEUE_LEASE", "30s")
	t.Setenv("VECTOR_WEIGHT", "2.5")
	t.Setenv("CONTENT_KEYS", " a , ,b ")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.EnrichWorkers)
	assert.Equal(t, 30*time.Second, cfg.QueueLease)
	assert.InDelta(t, 2.5, cfg.VectorWeight, 1e-9)
	assert.Equal(t, []string{"a", "b"}, cfg.ContentKeys)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("ORACLE_PROVIDER", "local")
	t.Setenv("SEARCH_TOP_K", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().SearchTopK, cfg.SearchTopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.OracleProvider = "openai" }},
		{"threshold above one", func(c *Config) { c.GraphEdgeThreshold = 1.5 }},
		{"zero attempts", func(c *Config) { c.EnrichMaxAttempts = 0 }},
		{"backoff inverted", func(c *Config) { c.EnrichBackoffMax = time.Millisecond }},
		{"negative weight", func(c *Config) { c.KeywordWeight = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestRequireServe(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.RequireServe())

	cfg.JWTSecret = "s3cret"
	require.Error(t, cfg.RequireServe(), "gemini provider still needs an API key")

	cfg.OracleProvider = ProviderLocal
	require.NoError(t, cfg.RequireServe())
}
