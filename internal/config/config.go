package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/thoughtstream/thoughtstream/internal/observability"
)

const (
	ProviderGemini = "gemini"
	ProviderLocal  = "local"
)

type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	JWTSecret   string

	OracleProvider   string
	GeminiAPIKey     string
	OracleRatePerMin int

	MaxThoughtChars int

	EnrichWorkers     int
	EnrichMaxAttempts int
	EnrichBackoffBase time.Duration
	EnrichBackoffMax  time.Duration
	EnrichTimeout     time.Duration
	QueueLease        time.Duration
	QueuePollInterval time.Duration

	SearchTopK           int
	SearchMinSimilarity  float64
	KeywordWeight        float64
	VectorWeight         float64
	RelatedMinSimilarity float64
	GraphEdgeThreshold   float64

	// ContentKeys are base64 AES-256 keys for message content at rest.
	// The first key seals new values; all keys are tried when opening.
	ContentKeys []string
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		DatabaseURL:          "thoughtstream.db",
		HTTPPort:             "8080",
		LogLevel:             "INFO",
		OracleProvider:       ProviderGemini,
		OracleRatePerMin:     1500,
		MaxThoughtChars:      8000,
		EnrichWorkers:        4,
		EnrichMaxAttempts:    5,
		EnrichBackoffBase:    2 * time.Second,
		EnrichBackoffMax:     2 * time.Minute,
		EnrichTimeout:        45 * time.Second,
		QueueLease:           2 * time.Minute,
		QueuePollInterval:    500 * time.Millisecond,
		SearchTopK:           8,
		SearchMinSimilarity:  0.55,
		KeywordWeight:        1.0,
		VectorWeight:         3.0,
		RelatedMinSimilarity: 0.5,
		GraphEdgeThreshold:   0.75,
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	d := Default()
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", d.DatabaseURL),
		HTTPPort:    getEnv("HTTP_PORT", d.HTTPPort),
		LogLevel:    strings.ToUpper(getEnv("LOG_LEVEL", d.LogLevel)),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		OracleProvider:   strings.ToLower(getEnv("ORACLE_PROVIDER", d.OracleProvider)),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		OracleRatePerMin: getEnvAsInt("ORACLE_RATE_PER_MIN", d.OracleRatePerMin),

		MaxThoughtChars: getEnvAsInt("MAX_THOUGHT_CHARS", d.MaxThoughtChars),

		EnrichWorkers:     getEnvAsInt("ENRICH_WORKERS", d.EnrichWorkers),
		EnrichMaxAttempts: getEnvAsInt("ENRICH_MAX_ATTEMPTS", d.EnrichMaxAttempts),
		EnrichBackoffBase: getEnvAsDuration("ENRICH_BACKOFF_BASE", d.EnrichBackoffBase),
		EnrichBackoffMax:  getEnvAsDuration("ENRICH_BACKOFF_MAX", d.EnrichBackoffMax),
		EnrichTimeout:     getEnvAsDuration("ENRICH_TIMEOUT", d.EnrichTimeout),
		QueueLease:        getEnvAsDuration("QUEUE_LEASE", d.QueueLease),
		QueuePollInterval: getEnvAsDuration("QUEUE_POLL_INTERVAL", d.QueuePollInterval),

		SearchTopK:           getEnvAsInt("SEARCH_TOP_K", d.SearchTopK),
		SearchMinSimilarity:  getEnvAsFloat("SEARCH_MIN_SIMILARITY", d.SearchMinSimilarity),
		KeywordWeight:        getEnvAsFloat("KEYWORD_WEIGHT", d.KeywordWeight),
		VectorWeight:         getEnvAsFloat("VECTOR_WEIGHT", d.VectorWeight),
		RelatedMinSimilarity: getEnvAsFloat("RELATED_MIN_SIMILARITY", d.RelatedMinSimilarity),
		GraphEdgeThreshold:   getEnvAsFloat("GRAPH_EDGE_THRESHOLD", d.GraphEdgeThreshold),

		ContentKeys: splitList(getEnv("CONTENT_KEYS", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges. It does not require secrets; see RequireServe.
func (c *Config) Validate() error {
	if c.OracleProvider != ProviderGemini && c.OracleProvider != ProviderLocal {
		return fmt.Errorf("ORACLE_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderLocal, c.OracleProvider)
	}
	if c.MaxThoughtChars <= 0 {
		return fmt.Errorf("MAX_THOUGHT_CHARS must be positive")
	}
	if c.EnrichWorkers < 0 {
		return fmt.Errorf("ENRICH_WORKERS must not be negative")
	}
	if c.EnrichMaxAttempts <= 0 {
		return fmt.Errorf("ENRICH_MAX_ATTEMPTS must be positive")
	}
	if c.EnrichBackoffBase <= 0 || c.EnrichBackoffMax < c.EnrichBackoffBase {
		return fmt.Errorf("ENRICH_BACKOFF_BASE must be positive and not exceed ENRICH_BACKOFF_MAX")
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("SEARCH_TOP_K must be positive")
	}
	for name, v := range map[string]float64{
		"SEARCH_MIN_SIMILARITY":  c.SearchMinSimilarity,
		"RELATED_MIN_SIMILARITY": c.RelatedMinSimilarity,
		"GRAPH_EDGE_THRESHOLD":   c.GraphEdgeThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.KeywordWeight < 0 || c.VectorWeight < 0 {
		return fmt.Errorf("KEYWORD_WEIGHT and VECTOR_WEIGHT must not be negative")
	}
	return nil
}

// RequireServe enforces the secrets needed to run the server.
func (c *Config) RequireServe() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.OracleProvider == ProviderGemini && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required when ORACLE_PROVIDER=gemini")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	return observability.ParseLevel(c.LogLevel)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
