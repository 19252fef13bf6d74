// Package config loads service configuration from the environment and
// engine tuning from optional YAML profiles.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-level configuration.
type Config struct {
	LogLevel string

	// DatabaseURL selects the backing store. Empty means lite mode
	// (embedded SQLite at LitePath).
	DatabaseURL string
	LitePath    string

	// AI service (tier 3) wiring. OpenAI-compatible chat completions.
	AIServiceURL string
	AIAPIKey     string
	AIModel      string

	// Embedding service (tier 2) wiring.
	EmbedServiceURL string
	EmbedModel      string
	EmbedDimensions int

	// RedisAddr enables the distributed tier-3 rate limiter when set.
	RedisAddr string

	// Per-user budget for tier-3 model calls.
	AIRatePerMin int
	AIRateBurst  int

	// Blob storage for statement files and receipt images.
	BlobBackend string // "fs", "s3", or "gcs"
	BlobBucket  string
	BlobFSRoot  string

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint string

	// SweepInterval spaces the unverified-embedding purge sweeps.
	SweepInterval time.Duration

	// TuningProfile optionally points at a YAML file overriding the
	// built-in engine thresholds.
	TuningProfile string
}

// Load reads configuration from environment variables, applying
// defaults suitable for local development.
func Load() *Config {
	return &Config{
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		LitePath:    getenv("LITE_DB_PATH", "spendlens.db"),

		AIServiceURL: getenv("AI_SERVICE_URL", "http://localhost:1234/v1/chat/completions"),
		AIAPIKey:     os.Getenv("AI_API_KEY"),
		AIModel:      getenv("AI_MODEL", "gpt-4o-mini"),

		EmbedServiceURL: getenv("EMBED_SERVICE_URL", "http://localhost:1234/v1/embeddings"),
		EmbedModel:      getenv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimensions: getenvInt("EMBED_DIMENSIONS", 1536),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		AIRatePerMin: getenvInt("AI_RATE_PER_MIN", 30),
		AIRateBurst:  getenvInt("AI_RATE_BURST", 5),

		BlobBackend: getenv("BLOB_BACKEND", "fs"),
		BlobBucket:  os.Getenv("BLOB_BUCKET"),
		BlobFSRoot:  getenv("BLOB_FS_ROOT", "./blobs"),

		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SweepInterval: getenvDuration("EMBED_SWEEP_INTERVAL", 24*time.Hour),

		TuningProfile: os.Getenv("TUNING_PROFILE"),
	}
}

// LiteMode reports whether the process should run against embedded
// SQLite instead of Postgres.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
