package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Port        string
	Environment string

	// Graph store (Postgres with the AGE extension)
	DatabaseURL      string
	DefaultGraphName string

	// Auth. An empty JWKSURL disables token verification (dev mode).
	JWKSURL string

	CORSOrigins string

	// Aggregation tunables
	ContentFlushThreshold int
	PreviewMaxLen         int
	DiffPreviewMaxLen     int
	StaleTurnMaxAge       time.Duration
	ReaperInterval        time.Duration

	// Logging
	LogDir      string
	LogMaxFiles int
	Debug       bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DefaultGraphName: getEnv("DEFAULT_GRAPH_NAME", "engram"),

		JWKSURL: getEnv("JWKS_URL", ""),

		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),

		ContentFlushThreshold: getEnvInt("CONTENT_FLUSH_THRESHOLD", 500),
		PreviewMaxLen:         getEnvInt("PREVIEW_MAX_LEN", 500),
		DiffPreviewMaxLen:     getEnvInt("DIFF_PREVIEW_MAX_LEN", 1000),
		StaleTurnMaxAge:       getEnvDuration("STALE_TURN_MAX_AGE", 30*time.Minute),
		ReaperInterval:        getEnvDuration("REAPER_INTERVAL", 5*time.Minute),

		LogDir:      getEnv("LOG_DIR", "logs"),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),
		Debug:       getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate rejects configurations that would misbehave silently at runtime.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Environment, validation.Required, validation.In("dev", "test", "prod")),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.DefaultGraphName, validation.Required),
		validation.Field(&c.ContentFlushThreshold, validation.Min(1)),
		validation.Field(&c.PreviewMaxLen, validation.Min(1)),
		validation.Field(&c.DiffPreviewMaxLen, validation.Min(1)),
	)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.StaleTurnMaxAge <= 0 {
		return fmt.Errorf("config: STALE_TURN_MAX_AGE must be positive")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("config: REAPER_INTERVAL must be positive")
	}
	return nil
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
