// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DBPath         string
	LogProduction  bool
	AllowedOrigins []string

	ReconcileInterval time.Duration

	// Meta Conversions API; empty token or pixel disables the sink.
	FBAccessToken   string
	FBPixelID       string
	FBTestEventCode string
	FBGraphURL      string

	MarketingWorkers int
	MarketingQueue   int
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env values.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./rewards.db"),
		LogProduction:  getEnvAsBool("LOG_PRODUCTION", false),
		AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),

		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", time.Hour),

		FBAccessToken:   getEnv("FB_ACCESS_TOKEN", ""),
		FBPixelID:       getEnv("FB_PIXEL_ID", ""),
		FBTestEventCode: getEnv("FB_TEST_EVENT_CODE", ""),
		FBGraphURL:      getEnv("FB_GRAPH_URL", "https://graph.facebook.com/v18.0"),

		MarketingWorkers: getEnvAsInt("MARKETING_WORKERS", 2),
		MarketingQueue:   getEnvAsInt("MARKETING_QUEUE", 256),
	}
}

// MarketingEnabled reports whether Conversions API credentials are present.
func (c *Config) MarketingEnabled() bool {
	return c.FBAccessToken != "" && c.FBPixelID != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	strVal := getEnv(key, "")
	if val, err := strconv.ParseBool(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	strVal := getEnv(key, "")
	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	strVal := getEnv(key, "")
	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	val := getEnv(key, "")
	if val == "" {
		return defaultValue
	}
	parts := strings.Split(val, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
