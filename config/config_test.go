package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "RECONCILE_INTERVAL", "FB_ACCESS_TOKEN", "FB_PIXEL_ID", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./rewards.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.False(t, cfg.MarketingEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("MARKETING_WORKERS", "4")
	t.Setenv("LOG_PRODUCTION", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FB_ACCESS_TOKEN", "token")
	t.Setenv("FB_PIXEL_ID", "123")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 4, cfg.MarketingWorkers)
	assert.True(t, cfg.LogProduction)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.MarketingEnabled())
}

func TestGetEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("X_INT", "many")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "perhaps")

	assert.Equal(t, 7, getEnvAsInt("X_INT", 7))
	assert.Equal(t, time.Second, getEnvAsDuration("X_DUR", time.Second))
	assert.True(t, getEnvAsBool("X_BOOL", true))
}
