package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired pins the mandatory variables and blanks every optional one so
// the host environment cannot leak into assertions.
func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/finwise")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "test-secret")
	for _, key := range []string{
		"SERVER_PORT", "ADMIN_KEY_HASH", "LOG_LEVEL", "LOG_FORMAT",
		"ALLOWED_ORIGINS", "RETRY_POLL_INTERVAL", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres://localhost:5432/finwise", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
	assert.Empty(t, cfg.AdminKeyHash)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.RetryPollInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ADMIN_KEY_HASH", "$2a$12$abcdefghijklmnopqrstuv")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("ALLOWED_ORIGINS", "https://app.finwise.test, https://staging.finwise.test")
	t.Setenv("RETRY_POLL_INTERVAL", "1m")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "$2a$12$abcdefghijklmnopqrstuv", cfg.AdminKeyHash)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"https://app.finwise.test", "https://staging.finwise.test"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Minute, cfg.RetryPollInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		blank   string
		wantErr string
	}{
		{"missing database url", "DATABASE_URL", "DATABASE_URL is required"},
		{"missing redis url", "REDIS_URL", "REDIS_URL is required"},
		{"missing jwt secret", "JWT_SECRET", "JWT_SECRET is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.blank, "")

			_, err := LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_RejectsBadDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("RETRY_POLL_INTERVAL", "soon")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETRY_POLL_INTERVAL")

	setRequired(t)
	t.Setenv("SHUTDOWN_TIMEOUT", "whenever")

	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
	assert.Equal(t, []string{"*"}, splitList("*"))
	assert.Equal(t, []string{"x"}, splitList(",x,,"))
	assert.Empty(t, splitList(""))
}
