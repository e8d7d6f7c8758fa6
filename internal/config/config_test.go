package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("HeartbeatTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{HeartbeatSeconds: 30}
		assert.Equal(t, 30*time.Second, cfg.HeartbeatTTL())
	})

	t.Run("RingTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{RingTimeoutSeconds: 45}
		assert.Equal(t, 45*time.Second, cfg.RingTimeout())
	})

	t.Run("TypingTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{TypingTTLSeconds: 3}
		assert.Equal(t, 3*time.Second, cfg.TypingTTL())
	})

	t.Run("CallRetention converts days to duration", func(t *testing.T) {
		cfg := &Config{CallRetentionDays: 30}
		assert.Equal(t, 30*24*time.Hour, cfg.CallRetention())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                 os.Getenv("PORT"),
		"DATABASE_URL":         os.Getenv("DATABASE_URL"),
		"REDIS_URL":            os.Getenv("REDIS_URL"),
		"ROUTING_TOKEN_SECRET": os.Getenv("ROUTING_TOKEN_SECRET"),
		"HEARTBEAT_SECONDS":    os.Getenv("HEARTBEAT_SECONDS"),
		"RING_TIMEOUT_SECONDS": os.Getenv("RING_TIMEOUT_SECONDS"),
		"TYPING_TTL_SECONDS":   os.Getenv("TYPING_TTL_SECONDS"),
		"CALL_RETENTION_DAYS":  os.Getenv("CALL_RETENTION_DAYS"),
		"LOG_LEVEL":            os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("HEARTBEAT_SECONDS")
		os.Unsetenv("RING_TIMEOUT_SECONDS")
		os.Unsetenv("TYPING_TTL_SECONDS")
		os.Unsetenv("CALL_RETENTION_DAYS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 30, cfg.HeartbeatSeconds)
		assert.Equal(t, 30, cfg.RingTimeoutSeconds)
		assert.Equal(t, 3, cfg.TypingTTLSeconds)
		assert.Equal(t, 30, cfg.CallRetentionDays)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("RING_TIMEOUT_SECONDS", "15")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 15, cfg.RingTimeoutSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails when DATABASE_URL is missing", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("passes outside production with empty secrets", func(t *testing.T) {
		cfg := &Config{}
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects short token secret in production", func(t *testing.T) {
		cfg := &Config{RoutingTokenSecret: "short"}
		err := cfg.Validate(true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ROUTING_TOKEN_SECRET")
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		weak := "change-me"
		cfg := &Config{RoutingTokenSecret: weak + strings.Repeat("x", 32)}
		assert.NoError(t, cfg.Validate(true))

		cfg.RoutingTokenSecret = weak
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("accepts strong token secret in production", func(t *testing.T) {
		cfg := &Config{RoutingTokenSecret: strings.Repeat("a", 48)}
		assert.NoError(t, cfg.Validate(true))
	})
}
