package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, BackendMemory, cfg.Backend)
		assert.Equal(t, "localhost:6379", cfg.RedisAddr)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 5*time.Second, cfg.PollTimeout)
		assert.Equal(t, 3, cfg.MaxDeliveryCount)
		assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
		assert.Equal(t, 15*time.Second, cfg.MetricsInterval)
		assert.Empty(t, cfg.MonitorQueues)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("STORE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "redis.internal:6380")
		t.Setenv("CONSUMER_WORKERS", "8")
		t.Setenv("POLL_TIMEOUT", "2")
		t.Setenv("MAX_DELIVERY_COUNT", "5")
		t.Setenv("MONITOR_QUEUES", "orders,emails")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, BackendRedis, cfg.Backend)
		assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
		assert.Equal(t, 8, cfg.Workers)
		assert.Equal(t, 2*time.Second, cfg.PollTimeout)
		assert.Equal(t, 5, cfg.MaxDeliveryCount)
		assert.Equal(t, []string{"orders", "emails"}, cfg.MonitorQueues)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("postgres backend requires a database url", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "postgres")

		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")

		t.Setenv("DATABASE_URL", "postgres://localhost/parcelmq")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, BackendPostgres, cfg.Backend)
	})

	t.Run("unknown backend is rejected", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "cassandra")

		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("invalid port is rejected", func(t *testing.T) {
		t.Setenv("PORT", "70000")

		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("non-numeric int falls back to default", func(t *testing.T) {
		t.Setenv("CONSUMER_WORKERS", "many")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Workers)
	})

	t.Run("zero workers is rejected", func(t *testing.T) {
		t.Setenv("CONSUMER_WORKERS", "0")

		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("list parsing skips empty segments", func(t *testing.T) {
		t.Setenv("MONITOR_QUEUES", "orders,,emails,")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, []string{"orders", "emails"}, cfg.MonitorQueues)
	})
}
