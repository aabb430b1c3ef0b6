// Package config loads the broker daemon's environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names the queue store implementation the daemon runs on.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config holds all environment configuration.
type Config struct {
	Port             int
	Backend          Backend
	RedisAddr        string
	DatabaseURL      string
	Workers          int
	PollTimeout      time.Duration
	MaxDeliveryCount int
	ShutdownGrace    time.Duration
	MetricsInterval  time.Duration
	MonitorQueues    []string
	LogLevel         string
}

func getEnv(name, defaultVal string) string {
	if value, exists := os.LookupEnv(name); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	if value, exists := os.LookupEnv(name); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultVal
}

// helper: read env var as int seconds, convert to duration.
func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(name); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultVal
}

func getEnvAsList(name string) []string {
	value, exists := os.LookupEnv(name)
	if !exists || value == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			if i > start {
				out = append(out, value[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// LoadConfig reads and validates the daemon configuration from the
// environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		Backend:          Backend(getEnv("STORE_BACKEND", string(BackendMemory))),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		Workers:          getEnvAsInt("CONSUMER_WORKERS", 4),
		PollTimeout:      getEnvAsDuration("POLL_TIMEOUT", 5*time.Second),
		MaxDeliveryCount: getEnvAsInt("MAX_DELIVERY_COUNT", 3),
		ShutdownGrace:    getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),
		MetricsInterval:  getEnvAsDuration("METRICS_INTERVAL", 15*time.Second),
		MonitorQueues:    getEnvAsList("MONITOR_QUEUES"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d", cfg.Port)
	}
	switch cfg.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.Backend)
	}
	if cfg.Backend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres backend")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("invalid CONSUMER_WORKERS: %d", cfg.Workers)
	}
	if cfg.MaxDeliveryCount <= 0 {
		return nil, fmt.Errorf("invalid MAX_DELIVERY_COUNT: %d", cfg.MaxDeliveryCount)
	}

	return cfg, nil
}
