/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how events are mirrored to other processes.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DataDir       string // holds the session lock and the default sqlite database
	DBBackend     DatabaseBackend
	DBDSN         string
	DBSlowQuery   time.Duration // statements slower than this are logged
	JWTSigningKey string
	MetricsBind   string
	LogBufferSize int

	// Presentation session
	TickInterval    time.Duration // PLAYBACK_UPDATE cadence while media plays
	DeliveryTimeout time.Duration // per-target delivery timeout
	AutoAdvance     bool          // act on schedule.advance_due instead of only signalling it

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis: content cache, event mirroring and remote output targets
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Event mirroring and remote output targets
	EventBus   EventBusBackend
	NATSURL    string
	AMQPURL    string
	InstanceID string
}

// Load reads an optional .env file and the environment, applies defaults,
// and validates the result. Variables already set in the environment win
// over the file.
func Load() (*Config, error) {
	envFile := getEnv("SANCTUARY_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Environment:   getEnv("SANCTUARY_ENV", "development"),
		HTTPBind:      getEnv("SANCTUARY_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SANCTUARY_HTTP_PORT", 8080),
		DataDir:       getEnv("SANCTUARY_DATA_DIR", "./data"),
		DBBackend:     DatabaseBackend(getEnv("SANCTUARY_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:         getEnv("SANCTUARY_DB_DSN", ""),
		DBSlowQuery:   time.Duration(getEnvInt("SANCTUARY_DB_SLOW_QUERY_MS", 200)) * time.Millisecond,
		JWTSigningKey: getEnv("SANCTUARY_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("SANCTUARY_METRICS_BIND", "127.0.0.1:9000"),
		LogBufferSize: getEnvInt("SANCTUARY_LOG_BUFFER_SIZE", 2000),

		TickInterval:    time.Duration(getEnvInt("SANCTUARY_TICK_INTERVAL_MS", 250)) * time.Millisecond,
		DeliveryTimeout: time.Duration(getEnvInt("SANCTUARY_DELIVERY_TIMEOUT_MS", 2000)) * time.Millisecond,
		AutoAdvance:     getEnvBool("SANCTUARY_AUTO_ADVANCE", false),

		TracingEnabled:    getEnvBool("SANCTUARY_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SANCTUARY_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SANCTUARY_TRACING_SAMPLE_RATE", 1.0),

		CacheEnabled:  getEnvBool("SANCTUARY_CACHE_ENABLED", false),
		RedisAddr:     getEnv("SANCTUARY_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("SANCTUARY_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SANCTUARY_REDIS_DB", 0),

		EventBus:   EventBusBackend(strings.ToLower(getEnv("SANCTUARY_EVENT_BUS", string(EventBusMemory)))),
		NATSURL:    getEnv("SANCTUARY_NATS_URL", ""),
		AMQPURL:    getEnv("SANCTUARY_AMQP_URL", ""),
		InstanceID: getEnv("SANCTUARY_INSTANCE_ID", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("SANCTUARY_DB_DSN must be provided for %s", cfg.DBBackend)
		}
		cfg.DBDSN = filepath.Join(cfg.DataDir, "sanctuary.db")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SANCTUARY_JWT_SIGNING_KEY must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis:
	case EventBusNATS:
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("SANCTUARY_NATS_URL is required when SANCTUARY_EVENT_BUS=nats")
		}
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.TickInterval <= 0 || cfg.DeliveryTimeout <= 0 {
		return nil, fmt.Errorf("tick interval and delivery timeout must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("SANCTUARY_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}

	return cfg, nil
}

// HTTPAddr returns the API listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// LockPath returns the path of the single-owner session lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "sanctuary.lock")
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
