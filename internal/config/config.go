// Package config provides centralized configuration management for the
// notification delivery service. It loads configuration from environment
// variables with sensible defaults and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Bus      BusConfig
	Push     PushConfig
	Worker   WorkerConfig
	Debug    DebugConfig

	// Env is the deployment environment (development, production).
	Env string
}

// ServerConfig holds the boundary HTTP server configuration (health and
// metrics endpoints, plus the WebSocket bus upgrade endpoint).
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds the Postgres connection configuration used by both
// the notification store and the LISTEN/NOTIFY change listener.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// BusConfig holds the in-process WebSocket bus configuration. BindAddr is
// read from WEBSOCKET_BUS_URL but no component uses it: the /ws endpoint is
// served by the boundary HTTP server on Server.Host/Port.
type BusConfig struct {
	BindAddr     string
	ServiceToken string // bearer token required on the /ws upgrade
}

// PushConfig holds the FCM v1 push sink configuration.
type PushConfig struct {
	ProjectID       string
	CredentialsPath string
	SendRateLimit   int // sends per second
}

// WorkerConfig holds the delivery engine's polling and retry configuration.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// DebugConfig toggles verbose, potentially sensitive logging. Every flag
// defaults to disabled except LogTiming, which is noisy but harmless.
type DebugConfig struct {
	Enabled      bool
	LogPayloads  bool
	LogSQL       bool
	LogFCMTokens bool
	LogTiming    bool
}

// AppConfig is the process-wide configuration instance, set once by Load.
var AppConfig *Config

// Load initializes the application configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnvWithDefault("ENV", "development"),

		Server: ServerConfig{
			Host:         getEnvWithDefault("HOST", "0.0.0.0"),
			Port:         getEnvWithDefault("PORT", "8080"),
			ReadTimeout:  getDurationFromEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationFromEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},

		Database: DatabaseConfig{
			URL:             getEnvRequired("DATABASE_URL"),
			MaxConns:        int32(getIntFromEnv("DB_MAX_CONNS", 10)),
			MinConns:        int32(getIntFromEnv("DB_MIN_CONNS", 2)),
			ConnMaxLifetime: getDurationFromEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getDurationFromEnv("DB_CONN_MAX_IDLE_TIME", 300*time.Second),
		},

		Bus: BusConfig{
			BindAddr:     getEnvWithDefault("WEBSOCKET_BUS_URL", ""),
			ServiceToken: os.Getenv("SERVICE_TOKEN"),
		},

		Push: PushConfig{
			ProjectID:       os.Getenv("FCM_PROJECT_ID"),
			CredentialsPath: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			SendRateLimit:   getIntFromEnv("PUSH_SEND_RATE_LIMIT", 100),
		},

		Worker: WorkerConfig{
			PollInterval: getDurationSecondsFromEnv("WORKER_POLL_INTERVAL_SECS", 60),
			BatchSize:    getIntFromEnv("WORKER_BATCH_SIZE", 100),
			MaxRetries:   getIntFromEnv("MAX_RETRIES", 3),
		},

		Debug: DebugConfig{
			Enabled:      getBoolFromEnv("DEBUG_MODE", false),
			LogPayloads:  getBoolFromEnv("DEBUG_LOG_PAYLOADS", false),
			LogSQL:       getBoolFromEnv("DEBUG_LOG_SQL", false),
			LogFCMTokens: getBoolFromEnv("DEBUG_LOG_FCM_TOKENS", false),
			LogTiming:    getBoolFromEnv("DEBUG_LOG_TIMING", true),
		},
	}

	AppConfig = cfg
	return cfg, nil
}

// IsProduction returns true if running in the production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Helper functions for environment variable parsing.

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("Warning: Required environment variable %s is not set\n", key)
	}
	return value
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDurationSecondsFromEnv(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}

func getBoolFromEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1":
		return true
	default:
		return defaultValue
	}
}
