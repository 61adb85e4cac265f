// Package config provides configuration management for the content router
// application. It handles loading configuration from environment variables
// with sensible defaults and validates the configuration to ensure the
// application starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Optional log file path (default: stdout)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./content_router.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional, enables the shared tool cache):
//   - REDIS_ADDRESS: Redis server address (empty disables Redis)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//
// Routing Configuration:
//   - BATCH_SIZE: Default redistribute batch size (default: 10)
//   - BATCH_DELAY: Delay between redistribute batches (default: 1s)
//   - TOOL_CACHE_TTL: Default tool schema cache TTL (default: 5m)
//   - HEALTH_SWEEP_SCHEDULE: Cron schedule for server health checks
//     (default: "*/5 * * * *", empty disables the sweep)
//
// Chat Configuration:
//   - CHAT_MAX_RETRIES: Default per-backend retry count (default: 3)
//   - CHAT_TIMEOUT: Default per-request timeout (default: 60s)
//   - USAGE_LOG_BUFFER: Usage log channel capacity (default: 100)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the content router application.
// All fields correspond to environment variables that can be set to override
// the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	LogFile  string // Optional log file path, stdout when empty

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for the shared tool cache
	RedisAddress  string // Redis server address (host:port), empty disables Redis
	RedisPassword string // Redis authentication password
	RedisDB       int    // Redis database number (0-15)

	// Routing configuration
	BatchSize           int           // Default redistribute batch size
	BatchDelay          time.Duration // Delay between redistribute batches
	ToolCacheTTL        time.Duration // Default tool schema cache TTL
	HealthSweepSchedule string        // Cron schedule for remote server health checks

	// Chat configuration
	ChatMaxRetries int           // Default per-backend retry count
	ChatTimeout    time.Duration // Default per-request timeout
	UsageLogBuffer int           // Usage log channel capacity
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./content_router.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "content_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		BatchSize:           getIntEnv("BATCH_SIZE", 10),
		BatchDelay:          getDurationEnv("BATCH_DELAY", time.Second),
		ToolCacheTTL:        getDurationEnv("TOOL_CACHE_TTL", 5*time.Minute),
		HealthSweepSchedule: getEnv("HEALTH_SWEEP_SCHEDULE", "*/5 * * * *"),

		ChatMaxRetries: getIntEnv("CHAT_MAX_RETRIES", 3),
		ChatTimeout:    getDurationEnv("CHAT_TIMEOUT", 60*time.Second),
		UsageLogBuffer: getIntEnv("USAGE_LOG_BUFFER", 100),
	}
}

// getEnv retrieves an environment variable value or returns a default value
// if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value. Unset, empty,
// or unparseable values return the default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value. Unset,
// empty, or unparseable values return the default.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid.
//
// This method checks field formats (ports, durations), cross-field
// dependencies (PostgreSQL configuration requirements), and sane ranges for
// the routing settings.
//
// The application should call this method after loading configuration and
// before starting to ensure safe operation.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	}

	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 100")
	}
	if c.BatchDelay < time.Second {
		return fmt.Errorf("BATCH_DELAY must be at least 1s")
	}
	if c.ToolCacheTTL < 0 {
		return fmt.Errorf("TOOL_CACHE_TTL must not be negative")
	}

	if c.ChatMaxRetries < 0 {
		return fmt.Errorf("CHAT_MAX_RETRIES must not be negative")
	}
	if c.ChatTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT must be positive")
	}
	if c.UsageLogBuffer < 1 {
		return fmt.Errorf("USAGE_LOG_BUFFER must be a positive number")
	}

	return nil
}
