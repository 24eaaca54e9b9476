package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lodeworks/lode/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Engine configuration
	Engine EngineConfig

	// Session store configuration
	Sessions SessionConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Definitions is the path to the API definition file
	Definitions string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// EngineConfig holds dispatch engine settings
type EngineConfig struct {
	CorsOrigin     string
	ContainerPaths []string
	StmtCacheSize  int
	MaxRows        int
	WatchDefs      bool
}

// SessionConfig holds session store settings
type SessionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Engine:        loadEngineConfig(),
		Sessions:      loadSessionConfig(),
		Observability: loadObservabilityConfig(),
		Definitions:   getEnv("LODE_DEFINITIONS", "lode.yaml"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LODE_HOST", "0.0.0.0"),
		Port:            getEnv("LODE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LODE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LODE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LODE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LODE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LODE_HEALTH_PORT", "9090"),
	}
}

// loadEngineConfig loads engine configuration from environment
func loadEngineConfig() EngineConfig {
	cfg := EngineConfig{
		CorsOrigin:    getEnv("LODE_CORS_ORIGIN", "*"),
		StmtCacheSize: getEnvInt("LODE_STMT_CACHE_SIZE", 512),
		MaxRows:       getEnvInt("LODE_MAX_ROWS", 10000),
		WatchDefs:     getEnvBool("LODE_WATCH_DEFINITIONS", true),
	}
	if raw := getEnv("LODE_CONTAINER_PATHS", ""); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ContainerPaths = append(cfg.ContainerPaths, p)
			}
		}
	}
	return cfg
}

// loadSessionConfig loads session store configuration from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		RedisAddr:     getEnv("LODE_REDIS_ADDR", ""),
		RedisPassword: getEnv("LODE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("LODE_REDIS_DB", 0),
		KeyPrefix:     getEnv("LODE_SESSION_PREFIX", "session:"),
		TTL:           getEnvDuration("LODE_SESSION_TTL", 24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("LODE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("LODE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Engine.StmtCacheSize <= 0 {
		return fmt.Errorf("statement cache size must be positive")
	}
	if c.Engine.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive")
	}

	if c.Definitions == "" {
		return fmt.Errorf("an API definition file is required")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
