package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

// Backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	IdempotencyBackendPostgres = "postgres"
	IdempotencyBackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Cache         CacheConfig
	Audit         AuditConfig
	Idempotency   IdempotencyConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
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

// CacheConfig configures the permission resolver caches
type CacheConfig struct {
	Backend string
	Size    int
	TTL     time.Duration
}

// AuditConfig configures the audit chain
type AuditConfig struct {
	HashChainEnabled bool
	VerifySchedule   string
}

// IdempotencyConfig configures duplicate request detection
type IdempotencyConfig struct {
	Backend       string
	TTL           time.Duration
	PurgeSchedule string
}

// RBACConfig configures the permission catalogue
type RBACConfig struct {
	// SeedFile is an optional YAML seed; empty means the built-in defaults
	SeedFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Idempotency:   loadIdempotencyConfig(),
		RBAC:          RBACConfig{SeedFile: getEnv("PARISH_SEED_FILE", "")},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PARISH_HOST", "0.0.0.0"),
		Port:            getEnv("PARISH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PARISH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PARISH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PARISH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PARISH_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PARISH_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("PARISH_POSTGRES_URL", "")
	if maxConns := getEnvInt("PARISH_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("PARISH_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("PARISH_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	cfg.RedisURL = getEnv("PARISH_REDIS_URL", "")
	cfg.RedisPassword = getEnv("PARISH_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("PARISH_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if poolSize := getEnvInt("PARISH_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	return cfg
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend: strings.ToLower(getEnv("PARISH_CACHE_BACKEND", CacheBackendMemory)),
		Size:    getEnvInt("PARISH_CACHE_SIZE", 10000),
		TTL:     getEnvDuration("PARISH_CACHE_TTL", 10*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		HashChainEnabled: getEnvBool("PARISH_AUDIT_HASH_CHAIN_ENABLED", true),
		VerifySchedule:   getEnv("PARISH_AUDIT_VERIFY_SCHEDULE", "@every 1h"),
	}
}

func loadIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Backend:       strings.ToLower(getEnv("PARISH_IDEMPOTENCY_BACKEND", IdempotencyBackendPostgres)),
		TTL:           getEnvDuration("PARISH_IDEMPOTENCY_TTL", 24*time.Hour),
		PurgeSchedule: getEnv("PARISH_IDEMPOTENCY_PURGE_SCHEDULE", "@every 15m"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PARISH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PARISH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PARISH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PARISH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PARISH_OTEL_SERVICE_NAME", "parish-registry"),
		OTelServiceVersion: getEnv("PARISH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PARISH_OTEL_INSECURE", true),
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

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive")
		}
	case CacheBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}

	switch c.Idempotency.Backend {
	case IdempotencyBackendPostgres:
	case IdempotencyBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("invalid idempotency backend: %s (must be postgres or redis)", c.Idempotency.Backend)
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency TTL must be positive")
	}

	if _, err := cron.ParseStandard(c.Audit.VerifySchedule); err != nil {
		return fmt.Errorf("invalid audit verify schedule %q: %w", c.Audit.VerifySchedule, err)
	}
	if _, err := cron.ParseStandard(c.Idempotency.PurgeSchedule); err != nil {
		return fmt.Errorf("invalid idempotency purge schedule %q: %w", c.Idempotency.PurgeSchedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings in the shape observability expects
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
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
