// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	PARISH_HOST="0.0.0.0"
//	PARISH_PORT="8080"
//	PARISH_HEALTH_PORT="9090"
//	PARISH_READ_TIMEOUT="15s"
//	PARISH_WRITE_TIMEOUT="15s"
//	PARISH_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	PARISH_POSTGRES_URL="postgres://localhost/parish"   # required
//	PARISH_POSTGRES_MAX_CONNS="20"
//	PARISH_POSTGRES_TIMEOUT="5s"
//	PARISH_REDIS_URL="redis://localhost:6379"
//
// Permission cache:
//
//	PARISH_CACHE_BACKEND="memory"   # memory, redis
//	PARISH_CACHE_SIZE="10000"
//	PARISH_CACHE_TTL="10m"
//
// Audit chain and idempotency:
//
//	PARISH_AUDIT_HASH_CHAIN_ENABLED="true"
//	PARISH_AUDIT_VERIFY_SCHEDULE="@every 1h"
//	PARISH_IDEMPOTENCY_BACKEND="postgres"   # postgres, redis
//	PARISH_IDEMPOTENCY_TTL="24h"
//	PARISH_IDEMPOTENCY_PURGE_SCHEDULE="@every 15m"
//	PARISH_SEED_FILE="/etc/parish/permissions.yaml"
//
// Observability settings:
//
//	PARISH_LOG_LEVEL="info"  # debug, info, warn, error
//	PARISH_METRICS_ENABLED="true"
//	PARISH_OTEL_ENABLED="false"
//	PARISH_OTEL_ENDPOINT="otel-collector:4317"
//
// Schedules use the standard five-field cron syntax or the @every/@hourly
// descriptors understood by robfig/cron.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
