// Package config provides application configuration: environment variables
// for process-level settings and a YAML definition file for the API surface.
//
// # Environment variables
//
// Server settings:
//
//	LODE_HOST="0.0.0.0"
//	LODE_PORT="8080"
//	LODE_HEALTH_PORT="9090"
//	LODE_READ_TIMEOUT="15s"
//	LODE_WRITE_TIMEOUT="15s"
//	LODE_SHUTDOWN_TIMEOUT="30s"
//
// Engine settings:
//
//	LODE_CORS_ORIGIN="*"
//	LODE_CONTAINER_PATHS="app/v2,app/v1"
//	LODE_STMT_CACHE_SIZE="512"
//	LODE_MAX_ROWS="10000"
//	LODE_WATCH_DEFINITIONS="true"
//
// Session settings:
//
//	LODE_REDIS_ADDR="localhost:6379"
//	LODE_SESSION_PREFIX="session:"
//	LODE_SESSION_TTL="24h"
//
// Observability settings:
//
//	LODE_LOG_LEVEL="info"
//	LODE_METRICS_ENABLED="true"
//
// # Definition file
//
// LODE_DEFINITIONS points at the YAML file declaring apis, endpoints,
// databases, collections and stock actions. The file is hot-reloaded on
// change unless LODE_WATCH_DEFINITIONS is false.
package config
