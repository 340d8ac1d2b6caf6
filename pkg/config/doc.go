// Package config provides agent configuration from defaults, an optional
// YAML file and environment variables.
//
// # Overview
//
// LoadConfig starts from Default, overlays the YAML file named by
// GLIMPSE_CONFIG, then applies GLIMPSE_* environment variables, and
// validates the result.
//
// # Configuration Structure
//
// Server settings:
//
//	GLIMPSE_HOST="127.0.0.1"
//	GLIMPSE_PORT="7480"
//	GLIMPSE_SHUTDOWN_TIMEOUT="30s"
//	GLIMPSE_CORS_ORIGINS="https://app.example.com"  # comma-separated, "*" for any
//
// Storage settings:
//
//	GLIMPSE_STORAGE_TYPE="sqlite"  # memory, filesystem, redis, sqlite, postgres
//	GLIMPSE_FILESYSTEM_ROOT="/var/lib/glimpse"
//	GLIMPSE_REDIS_URL="redis://localhost:6379"
//	GLIMPSE_SQL_DSN="file:glimpse.db"
//
// Capture settings:
//
//	GLIMPSE_PAGEVIEW_CAP="1000"
//	GLIMPSE_USER_AGENT="Mozilla/5.0 ..."
//	GLIMPSE_POLL_INTERVAL="30s"
//	GLIMPSE_BEACON_URL="https://collect.example.com/session-end"
//	GLIMPSE_JWT_SECRET="..."
//
// Archive settings:
//
//	GLIMPSE_ARCHIVE_SCHEDULE="0 3 * * *"
//	GLIMPSE_S3_BUCKET="telemetry-exports"
//
// Observability settings:
//
//	GLIMPSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GLIMPSE_METRICS_ENABLED="true"
//	GLIMPSE_OTEL_ENABLED="true"
//	GLIMPSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s, storage %s\n", cfg.Server.Addr(), cfg.Storage.Type)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
