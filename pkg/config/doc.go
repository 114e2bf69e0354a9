// Package config loads chronicle configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	CHRONICLE_HOST="0.0.0.0"
//	CHRONICLE_PORT="8080"
//	CHRONICLE_READ_TIMEOUT="15s"
//	CHRONICLE_SHUTDOWN_TIMEOUT="30s"
//	CHRONICLE_RATE_LIMIT_ENABLED="true"
//	CHRONICLE_RATE_LIMIT_REQUESTS="100"
//	CHRONICLE_RATE_LIMIT_WINDOW="1m"
//	CHRONICLE_RATE_LIMIT_BURST="10"
//	CHRONICLE_RATE_LIMIT_REDIS_URL="redis://localhost:6379/1"
//
// Storage settings:
//
//	CHRONICLE_STORAGE_TYPE="postgres"  # memory, filesystem, sqlite, postgres, redis, mongo
//	CHRONICLE_FILESYSTEM_ROOT="/var/lib/chronicle"
//	CHRONICLE_SQLITE_PATH="/var/lib/chronicle/chronicle.db"
//	CHRONICLE_POSTGRES_URL="postgres://localhost/chronicle"
//	CHRONICLE_POSTGRES_REPLICA_URLS="postgres://replica1/chronicle,postgres://replica2/chronicle"
//	CHRONICLE_REDIS_URL="redis://localhost:6379"
//	CHRONICLE_MONGO_URI="mongodb://localhost:27017"
//	CHRONICLE_MONGO_DATABASE="chronicle"
//
// Audit, archive and retention settings:
//
//	CHRONICLE_AUDIT_POLICY_FILE="/etc/chronicle/audit.yaml"
//	CHRONICLE_AUDIT_WATCH_POLICY="true"
//	CHRONICLE_S3_BUCKET="chronicle-archive"
//	CHRONICLE_S3_ENDPOINT="http://minio:9000"
//	CHRONICLE_RETENTION_ENABLED="true"
//	CHRONICLE_RETENTION_SCHEDULE="@daily"
//	CHRONICLE_RETENTION_MAX_AGE="2160h"
//	CHRONICLE_RETENTION_COLLECTIONS="users,orders"
//	CHRONICLE_RETENTION_ARCHIVE="true"
//	CHRONICLE_RETENTION_TIMEOUT="1h"
//
// Observability settings:
//
//	CHRONICLE_LOG_LEVEL="info"  # debug, info, warn, error
//	CHRONICLE_METRICS_ENABLED="true"
//	CHRONICLE_OTEL_ENABLED="true"
//	CHRONICLE_OTEL_ENDPOINT="otel-collector:4317"
//	CHRONICLE_OTEL_SAMPLE_RATIO="0.25"
//	CHRONICLE_OTEL_EXPORT_INTERVAL="10s"
package config
