package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Audit         AuditConfig
	Archive       ArchiveConfig
	Retention     RetentionConfig
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
	RateLimit       RateLimitConfig
}

// RateLimitConfig limits API requests per client. RedisURL shares the limit
// across replicas.
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
	Burst    int
	RedisURL string
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// AuditConfig locates the audit policy.
type AuditConfig struct {
	// PolicyFile is a YAML policy; empty audits every collection.
	PolicyFile  string
	WatchPolicy bool
}

// LoadPolicy reads PolicyFile, or returns the default policy when none is set.
func (a AuditConfig) LoadPolicy() (audit.Policy, error) {
	if a.PolicyFile == "" {
		return audit.DefaultPolicy(), nil
	}
	return audit.LoadPolicyFile(a.PolicyFile)
}

// ArchiveConfig configures the S3 archive.
type ArchiveConfig struct {
	S3     archive.Config
	Prefix string
}

// Enabled reports whether a bucket is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.S3.Bucket != ""
}

// RetentionConfig configures history pruning.
type RetentionConfig struct {
	Enabled     bool
	Schedule    string
	MaxAge      time.Duration
	Collections []string
	Concurrency int
	Timeout     time.Duration

	// Archive uploads rows to S3 before they are pruned.
	Archive bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       logrus.Level
	MetricsEnabled bool
	OTel           observability.OTelConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Audit:         loadAuditConfig(),
		Archive:       loadArchiveConfig(),
		Retention:     loadRetentionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CHRONICLE_HOST", "0.0.0.0"),
		Port:            getEnv("CHRONICLE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CHRONICLE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CHRONICLE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CHRONICLE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CHRONICLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("CHRONICLE_RATE_LIMIT_ENABLED", false),
			Requests: getEnvInt("CHRONICLE_RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvDuration("CHRONICLE_RATE_LIMIT_WINDOW", time.Minute),
			Burst:    getEnvInt("CHRONICLE_RATE_LIMIT_BURST", 10),
			RedisURL: getEnv("CHRONICLE_RATE_LIMIT_REDIS_URL", ""),
		},
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Type = getEnv("CHRONICLE_STORAGE_TYPE", cfg.Type)
	cfg.FilesystemRoot = getEnv("CHRONICLE_FILESYSTEM_ROOT", cfg.FilesystemRoot)
	cfg.SQLitePath = getEnv("CHRONICLE_SQLITE_PATH", cfg.SQLitePath)

	// PostgreSQL config
	cfg.PostgresURL = getEnv("CHRONICLE_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnvList("CHRONICLE_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("CHRONICLE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("CHRONICLE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("CHRONICLE_POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	// Redis config
	cfg.RedisURL = getEnv("CHRONICLE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("CHRONICLE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("CHRONICLE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("CHRONICLE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("CHRONICLE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisKeyPrefix = getEnv("CHRONICLE_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	// MongoDB config
	cfg.MongoURI = getEnv("CHRONICLE_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getEnv("CHRONICLE_MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MongoTimeout = getEnvDuration("CHRONICLE_MONGO_TIMEOUT", cfg.MongoTimeout)

	return cfg
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		PolicyFile:  getEnv("CHRONICLE_AUDIT_POLICY_FILE", ""),
		WatchPolicy: getEnvBool("CHRONICLE_AUDIT_WATCH_POLICY", false),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		S3: archive.Config{
			Bucket:       getEnv("CHRONICLE_S3_BUCKET", ""),
			Region:       getEnv("CHRONICLE_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("CHRONICLE_S3_ENDPOINT", ""),
			AccessKey:    getEnv("CHRONICLE_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("CHRONICLE_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("CHRONICLE_S3_USE_PATH_STYLE", false),
		},
		Prefix: getEnv("CHRONICLE_ARCHIVE_PREFIX", ""),
	}
}

func loadRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:     getEnvBool("CHRONICLE_RETENTION_ENABLED", false),
		Schedule:    getEnv("CHRONICLE_RETENTION_SCHEDULE", "@daily"),
		MaxAge:      getEnvDuration("CHRONICLE_RETENTION_MAX_AGE", 90*24*time.Hour),
		Collections: getEnvList("CHRONICLE_RETENTION_COLLECTIONS", nil),
		Concurrency: getEnvInt("CHRONICLE_RETENTION_CONCURRENCY", 4),
		Timeout:     getEnvDuration("CHRONICLE_RETENTION_TIMEOUT", time.Hour),
		Archive:     getEnvBool("CHRONICLE_RETENTION_ARCHIVE", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	otelCfg := observability.DefaultOTelConfig()
	otelCfg.Enabled = getEnvBool("CHRONICLE_OTEL_ENABLED", false)
	otelCfg.Endpoint = getEnv("CHRONICLE_OTEL_ENDPOINT", otelCfg.Endpoint)
	otelCfg.ServiceName = getEnv("CHRONICLE_OTEL_SERVICE_NAME", otelCfg.ServiceName)
	otelCfg.ServiceVersion = getEnv("CHRONICLE_OTEL_SERVICE_VERSION", otelCfg.ServiceVersion)
	otelCfg.Insecure = getEnvBool("CHRONICLE_OTEL_INSECURE", otelCfg.Insecure)
	otelCfg.SampleRatio = getEnvFloat("CHRONICLE_OTEL_SAMPLE_RATIO", otelCfg.SampleRatio)
	otelCfg.ExportInterval = getEnvDuration("CHRONICLE_OTEL_EXPORT_INTERVAL", otelCfg.ExportInterval)

	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("CHRONICLE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("CHRONICLE_METRICS_ENABLED", true),
		OTel:           otelCfg,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if rl := c.Server.RateLimit; rl.Enabled && (rl.Requests <= 0 || rl.Window <= 0 || rl.Burst < 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("mongo URI is required for mongo storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, sqlite, postgres, redis, or mongo)", c.Storage.Type)
	}

	if c.Audit.WatchPolicy && c.Audit.PolicyFile == "" {
		return fmt.Errorf("audit policy file is required when watching the policy")
	}

	if c.Retention.Enabled {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", c.Retention.Schedule, err)
		}
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention max age must be positive")
		}
		if len(c.Retention.Collections) == 0 {
			return fmt.Errorf("retention requires at least one collection")
		}
		if c.Retention.Concurrency <= 0 {
			return fmt.Errorf("retention concurrency must be positive")
		}
		if c.Retention.Archive && !c.Archive.Enabled() {
			return fmt.Errorf("S3 bucket is required to archive before pruning")
		}
	}

	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTel.SampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string, falling back to info
func parseLogLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
