// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Import   ImportConfig
	Offload  OffloadConfig
	AWS      AWSConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is postgres, mongo or memory (default: postgres)
	Backend string `env:"STORE_BACKEND" default:"postgres"`

	// Migrate applies the embedded schema on startup (postgres only, default: true)
	Migrate bool `env:"STORE_MIGRATE" default:"true"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required for the postgres backend)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// MongoConfig holds document store settings.
type MongoConfig struct {
	// URI is the MongoDB connection string (required for the mongo backend)
	URI string `env:"MONGO_URI" envAlt:"MONGO_URL"`

	// Database is the database name (default: onboard)
	Database string `env:"MONGO_DATABASE" default:"onboard"`

	// ConnectTimeout bounds the initial connect and ping (default: 10s)
	ConnectTimeout time.Duration `env:"MONGO_CONNECT_TIMEOUT" default:"10s"`
}

// RedisConfig holds the run lock settings. An empty URL keeps the lock in
// process memory.
type RedisConfig struct {
	// URL is the Redis connection URL, e.g. redis://localhost:6379/0
	URL string `env:"REDIS_URL"`

	// LockTTL is how long a per-role import lock is held without renewal (default: 30m)
	LockTTL time.Duration `env:"REDIS_LOCK_TTL" default:"30m"`
}

// ImportConfig holds import processing settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// BatchSize is the number of pairs written per atomic batch (default: 400)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"400"`

	// RetractBatchSize is the number of identities deleted per batch (default: 400)
	RetractBatchSize int `env:"IMPORT_RETRACT_BATCH_SIZE" default:"400"`

	// OffloadThreshold is the row count above which imports are offloaded (default: 500)
	OffloadThreshold int `env:"IMPORT_OFFLOAD_THRESHOLD" default:"500"`

	// MaxConcurrent is the maximum number of parallel import runs (default: 3)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single import run (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// RetractTimeout is the maximum duration for a retraction (default: 5m)
	RetractTimeout time.Duration `env:"IMPORT_RETRACT_TIMEOUT" default:"5m"`

	// HistoryLimit is the number of audit records returned by listings (default: 50)
	HistoryLimit int `env:"IMPORT_HISTORY_LIMIT" default:"50"`
}

// OffloadConfig holds the remote import function settings.
type OffloadConfig struct {
	// URL is the remote function endpoint. Empty disables offload.
	URL string `env:"OFFLOAD_URL"`

	// Timeout bounds a single remote invocation (default: 9m)
	Timeout time.Duration `env:"OFFLOAD_TIMEOUT" default:"9m"`

	// Token is sent as a bearer token when set
	Token string `env:"OFFLOAD_TOKEN"`
}

// AWSConfig holds archive and notification settings. Both features are
// optional and disabled when their bucket or topic is empty.
type AWSConfig struct {
	// Region is the AWS region (default: us-east-1)
	Region string `env:"AWS_REGION" default:"us-east-1"`

	// Endpoint overrides the service endpoint, e.g. for LocalStack
	Endpoint string `env:"AWS_ENDPOINT"`

	// ArchiveBucket receives a copy of every imported file
	ArchiveBucket string `env:"IMPORT_ARCHIVE_BUCKET"`

	// ArchivePrefix is prepended to archive keys (default: imports/)
	ArchivePrefix string `env:"IMPORT_ARCHIVE_PREFIX" default:"imports/"`

	// EventsTopicARN receives import.completed and import.retracted events
	EventsTopicARN string `env:"IMPORT_EVENTS_TOPIC_ARN"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// OffloadEnabled reports whether a remote import function is configured.
func (c *Config) OffloadEnabled() bool {
	return c.Offload.URL != ""
}

// AWSEnabled reports whether any AWS-backed feature is configured.
func (c *Config) AWSEnabled() bool {
	return c.AWS.ArchiveBucket != "" || c.AWS.EventsTopicARN != ""
}
