package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	IdempotencyBackendDB    = "db"
	IdempotencyBackendRedis = "redis"
)

type Config struct {
	Env       string
	HTTPPort  string
	APIPrefix string
	LogLevel  string

	DBDriver          string
	DatabaseURL       string
	SQLitePath        string
	DBPoolMax         int
	DBPoolMin         int
	DBConnMaxLifetime time.Duration
	DBAutoMigrate     bool

	CORSAllowedOrigins []string
	HTTPBodyLimitBytes int64
	HTTPRequestTimeout time.Duration

	RateLimitEnabled      bool
	RateLimitPerMin       int
	RateLimitRedisEnabled bool
	RateLimitRedisPrefix  string
	RateLimitFailOpen     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	IdempotencyEnabled bool
	IdempotencyBackend string
	IdempotencyTTL     time.Duration

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	ReadinessProbeTimeout        time.Duration
	ServerStartGracePeriod       time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	MetricsPrometheusEnabled  bool
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_PORT", "3000")
	v.SetDefault("API_PREFIX", "")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "products_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("SQLITE_PATH", "products.db")
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_AUTO_MIGRATE", !isProductionEnv(v.GetString("APP_ENV")))

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("HTTP_BODY_LIMIT_BYTES", 1<<20)
	v.SetDefault("HTTP_REQUEST_TIMEOUT", "15s")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_MIN", 300)
	v.SetDefault("RATE_LIMIT_REDIS_ENABLED", false)
	v.SetDefault("RATE_LIMIT_REDIS_PREFIX", "rl")
	v.SetDefault("RATE_LIMIT_FAIL_OPEN", true)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("IDEMPOTENCY_ENABLED", true)
	v.SetDefault("IDEMPOTENCY_BACKEND", IdempotencyBackendDB)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "catalog-snapshots")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("READINESS_PROBE_TIMEOUT", "1s")
	v.SetDefault("SERVER_START_GRACE_PERIOD", "2s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "20s")
	v.SetDefault("SHUTDOWN_HTTP_DRAIN_TIMEOUT", "15s")
	v.SetDefault("SHUTDOWN_OBSERVABILITY_TIMEOUT", "5s")

	v.SetDefault("OTEL_SERVICE_NAME", "product-catalog-backend")
	v.SetDefault("OTEL_ENVIRONMENT", v.GetString("APP_ENV"))
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "10s")
	v.SetDefault("OTEL_TRACE_SAMPLING_RATIO", 1.0)
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACING_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("METRICS_PROMETHEUS_ENABLED", true)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Env:       v.GetString("APP_ENV"),
		HTTPPort:  v.GetString("HTTP_PORT"),
		APIPrefix: normalizePrefix(v.GetString("API_PREFIX")),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),

		DBDriver:          strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		DBPoolMax:         v.GetInt("DB_POOL_MAX"),
		DBPoolMin:         v.GetInt("DB_POOL_MIN"),
		DBConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DBAutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),

		CORSAllowedOrigins: splitCSV(v.GetString("CORS_ALLOWED_ORIGINS")),
		HTTPBodyLimitBytes: v.GetInt64("HTTP_BODY_LIMIT_BYTES"),
		HTTPRequestTimeout: v.GetDuration("HTTP_REQUEST_TIMEOUT"),

		RateLimitEnabled:      v.GetBool("RATE_LIMIT_ENABLED"),
		RateLimitPerMin:       v.GetInt("RATE_LIMIT_PER_MIN"),
		RateLimitRedisEnabled: v.GetBool("RATE_LIMIT_REDIS_ENABLED"),
		RateLimitRedisPrefix:  v.GetString("RATE_LIMIT_REDIS_PREFIX"),
		RateLimitFailOpen:     v.GetBool("RATE_LIMIT_FAIL_OPEN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		IdempotencyEnabled: v.GetBool("IDEMPOTENCY_ENABLED"),
		IdempotencyBackend: strings.ToLower(strings.TrimSpace(v.GetString("IDEMPOTENCY_BACKEND"))),
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),

		MinIOEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:    v.GetString("MINIO_BUCKET"),
		MinIOUseSSL:    v.GetBool("MINIO_USE_SSL"),

		ReadinessProbeTimeout:        v.GetDuration("READINESS_PROBE_TIMEOUT"),
		ServerStartGracePeriod:       v.GetDuration("SERVER_START_GRACE_PERIOD"),
		ShutdownTimeout:              v.GetDuration("SHUTDOWN_TIMEOUT"),
		ShutdownHTTPDrainTimeout:     v.GetDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT"),
		ShutdownObservabilityTimeout: v.GetDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT"),

		OTELServiceName:           v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:           v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint:  v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure:  v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsExportInterval: v.GetDuration("OTEL_METRICS_EXPORT_INTERVAL"),
		OTELTraceSamplingRatio:    v.GetFloat64("OTEL_TRACE_SAMPLING_RATIO"),
		OTELMetricsEnabled:        v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracingEnabled:        v.GetBool("OTEL_TRACING_ENABLED"),
		OTELLogsEnabled:           v.GetBool("OTEL_LOGS_ENABLED"),
		MetricsPrometheusEnabled:  v.GetBool("METRICS_PROMETHEUS_ENABLED"),
	}
	if cfg.DatabaseURL == "" && cfg.DBDriver == DriverPostgres {
		cfg.DatabaseURL = postgresURL(
			v.GetString("DB_HOST"),
			v.GetString("DB_PORT"),
			v.GetString("DB_USER"),
			v.GetString("DB_PASSWORD"),
			v.GetString("DB_NAME"),
			v.GetString("DB_SSLMODE"),
		)
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []string
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		errs = append(errs, "DB_DRIVER must be one of postgres, sqlite")
	}
	if port, err := strconv.Atoi(c.HTTPPort); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, "HTTP_PORT must be a valid TCP port")
	}
	if c.DBPoolMax <= 0 {
		errs = append(errs, "DB_POOL_MAX must be > 0")
	}
	if c.DBPoolMin < 0 || c.DBPoolMin > c.DBPoolMax {
		errs = append(errs, "DB_POOL_MIN must be between 0 and DB_POOL_MAX")
	}
	if c.DBConnMaxLifetime < 0 {
		errs = append(errs, "DB_CONN_MAX_LIFETIME must be >= 0")
	}
	if c.HTTPBodyLimitBytes <= 0 {
		errs = append(errs, "HTTP_BODY_LIMIT_BYTES must be > 0")
	}
	if c.HTTPRequestTimeout <= 0 {
		errs = append(errs, "HTTP_REQUEST_TIMEOUT must be > 0")
	}
	if c.RateLimitEnabled && c.RateLimitPerMin <= 0 {
		errs = append(errs, "RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RateLimitRedisEnabled && strings.TrimSpace(c.RateLimitRedisPrefix) == "" {
		errs = append(errs, "RATE_LIMIT_REDIS_PREFIX is required when RATE_LIMIT_REDIS_ENABLED=true")
	}
	if c.IdempotencyEnabled {
		switch c.IdempotencyBackend {
		case IdempotencyBackendDB, IdempotencyBackendRedis:
		default:
			errs = append(errs, "IDEMPOTENCY_BACKEND must be one of db, redis")
		}
		if c.IdempotencyTTL <= 0 {
			errs = append(errs, "IDEMPOTENCY_TTL must be > 0")
		}
	}
	if c.RedisRequired() && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, "REDIS_ADDR is required when a redis-backed feature is enabled")
	}
	if c.ReadinessProbeTimeout <= 0 {
		errs = append(errs, "READINESS_PROBE_TIMEOUT must be > 0")
	}
	if c.ServerStartGracePeriod < 0 {
		errs = append(errs, "SERVER_START_GRACE_PERIOD must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.ShutdownHTTPDrainTimeout <= 0 || c.ShutdownHTTPDrainTimeout > c.ShutdownTimeout {
		errs = append(errs, "SHUTDOWN_HTTP_DRAIN_TIMEOUT must be > 0 and <= SHUTDOWN_TIMEOUT")
	}
	if c.ShutdownObservabilityTimeout <= 0 {
		errs = append(errs, "SHUTDOWN_OBSERVABILITY_TIMEOUT must be > 0")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsEnabled && c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}

	if isProductionEnv(c.Env) {
		if c.DBDriver != DriverPostgres {
			errs = append(errs, "production requires DB_DRIVER=postgres")
		}
		for _, origin := range c.CORSAllowedOrigins {
			if origin == "*" {
				errs = append(errs, "production requires explicit CORS_ALLOWED_ORIGINS")
				break
			}
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ValidateSnapshotStorage checks the object storage settings used by the
// export tool. The API server never needs them.
func (c *Config) ValidateSnapshotStorage() error {
	var errs []string
	if strings.TrimSpace(c.MinIOEndpoint) == "" {
		errs = append(errs, "MINIO_ENDPOINT is required")
	}
	if strings.TrimSpace(c.MinIOBucket) == "" {
		errs = append(errs, "MINIO_BUCKET is required")
	}
	if c.MinIOAccessKey == "" || c.MinIOSecretKey == "" {
		errs = append(errs, "MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// RedisRequired reports whether any enabled feature needs a redis connection.
func (c *Config) RedisRequired() bool {
	return (c.RateLimitEnabled && c.RateLimitRedisEnabled) ||
		(c.IdempotencyEnabled && c.IdempotencyBackend == IdempotencyBackendRedis)
}

func (c *Config) IsProduction() bool {
	return isProductionEnv(c.Env)
}

func isProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func postgresURL(host, port, user, password, name, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	if sslMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	}
	return u.String()
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
