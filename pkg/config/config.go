package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
	"github.com/platinummonkey/glimpse/pkg/storage"
)

// Config holds all agent configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Ledger caps
	Ledger ledger.Config `yaml:"ledger"`

	// Capture configuration
	Capture CaptureConfig `yaml:"capture"`

	// Identity configuration
	Identity IdentityConfig `yaml:"identity"`

	// Session-end signal
	Beacon BeaconConfig `yaml:"beacon"`

	// Scheduled export archive
	Archive ArchiveConfig `yaml:"archive"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins enables CORS for browser hosts; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// CaptureConfig describes the environment the agent reports from and how
// often metrics are derived.
type CaptureConfig struct {
	UserAgent    string        `yaml:"user_agent"`
	ScreenWidth  int           `yaml:"screen_width"`
	ScreenHeight int           `yaml:"screen_height"`
	InitialPath  string        `yaml:"initial_path"`
	Country      string        `yaml:"country"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// ConsentCache caches the consent decision in memory; with the
	// filesystem backend the consent file is watched for outside edits.
	ConsentCache bool `yaml:"consent_cache"`
}

// IdentityConfig enables JWT-backed user identity. An empty secret disables
// identity entirely.
type IdentityConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTIssuer string        `yaml:"jwt_issuer"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// BeaconConfig holds the session-end signal sink. An empty URL disables it.
type BeaconConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig schedules ledger exports to S3. An empty schedule disables
// archiving.
type ArchiveConfig struct {
	Schedule    string `yaml:"schedule"`
	Format      string `yaml:"format"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level is the parsed log level.
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "7480",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Ledger:  ledger.DefaultConfig(),
		Capture: CaptureConfig{
			InitialPath:  "/",
			PollInterval: 30 * time.Second,
		},
		Identity: IdentityConfig{
			Timeout:  500 * time.Millisecond,
			CacheTTL: time.Minute,
		},
		Beacon: BeaconConfig{
			Timeout: 5 * time.Second,
		},
		Archive: ArchiveConfig{
			Format:   "ndjson",
			S3Prefix: "glimpse",
			S3Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "glimpse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by GLIMPSE_CONFIG (if any), then GLIMPSE_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GLIMPSE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("GLIMPSE_HOST", s.Host)
	s.Port = getEnv("GLIMPSE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("GLIMPSE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("GLIMPSE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("GLIMPSE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("GLIMPSE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getEnvList("GLIMPSE_CORS_ORIGINS", s.AllowedOrigins)

	st := &c.Storage
	st.Type = getEnv("GLIMPSE_STORAGE_TYPE", st.Type)
	st.FilesystemRoot = getEnv("GLIMPSE_FILESYSTEM_ROOT", st.FilesystemRoot)
	st.RedisURL = getEnv("GLIMPSE_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("GLIMPSE_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("GLIMPSE_REDIS_DB", st.RedisDB)
	st.RedisKeyPrefix = getEnv("GLIMPSE_REDIS_KEY_PREFIX", st.RedisKeyPrefix)
	st.RedisPoolSize = getEnvInt("GLIMPSE_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.SQLDSN = getEnv("GLIMPSE_SQL_DSN", st.SQLDSN)
	st.SQLMaxConns = getEnvInt("GLIMPSE_SQL_MAX_CONNS", st.SQLMaxConns)
	st.SQLTimeout = getEnvDuration("GLIMPSE_SQL_TIMEOUT", st.SQLTimeout)

	l := &c.Ledger
	l.PageViewCap = getEnvInt("GLIMPSE_PAGEVIEW_CAP", l.PageViewCap)
	l.EventCap = getEnvInt("GLIMPSE_EVENT_CAP", l.EventCap)
	l.SessionCap = getEnvInt("GLIMPSE_SESSION_CAP", l.SessionCap)
	l.ConsentCap = getEnvInt("GLIMPSE_CONSENT_CAP", l.ConsentCap)

	cp := &c.Capture
	cp.UserAgent = getEnv("GLIMPSE_USER_AGENT", cp.UserAgent)
	cp.ScreenWidth = getEnvInt("GLIMPSE_SCREEN_WIDTH", cp.ScreenWidth)
	cp.ScreenHeight = getEnvInt("GLIMPSE_SCREEN_HEIGHT", cp.ScreenHeight)
	cp.InitialPath = getEnv("GLIMPSE_INITIAL_PATH", cp.InitialPath)
	cp.Country = getEnv("GLIMPSE_COUNTRY", cp.Country)
	cp.PollInterval = getEnvDuration("GLIMPSE_POLL_INTERVAL", cp.PollInterval)
	cp.ConsentCache = getEnvBool("GLIMPSE_CONSENT_CACHE", cp.ConsentCache)

	id := &c.Identity
	id.JWTSecret = getEnv("GLIMPSE_JWT_SECRET", id.JWTSecret)
	id.JWTIssuer = getEnv("GLIMPSE_JWT_ISSUER", id.JWTIssuer)
	id.TokenFile = getEnv("GLIMPSE_TOKEN_FILE", id.TokenFile)
	id.Timeout = getEnvDuration("GLIMPSE_IDENTITY_TIMEOUT", id.Timeout)
	id.CacheTTL = getEnvDuration("GLIMPSE_IDENTITY_CACHE_TTL", id.CacheTTL)

	b := &c.Beacon
	b.URL = getEnv("GLIMPSE_BEACON_URL", b.URL)
	b.Secret = getEnv("GLIMPSE_BEACON_SECRET", b.Secret)
	b.Timeout = getEnvDuration("GLIMPSE_BEACON_TIMEOUT", b.Timeout)

	a := &c.Archive
	a.Schedule = getEnv("GLIMPSE_ARCHIVE_SCHEDULE", a.Schedule)
	a.Format = getEnv("GLIMPSE_ARCHIVE_FORMAT", a.Format)
	a.S3Bucket = getEnv("GLIMPSE_S3_BUCKET", a.S3Bucket)
	a.S3Prefix = getEnv("GLIMPSE_S3_PREFIX", a.S3Prefix)
	a.S3Region = getEnv("GLIMPSE_S3_REGION", a.S3Region)
	a.S3Endpoint = getEnv("GLIMPSE_S3_ENDPOINT", a.S3Endpoint)
	a.S3AccessKey = getEnv("GLIMPSE_S3_ACCESS_KEY", a.S3AccessKey)
	a.S3SecretKey = getEnv("GLIMPSE_S3_SECRET_KEY", a.S3SecretKey)
	a.S3PathStyle = getEnvBool("GLIMPSE_S3_PATH_STYLE", a.S3PathStyle)

	o := &c.Observability
	o.LogLevel = getEnv("GLIMPSE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("GLIMPSE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("GLIMPSE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("GLIMPSE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("GLIMPSE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("GLIMPSE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("GLIMPSE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("GLIMPSE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.Capture.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if c.Beacon.URL != "" {
		u, err := url.Parse(c.Beacon.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("beacon URL must be an absolute http(s) URL: %q", c.Beacon.URL)
		}
	}

	if c.Identity.JWTSecret != "" && c.Identity.TokenFile == "" {
		return errors.New("identity token file is required when a JWT secret is set")
	}

	if c.Archive.Schedule != "" {
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			return fmt.Errorf("invalid archive schedule %q: %w", c.Archive.Schedule, err)
		}
		if c.Archive.S3Bucket == "" {
			return errors.New("S3 bucket is required when archiving is scheduled")
		}
		switch strings.ToLower(c.Archive.Format) {
		case "json", "ndjson", "csv":
		default:
			return fmt.Errorf("invalid archive format: %s (must be json, ndjson, or csv)", c.Archive.Format)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
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
