// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"playback-control-plane/backend/internal/ratelimit"
)

// cacheMargin is subtracted from the poll interval to get the monitor's status cache TTL.
const cacheMargin = 5 * time.Second

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the server runs on in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA); only needed to mint tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key used to verify access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the expected iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m") for minted tokens.
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// PollInterval is how often a Client Monitor asks for status.
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	// LivenessMultiple is the number of poll intervals a lease may go untouched before it is stale.
	LivenessMultiple int `mapstructure:"LIVENESS_MULTIPLE"`
	// HeartbeatInterval is how often the desktop agent sends heartbeats. Defaults to PollInterval.
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	// RecentWindow bounds how far back open leases are considered by opened_at.
	RecentWindow time.Duration `mapstructure:"RECENT_WINDOW"`
	// RateLimitRequests is the per-user request limit per RateLimitWindow.
	RateLimitRequests int `mapstructure:"RATE_LIMIT_REQUESTS"`
	// RateLimitWindow is the sliding window length of the rate limiter.
	RateLimitWindow time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	// MonitorRequestTimeout bounds one status request from a Client Monitor; must be below PollInterval.
	MonitorRequestTimeout time.Duration `mapstructure:"MONITOR_REQUEST_TIMEOUT"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure forces a plaintext OTLP connection.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the server publishes playback events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for playback events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// LogLevel is the zerolog level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or console.
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "playback-auth")
	v.SetDefault("JWT_AUDIENCE", "playback-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("LIVENESS_MULTIPLE", 6)
	v.SetDefault("HEARTBEAT_INTERVAL", "0s")
	v.SetDefault("RECENT_WINDOW", "168h")
	v.SetDefault("RATE_LIMIT_REQUESTS", 30)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("MONITOR_REQUEST_TIMEOUT", "5s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "playback-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "playback-events-worker")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.PollInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the timing relationships the arbitration service relies on.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: POLL_INTERVAL must be positive")
	}
	if c.LivenessMultiple < 2 {
		return errors.New("config: LIVENESS_MULTIPLE must be at least 2")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("config: HEARTBEAT_INTERVAL must be positive")
	}
	if c.HeartbeatInterval >= c.LeaseTTL() {
		return errors.New("config: HEARTBEAT_INTERVAL must be shorter than the lease TTL")
	}
	if c.RecentWindow < c.LeaseTTL() {
		return errors.New("config: RECENT_WINDOW must not be shorter than the lease TTL")
	}
	if c.MonitorRequestTimeout <= 0 || c.MonitorRequestTimeout >= c.PollInterval {
		return errors.New("config: MONITOR_REQUEST_TIMEOUT must be positive and shorter than POLL_INTERVAL")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("config: RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if err := ratelimit.CheckBudget(c.RateLimitRequests, c.RateLimitWindow, c.PollInterval, c.HeartbeatInterval); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LeaseTTL is the liveness TTL: PollInterval × LivenessMultiple.
func (c *Config) LeaseTTL() time.Duration {
	return c.PollInterval * time.Duration(c.LivenessMultiple)
}

// HeartbeatWindow is how long a heartbeat counts as live. It shares the lease TTL.
func (c *Config) HeartbeatWindow() time.Duration {
	return c.LeaseTTL()
}

// CacheTTL is how long a Client Monitor may reuse a status response.
func (c *Config) CacheTTL() time.Duration {
	if c.PollInterval > 2*cacheMargin {
		return c.PollInterval - cacheMargin
	}
	return c.PollInterval / 2
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
