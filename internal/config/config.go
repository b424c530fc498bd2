// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// StoreBackend selects the document store: "memory", "redis", or "postgres".
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DatabaseURL is the Postgres DSN; required when STORE_BACKEND=postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis address or redis:// URL; required when STORE_BACKEND=redis.
	RedisURL string `mapstructure:"REDIS_URL"`

	// HeartbeatInterval is how often the active session refreshes its liveness timestamp (e.g. "10s").
	HeartbeatInterval string `mapstructure:"HEARTBEAT_INTERVAL"`
	// GraceDelay is the window between takeover detection and forced logout (e.g. "30s").
	// Must be longer than HeartbeatInterval so a single missed heartbeat cannot look like a takeover.
	GraceDelay string `mapstructure:"GRACE_DELAY"`
	// IdleTimeout is the inactivity window before unconditional logout (e.g. "15m").
	IdleTimeout string `mapstructure:"IDLE_TIMEOUT"`

	// JWTPublicKey is the PEM-encoded public key (or path to file) used to verify identity tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is the PEM-encoded private key (or path); only needed by hosts that mint identity tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the iss claim expected on identity tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim expected on identity tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// BcryptCost is the bcrypt cost factor (4-31) for the local auth provider; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTLPEndpoint enables OTel export of eviction events when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated broker list; when set, eviction events are also produced to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EvictionKafkaTopic is the Kafka topic for eviction events (default session-guard-evictions).
	EvictionKafkaTopic string `mapstructure:"EVICTION_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the eviction worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is the Loki base URL the eviction worker pushes to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

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

	v.SetDefault("STORE_BACKEND", "memory")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("HEARTBEAT_INTERVAL", "10s")
	v.SetDefault("GRACE_DELAY", "30s")
	v.SetDefault("IDLE_TIMEOUT", "15m")
	v.SetDefault("JWT_ISSUER", "session-guard")
	v.SetDefault("JWT_AUDIENCE", "session-guard-clients")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVICTION_KAFKA_TOPIC", "session-guard-evictions")
	v.SetDefault("KAFKA_GROUP_ID", "session-guard-eviction-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when STORE_BACKEND=redis")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("config: STORE_BACKEND must be memory, redis, or postgres, got %q", cfg.StoreBackend)
	}

	hb, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil || hb <= 0 {
		return nil, fmt.Errorf("config: HEARTBEAT_INTERVAL %q is not a positive duration", cfg.HeartbeatInterval)
	}
	grace, err := time.ParseDuration(cfg.GraceDelay)
	if err != nil || grace <= 0 {
		return nil, fmt.Errorf("config: GRACE_DELAY %q is not a positive duration", cfg.GraceDelay)
	}
	if grace <= hb {
		// A grace window shorter than one heartbeat turns a single missed write into an eviction.
		return nil, fmt.Errorf("config: GRACE_DELAY (%s) must exceed HEARTBEAT_INTERVAL (%s)", grace, hb)
	}
	idle, err := time.ParseDuration(cfg.IdleTimeout)
	if err != nil || idle <= 0 {
		return nil, fmt.Errorf("config: IDLE_TIMEOUT %q is not a positive duration", cfg.IdleTimeout)
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// Heartbeat parses HeartbeatInterval as a time.Duration. Returns 10s if unset or invalid.
func (c *Config) Heartbeat() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Grace parses GraceDelay as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) Grace() time.Duration {
	d, err := time.ParseDuration(c.GraceDelay)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Idle parses IdleTimeout as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) Idle() time.Duration {
	d, err := time.ParseDuration(c.IdleTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka eviction telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
