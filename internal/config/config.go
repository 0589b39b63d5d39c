// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	AdminPort      int           `yaml:"admin_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"` // apply embedded schema at startup
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequests         uint32        `yaml:"max_requests"`         // allowed in half-open
	Interval            time.Duration `yaml:"interval"`             // closed-state counter reset
	Timeout             time.Duration `yaml:"timeout"`              // open -> half-open
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // trip threshold
}

type BillingConfig struct {
	Provider    string        `yaml:"provider"` // stripe | noop
	Currency    string        `yaml:"currency"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	SuccessURL  string        `yaml:"success_url"`
	CancelURL   string        `yaml:"cancel_url"`
	Retry       RetryConfig   `yaml:"retry"`
	Breaker     BreakerConfig `yaml:"breaker"`
	Stripe      struct {
		SecretKey string `yaml:"secret_key"`
		APIURL    string `yaml:"api_url"` // override for stripe-mock / tests
	} `yaml:"stripe"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	JWTIssuer      string `yaml:"jwt_issuer"`
	InternalAPIKey string `yaml:"internal_api_key"` // billing-event hand-off
	AdminAPIKey    string `yaml:"admin_api_key"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Workers int      `yaml:"workers"` // async publish pool size
}

type SchedulerConfig struct {
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	BatchSize         int           `yaml:"batch_size"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	MaxAttempts       int           `yaml:"max_attempts"` // reconciler gives up after this many tries
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Billing   BillingConfig   `yaml:"billing"`
	Auth      AuthConfig      `yaml:"auth"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from
// the environment before parsing.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	switch cfg.Billing.Provider {
	case "stripe":
		if cfg.Billing.Stripe.SecretKey == "" {
			return nil, errors.New("billing.stripe.secret_key is required")
		}
	case "noop":
		if !dev {
			return nil, errors.New("billing.provider=noop is only allowed with -dev")
		}
	default:
		return nil, fmt.Errorf("unknown billing.provider %q", cfg.Billing.Provider)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka.brokers is required when kafka is enabled")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.AdminPort == 0 {
		c.HTTP.AdminPort = 8081
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	if c.Billing.Provider == "" {
		c.Billing.Provider = "stripe"
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if c.Billing.CallTimeout <= 0 {
		c.Billing.CallTimeout = 10 * time.Second
	}
	if c.Billing.Retry.MaxAttempts <= 0 {
		c.Billing.Retry.MaxAttempts = 3
	}
	if c.Billing.Retry.BaseDelay <= 0 {
		c.Billing.Retry.BaseDelay = 200 * time.Millisecond
	}
	if c.Billing.Breaker.MaxRequests == 0 {
		c.Billing.Breaker.MaxRequests = 1
	}
	if c.Billing.Breaker.Interval <= 0 {
		c.Billing.Breaker.Interval = time.Minute
	}
	if c.Billing.Breaker.Timeout <= 0 {
		c.Billing.Breaker.Timeout = 30 * time.Second
	}
	if c.Billing.Breaker.ConsecutiveFailures == 0 {
		c.Billing.Breaker.ConsecutiveFailures = 5
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "subscription.lifecycle"
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 2
	}

	if c.Scheduler.ExpiryInterval <= 0 {
		c.Scheduler.ExpiryInterval = time.Hour
	}
	if c.Scheduler.ReconcileInterval <= 0 {
		c.Scheduler.ReconcileInterval = 5 * time.Minute
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 200
	}
	if c.Scheduler.LockTTL <= 0 {
		c.Scheduler.LockTTL = 2 * time.Minute
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 10
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
