package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/V4T54L/footfall/internal/adapter/clientip"
	"github.com/V4T54L/footfall/internal/domain"
)

const (
	EnvProduction = "production"

	// DefaultHashSecret is only acceptable outside production.
	DefaultHashSecret = "insecure-dev-secret"

	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StoreRawIP       bool   `env:"STORE_RAW_IP" envDefault:"false"`
	FilterPrivateIPs bool   `env:"FILTER_PRIVATE_IPS" envDefault:"true"`
	IPHashSecret     string `env:"IP_HASH_SECRET" envDefault:"insecure-dev-secret"`
	TrustProxy       string `env:"TRUST_PROXY" envDefault:"none"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"postgres"`
	PostgresURL    string `env:"POSTGRES_URL"`
	RedisAddr      string `env:"REDIS_ADDR"`

	WriteRetries        int           `env:"WRITE_RETRIES" envDefault:"2"`
	WriteRetryBaseDelay time.Duration `env:"WRITE_RETRY_BASE_DELAY" envDefault:"200ms"`
	WriteQueueSize      int           `env:"WRITE_QUEUE_SIZE" envDefault:"4096"`
	WriteWorkers        int           `env:"WRITE_WORKERS" envDefault:"4"`
	WarmupTimeout       time.Duration `env:"WARMUP_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	ServerAddr         string   `env:"SERVER_ADDR" envDefault:":8080"`
	MetricsAddr        string   `env:"METRICS_ADDR" envDefault:":9091"`
	UpstreamURL        string   `env:"UPSTREAM_URL"`
	ReportAPIKeys      []string `env:"REPORT_API_KEYS" envSeparator:","`
	MaxEventSize       int64    `env:"MAX_EVENT_SIZE_BYTES" envDefault:"65536"`
	PIIRedactionFields []string `env:"PII_REDACTION_FIELDS" envSeparator:"," envDefault:"email,password,credit_card,ssn"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() && (c.IPHashSecret == "" || c.IPHashSecret == DefaultHashSecret) {
		errs = append(errs, domain.ErrInsecureSecret)
	}
	if _, err := clientip.ParseTrustPolicy(c.TrustProxy); err != nil {
		errs = append(errs, err)
	}

	switch c.StorageBackend {
	case BackendPostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	if c.WriteRetries < 0 {
		errs = append(errs, errors.New("WRITE_RETRIES must not be negative"))
	}
	if c.WriteWorkers <= 0 || c.WriteQueueSize <= 0 {
		errs = append(errs, errors.New("WRITE_WORKERS and WRITE_QUEUE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// TrustPolicy returns the parsed TRUST_PROXY setting.
func (c *Config) TrustPolicy() clientip.TrustPolicy {
	p, err := clientip.ParseTrustPolicy(c.TrustProxy)
	if err != nil {
		return clientip.TrustNone
	}
	return p
}
