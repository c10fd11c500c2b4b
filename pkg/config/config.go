package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ENROLLPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ENROLLPAY_APP_ENV"
	EnvPort     = "ENROLLPAY_APP_PORT"
	EnvLogLevel = "ENROLLPAY_LOG_LEVEL"

	EnvDBDriver = "ENROLLPAY_DB_DRIVER"
	EnvDBDSN    = "ENROLLPAY_DB_DSN"

	EnvRedisURL     = "ENROLLPAY_REDIS_URL"
	EnvRedisAddr    = "ENROLLPAY_REDIS_ADDR"
	EnvRedisLockTTL = "ENROLLPAY_REDIS_LOCK_TTL"

	EnvSessionSecret = "ENROLLPAY_SESSION_SECRET"
	EnvSessionTTL    = "ENROLLPAY_SESSION_TTL"

	EnvIdentitySecret = "ENROLLPAY_IDENTITY_SECRET"
	EnvIdentityIssuer = "ENROLLPAY_IDENTITY_ISSUER"

	EnvGatewayKeyID         = "ENROLLPAY_GATEWAY_KEY_ID"
	EnvGatewayKeySecret     = "ENROLLPAY_GATEWAY_KEY_SECRET"
	EnvGatewayWebhookSecret = "ENROLLPAY_GATEWAY_WEBHOOK_SECRET"
	EnvGatewayTimeout       = "ENROLLPAY_GATEWAY_TIMEOUT"

	// MinSecretLength is the minimum raw length accepted for any HMAC signing secret.
	MinSecretLength = 32
)

const (
	DBDriverMemory   = "memory"
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Session      SessionConfig
	Identity     IdentityConfig
	Gateway      GatewayConfig
	Webhook      WebhookConfig
	RateLimit    RateLimitConfig
	Idempotency  IdempotencyConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field rules envconfig cannot express. Signing secrets
// fail closed: there is no unsigned session mode.
func (c *Config) Validate() error {
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.DB.validate(); err != nil {
		return err
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvGatewayTimeout)
	}
	// order locks are held across gateway calls and must outlive them
	if c.Redis.Enabled() && c.Redis.LockTTL <= c.Gateway.Timeout {
		return fmt.Errorf("%s (%s) must be longer than %s (%s)", EnvRedisLockTTL, c.Redis.LockTTL, EnvGatewayTimeout, c.Gateway.Timeout)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"ENROLLPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"ENROLLPAY_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"ENROLLPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"ENROLLPAY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"ENROLLPAY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	Driver string `envconfig:"ENROLLPAY_DB_DRIVER" default:"memory"`
	DSN    string `envconfig:"ENROLLPAY_DB_DSN"`

	MaxOpenConns    int           `envconfig:"ENROLLPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENROLLPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENROLLPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENROLLPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ENROLLPAY_DB_SLOW_QUERY" default:"500ms"`
}

// NormalizedDriver returns the lower-cased driver name.
func (d DBConfig) NormalizedDriver() string {
	return strings.ToLower(strings.TrimSpace(d.Driver))
}

func (d DBConfig) validate() error {
	switch d.NormalizedDriver() {
	case DBDriverMemory:
		return nil
	case DBDriverPostgres, DBDriverSQLite:
		if strings.TrimSpace(d.DSN) == "" {
			return fmt.Errorf("%s is required for driver %q", EnvDBDSN, d.Driver)
		}
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvDBDriver, DBDriverMemory, DBDriverPostgres, DBDriverSQLite)
	}
}

type RedisConfig struct {
	URL          string        `envconfig:"ENROLLPAY_REDIS_URL"`
	Address      string        `envconfig:"ENROLLPAY_REDIS_ADDR"`
	Password     string        `envconfig:"ENROLLPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENROLLPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENROLLPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENROLLPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENROLLPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENROLLPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENROLLPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	LockTTL      time.Duration `envconfig:"ENROLLPAY_REDIS_LOCK_TTL" default:"30s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type SessionConfig struct {
	Secret              string        `envconfig:"ENROLLPAY_SESSION_SECRET" required:"true"`
	TTL                 time.Duration `envconfig:"ENROLLPAY_SESSION_TTL" default:"120h"`
	CookieName          string        `envconfig:"ENROLLPAY_SESSION_COOKIE" default:"session"`
	SignatureCookieName string        `envconfig:"ENROLLPAY_SESSION_SIGNATURE_COOKIE" default:"session_sig"`
	SecureCookies       bool          `envconfig:"ENROLLPAY_SESSION_SECURE_COOKIES" default:"true"`
}

func (s SessionConfig) validate() error {
	secret := s.Secret
	if secret == "" {
		return fmt.Errorf("%s is required", EnvSessionSecret)
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%s must be at least %d characters", EnvSessionSecret, MinSecretLength)
	}
	if s.TTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvSessionTTL)
	}
	if s.CookieName == s.SignatureCookieName {
		return fmt.Errorf("session cookie names must differ")
	}
	return nil
}

type IdentityConfig struct {
	Secret   string `envconfig:"ENROLLPAY_IDENTITY_SECRET" required:"true"`
	Issuer   string `envconfig:"ENROLLPAY_IDENTITY_ISSUER" default:"enrollpay-identity"`
	Audience string `envconfig:"ENROLLPAY_IDENTITY_AUDIENCE" default:"enrollpay"`
}

type GatewayConfig struct {
	KeyID           string        `envconfig:"ENROLLPAY_GATEWAY_KEY_ID"`
	KeySecret       string        `envconfig:"ENROLLPAY_GATEWAY_KEY_SECRET"`
	WebhookSecret   string        `envconfig:"ENROLLPAY_GATEWAY_WEBHOOK_SECRET"`
	BaseURL         string        `envconfig:"ENROLLPAY_GATEWAY_BASE_URL" default:"https://api.razorpay.com"`
	Timeout         time.Duration `envconfig:"ENROLLPAY_GATEWAY_TIMEOUT" default:"10s"`
	SignatureHeader string        `envconfig:"ENROLLPAY_GATEWAY_SIGNATURE_HEADER" default:"X-Razorpay-Signature"`
	EventIDHeader   string        `envconfig:"ENROLLPAY_GATEWAY_EVENT_ID_HEADER" default:"X-Razorpay-Event-Id"`
	DefaultCurrency string        `envconfig:"ENROLLPAY_GATEWAY_DEFAULT_CURRENCY" default:"INR"`
}

// Configured reports whether API credentials are present.
func (g GatewayConfig) Configured() bool {
	return strings.TrimSpace(g.KeyID) != "" && strings.TrimSpace(g.KeySecret) != ""
}

type WebhookConfig struct {
	ProcessedTTL    time.Duration `envconfig:"ENROLLPAY_WEBHOOK_PROCESSED_TTL" default:"720h"`
	ProcessingLease time.Duration `envconfig:"ENROLLPAY_WEBHOOK_PROCESSING_LEASE" default:"1m"`
}

type RateLimitConfig struct {
	LoginWindow  time.Duration `envconfig:"ENROLLPAY_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit int           `envconfig:"ENROLLPAY_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
}

// IdempotencyConfig bounds how long Idempotency-Key responses are replayed and
// how long an unfinished request keeps its key claimed.
type IdempotencyConfig struct {
	TTL   time.Duration `envconfig:"ENROLLPAY_IDEMPOTENCY_TTL" default:"168h"`
	Lease time.Duration `envconfig:"ENROLLPAY_IDEMPOTENCY_LEASE" default:"2m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ENROLLPAY_AUTO_MIGRATE" default:"false"`
}
