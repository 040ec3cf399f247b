package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	PurchaseModeInline = "inline"
	PurchaseModeQueue  = "queue"
)

type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"prod"`
	AppHost  string `envconfig:"APP_HOST" default:"0.0.0.0"`
	AppPort  string `envconfig:"APP_PORT" default:"4000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// CORSOrigins is a comma separated allow list for the browser storefront.
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`

	DBHost     string `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort     string `envconfig:"DB_PORT" default:"3306"`
	DBUser     string `envconfig:"DB_USER" default:""`
	DBPassword string `envconfig:"DB_PASSWORD" default:""`
	DBName     string `envconfig:"DB_NAME" default:"passgate"`

	CacheHost     string `envconfig:"CACHE_HOST" default:""`
	CachePort     string `envconfig:"CACHE_PORT" default:"6379"`
	CachePassword string `envconfig:"CACHE_PASSWORD" default:""`

	AbacatePayAPI         string `envconfig:"ABACATEPAY_API" default:""`
	AbacatePayKey         string `envconfig:"ABACATEPAY_KEY" default:""`
	AbacatePayChargesPath string `envconfig:"ABACATEPAY_CHARGES_PATH" default:""`
	WebhookSecret         string `envconfig:"ABACATEPAY_WEBHOOK_SECRET" default:""`
	// WebhookTolerance bounds the signed timestamp skew accepted on provider callbacks.
	WebhookTolerance time.Duration `envconfig:"ABACATEPAY_WEBHOOK_TOLERANCE" default:"5m"`

	RobloxCookie         string        `envconfig:"ROBLOX_SECURITY_COOKIE" default:""`
	RobloxCSRFTTLSeconds int           `envconfig:"ROBLOX_CSRF_CACHE_TTL_SECONDS" default:"900"`
	RobloxMaxAttempts    int           `envconfig:"ROBLOX_MAX_ATTEMPTS" default:"3"`
	RobloxMinWait        time.Duration `envconfig:"ROBLOX_RETRY_MIN_WAIT" default:"250ms"`
	RobloxMaxWait        time.Duration `envconfig:"ROBLOX_RETRY_MAX_WAIT" default:"1200ms"`
	RobloxTimeout        time.Duration `envconfig:"ROBLOX_TIMEOUT" default:"10s"`

	ClientHMACSecret  string        `envconfig:"CLIENT_HMAC_SECRET" default:""`
	ClientHMACMaxSkew time.Duration `envconfig:"CLIENT_HMAC_MAX_SKEW" default:"5m"`

	PurchaseRateLimit int           `envconfig:"PURCHASE_RATE_LIMIT" default:"10"`
	ResolveRateLimit  int           `envconfig:"RESOLVE_RATE_LIMIT" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	// APIRequestLimit is the coarse per-IP budget of the whole /api group per minute.
	APIRequestLimit int `envconfig:"API_REQUEST_LIMIT" default:"120"`

	MinChargeCents int64         `envconfig:"MIN_CHARGE_CENTS" default:"100"`
	ReplayWindow   time.Duration `envconfig:"BUY_NOW_REPLAY_WINDOW" default:"6h"`

	PurchaseMode          string        `envconfig:"PURCHASE_MODE" default:"inline"`
	PurchaseWorkers       int           `envconfig:"PURCHASE_WORKERS" default:"2"`
	StalePurchaseAfter    time.Duration `envconfig:"STALE_PURCHASE_AFTER" default:"15m"`
	StalePurchaseInterval time.Duration `envconfig:"STALE_PURCHASE_INTERVAL" default:"1m"`

	AdminUser     string `envconfig:"ADMIN_USER" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.PurchaseMode = strings.ToLower(strings.TrimSpace(c.PurchaseMode))
	switch c.PurchaseMode {
	case PurchaseModeInline, PurchaseModeQueue:
	default:
		return fmt.Errorf("PURCHASE_MODE must be %q or %q, got %q", PurchaseModeInline, PurchaseModeQueue, c.PurchaseMode)
	}
	if c.PurchaseMode == PurchaseModeQueue && c.CacheHost == "" {
		return fmt.Errorf("PURCHASE_MODE=queue requires CACHE_HOST")
	}
	if c.MinChargeCents <= 0 {
		return fmt.Errorf("MIN_CHARGE_CENTS must be positive")
	}
	if c.PurchaseRateLimit <= 0 || c.ResolveRateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limits and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// MySQLDSN builds the go-sql-driver DSN.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL builds the golang-migrate database URL.
func (c *Config) MigrateURL() string {
	return "mysql://" + c.MySQLDSN() + "&multiStatements=true"
}

func (c *Config) CSRFTTL() time.Duration {
	if c.RobloxCSRFTTLSeconds <= 0 {
		return 900 * time.Second
	}
	return time.Duration(c.RobloxCSRFTTLSeconds) * time.Second
}

func (c *Config) ListenAddr() string {
	return c.AppHost + ":" + c.AppPort
}
