// Package config loads service configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"storefront/internal/checkout"
	"storefront/internal/logging"
	"storefront/internal/payment"
	"storefront/internal/store"
)

type Config struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Language       string        `yaml:"language"`
	Log            Log           `yaml:"log"`
	Database       Database      `yaml:"database"`
	Redis          Redis         `yaml:"redis"`
	Cassandra      Cassandra     `yaml:"cassandra"`
	RateLimit      RateLimit     `yaml:"rate_limit"`
	Webhook        Webhook       `yaml:"webhook"`
	CORS           CORS          `yaml:"cors"`
	Barion         Barion        `yaml:"barion"`
	Packeta        Packeta       `yaml:"packeta"`
	Foxpost        Foxpost       `yaml:"foxpost"`
	Resend         Resend        `yaml:"resend"`
	Checkout       Checkout      `yaml:"checkout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Database struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Redis is optional. Without an address the rate limiter and event locks
// fall back to in-process implementations.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Cassandra is optional. Without hosts status history is kept only in the
// order store.
type Cassandra struct {
	Hosts          []string      `yaml:"hosts"`
	Keyspace       string        `yaml:"keyspace"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Webhook struct {
	LockTTL     time.Duration `yaml:"lock_ttl"`
	ReplayLimit int           `yaml:"replay_limit"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Barion struct {
	BaseURL string        `yaml:"base_url"`
	POSKey  string        `yaml:"pos_key"`
	Payee   string        `yaml:"payee"`
	Locale  string        `yaml:"locale"`
	Timeout time.Duration `yaml:"timeout"`
}

type Packeta struct {
	APIURL      string        `yaml:"api_url"`
	FeedURL     string        `yaml:"feed_url"`
	APIKey      string        `yaml:"api_key"`
	APIPassword string        `yaml:"api_password"`
	Eshop       string        `yaml:"eshop"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Foxpost struct {
	APIURL   string        `yaml:"api_url"`
	FeedURL  string        `yaml:"feed_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Resend struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
}

type Checkout struct {
	PaymentMode  string            `yaml:"payment_mode"`
	Currency     string            `yaml:"currency"`
	VATRate      string            `yaml:"vat_rate"`
	ShippingFees map[string]string `yaml:"shipping_fees"`
	RedirectURL  string            `yaml:"redirect_url"`
	CallbackURL  string            `yaml:"callback_url"`
}

func Default() Config {
	return Config{
		Listen:         ":8080",
		RequestTimeout: 30 * time.Second,
		Language:       "hu",
		Log:            Log{Level: "info", Format: "json"},
		Database:       Database{Driver: store.DriverSQLite, URL: "storefront.db"},
		Cassandra:      Cassandra{Keyspace: "storefront", ConnectTimeout: 120 * time.Second},
		RateLimit:      RateLimit{Requests: 100, Window: time.Minute},
		Webhook:        Webhook{LockTTL: 30 * time.Second, ReplayLimit: 100},
		CORS:           CORS{AllowedOrigins: []string{"*"}},
		Barion:         Barion{BaseURL: payment.BarionTestURL, Locale: "hu-HU"},
		Checkout:       Checkout{PaymentMode: checkout.ModeMock, Currency: "HUF", VATRate: "0.27"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Listen = envOrDefault("LISTEN_ADDR", c.Listen)
	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LOG_FORMAT", c.Log.Format)
	c.Database.Driver = envOrDefault("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = envOrDefault("DATABASE_URL", c.Database.URL)
	c.Redis.Addr = envOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("REDIS_PASSWORD", c.Redis.Password)
	if v := os.Getenv("CASSANDRA_HOSTS"); v != "" {
		c.Cassandra.Hosts = splitList(v)
	}
	c.Cassandra.Keyspace = envOrDefault("CASSANDRA_KEYSPACE", c.Cassandra.Keyspace)
	c.Barion.BaseURL = envOrDefault("BARION_BASE_URL", c.Barion.BaseURL)
	c.Barion.POSKey = envOrDefault("BARION_POS_KEY", c.Barion.POSKey)
	c.Barion.Payee = envOrDefault("BARION_PAYEE", c.Barion.Payee)
	c.Packeta.APIKey = envOrDefault("PACKETA_API_KEY", c.Packeta.APIKey)
	c.Packeta.APIPassword = envOrDefault("PACKETA_API_PASSWORD", c.Packeta.APIPassword)
	c.Foxpost.Username = envOrDefault("FOXPOST_USERNAME", c.Foxpost.Username)
	c.Foxpost.Password = envOrDefault("FOXPOST_PASSWORD", c.Foxpost.Password)
	c.Foxpost.APIKey = envOrDefault("FOXPOST_API_KEY", c.Foxpost.APIKey)
	c.Resend.APIKey = envOrDefault("RESEND_API_KEY", c.Resend.APIKey)
	c.Resend.From = envOrDefault("RESEND_FROM", c.Resend.From)
	c.Checkout.PaymentMode = envOrDefault("PAYMENT_MODE", c.Checkout.PaymentMode)
	c.Checkout.CallbackURL = envOrDefault("BARION_CALLBACK_URL", c.Checkout.CallbackURL)
	c.Checkout.RedirectURL = envOrDefault("BARION_REDIRECT_URL", c.Checkout.RedirectURL)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_REQUESTS: %w", err)
		}
		c.RateLimit.Requests = n
	}
	if v := os.Getenv("WEBHOOK_LOCK_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WEBHOOK_LOCK_TTL: %w", err)
		}
		c.Webhook.LockTTL = d
	}
	return nil
}

// Validate rejects settings the service cannot start with. Credentials
// for optional integrations are checked where those integrations are built.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}
	switch c.Database.Driver {
	case store.DriverPostgres, store.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is empty"))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit requests and window must be positive"))
	}
	if c.Webhook.LockTTL <= 0 {
		errs = append(errs, errors.New("webhook lock ttl must be positive"))
	}
	switch c.Checkout.PaymentMode {
	case checkout.ModeMock:
	case checkout.ModeLive:
		if c.Barion.POSKey == "" {
			errs = append(errs, errors.New("live payment mode needs barion.pos_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown payment mode %q", c.Checkout.PaymentMode))
	}
	if _, err := c.VATRate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShippingFees(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) VATRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Checkout.VATRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid vat rate %q: %w", c.Checkout.VATRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("vat rate %s out of range [0, 1)", rate)
	}
	return rate, nil
}

// ShippingFees parses the per-method fees, keyed by lowercase method.
func (c Config) ShippingFees() (map[string]decimal.Decimal, error) {
	fees := make(map[string]decimal.Decimal, len(c.Checkout.ShippingFees))
	for method, v := range c.Checkout.ShippingFees {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid shipping fee for %s: %w", method, err)
		}
		if fee.IsNegative() {
			return nil, fmt.Errorf("shipping fee for %s is negative", method)
		}
		fees[strings.ToLower(method)] = fee
	}
	return fees, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
