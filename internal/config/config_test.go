package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_DRIVER", "DATABASE_URL",
		"REDIS_ADDR", "CASSANDRA_HOSTS", "BARION_POS_KEY", "PAYMENT_MODE",
		"RATE_LIMIT_REQUESTS", "WEBHOOK_LOCK_TTL", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 30*time.Second, cfg.Webhook.LockTTL)
	assert.Equal(t, "mock", cfg.Checkout.PaymentMode)

	rate, err := cfg.VATRate()
	require.NoError(t, err)
	assert.Equal(t, "0.27", rate.String())
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
listen: ":9090"
log:
  level: debug
  format: text
database:
  driver: postgres
  url: postgres://shop@localhost/shop
rate_limit:
  requests: 20
  window: 30s
cassandra:
  hosts: [cass-1]
checkout:
  shipping_fees:
    Packeta: "990"
    foxpost: "1190.50"
`)
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("CASSANDRA_HOSTS", "cass-a, cass-b")
	t.Setenv("WEBHOOK_LOCK_TTL", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 20, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"cass-a", "cass-b"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 5*time.Second, cfg.Webhook.LockTTL)
	// untouched defaults survive a partial file
	assert.Equal(t, "HUF", cfg.Checkout.Currency)

	fees, err := cfg.ShippingFees()
	require.NoError(t, err)
	assert.Equal(t, "990", fees["packeta"].String())
	assert.Equal(t, "1190.5", fees["foxpost"].String())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{name: "driver", body: "database: {driver: mysql}", want: `unsupported database driver "mysql"`},
		{name: "payment mode", body: "checkout: {payment_mode: cash}", want: `unknown payment mode "cash"`},
		{name: "live without key", body: "checkout: {payment_mode: live}", want: "barion.pos_key"},
		{name: "rate limit", body: "rate_limit: {requests: 0}", want: "rate limit"},
		{name: "vat", body: "checkout: {vat_rate: \"1.5\"}", want: "vat rate"},
		{name: "log level", body: "log: {level: loud}", want: "invalid log level"},
		{name: "env number", env: map[string]string{"RATE_LIMIT_REQUESTS": "many"}, want: "RATE_LIMIT_REQUESTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
