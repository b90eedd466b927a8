package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/storefront/models/enum"
)

var envKeys = []string{
	"STOREFRONT_HTTP_ADDR", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "NATS_URL",
	"STRIPE_SECRET_KEY", "STRIPE_PUBLISHABLE_KEY", "STRIPE_WEBHOOK_SECRET",
	"FIREBASE_PROJECT_ID", "FIREBASE_API_KEY", "GOOGLE_APPLICATION_CREDENTIALS",
	"SENDGRID_API_KEY", "MAIL_FROM", "SHOP_INBOX", "CART_DECREMENT_POLICY", "STOREFRONT_LOG_DEVELOPMENT",
}

// isolateEnv unsets every key Load reads and restores them after the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 8, cfg.Cart.Workers)
	assert.Equal(t, "ngn", cfg.Shop.Currency)
	assert.Empty(t, cfg.Postgres.DSN)

	policy, err := cfg.DecrementPolicy()
	require.NoError(t, err)
	assert.Equal(t, enum.DecrementPolicyFloor, policy)
}

func TestLoad_YAML(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, `
http:
  addr: ":9090"
  shutdown_timeout: 3s
  allowed_origin: "https://shop.example.com"
redis:
  addr: "localhost:6379"
  db: 2
cart:
  decrement_policy: remove
  snapshot_ttl: 720h
  workers: 2
  idle_timeout: 10m
shop:
  name: "Lagos Threads"
  states: ["Lagos", "Abuja"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "https://shop.example.com", cfg.HTTP.AllowedOrigin)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 720*time.Hour, cfg.Cart.SnapshotTTL)
	assert.Equal(t, 5*time.Second, cfg.Cart.SaveTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Cart.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Cart.EvictInterval)
	assert.Equal(t, "Lagos Threads", cfg.Shop.Name)
	assert.Equal(t, []string{"Lagos", "Abuja"}, cfg.Shop.States)

	policy, err := cfg.DecrementPolicy()
	require.NoError(t, err)
	assert.Equal(t, enum.DecrementPolicyRemove, policy)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	isolateEnv(t)
	path := writeConfig(t, "http:\n  addr: \":9090\"\n")

	t.Setenv("STOREFRONT_HTTP_ADDR", " :7070 ")
	t.Setenv("DATABASE_URL", "postgres://localhost/storefront")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("STOREFRONT_LOG_DEVELOPMENT", "true")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_PUBLISHABLE_KEY", "pk_test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://localhost/storefront", cfg.Postgres.DSN)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "sk_test", cfg.Stripe.SecretKey)
}

func TestLoad_Errors(t *testing.T) {
	isolateEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "http: [not, a, map]"))
	assert.Error(t, err)

	t.Setenv("REDIS_DB", "two")
	_, err = Load("")
	assert.ErrorContains(t, err, "REDIS_DB")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.HTTP.Addr = ""
	cfg.Cart.DecrementPolicy = "sideways"
	cfg.Cart.Workers = 0
	cfg.Cart.IdleTimeout = -time.Second
	cfg.Stripe.SecretKey = "sk_test"
	cfg.Firebase.ProjectID = "shop"
	cfg.SendGrid.APIKey = "SG.x"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"http.addr is required",
		`unknown decrement policy "sideways"`,
		"cart.workers must be at least 1",
		"cart.idle_timeout must not be negative",
		"stripe.publishable_key is required",
		"firebase.api_key is required",
		"sendgrid.from is required",
	} {
		assert.ErrorContains(t, err, want)
	}
}
