// Package config loads the storefront settings from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"goflare.io/storefront/models/enum"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Cart     CartConfig     `yaml:"cart"`
	Shop     ShopConfig     `yaml:"shop"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Firebase FirebaseConfig `yaml:"firebase"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigin 為空時不回傳 CORS 標頭
	AllowedOrigin string `yaml:"allowed_origin"`
}

type LogConfig struct {
	Development bool `yaml:"development"`
}

type PostgresConfig struct {
	// DSN 為空時使用記憶體儲存庫
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type CartConfig struct {
	DecrementPolicy string        `yaml:"decrement_policy"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl"`
	SaveTimeout     time.Duration `yaml:"save_timeout"`
	Workers         int           `yaml:"workers"`
	// IdleTimeout 之後沒人開啟的購物車會從記憶體移除，0 表示不移除
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EvictInterval time.Duration `yaml:"evict_interval"`
}

type ShopConfig struct {
	Name     string   `yaml:"name"`
	Inbox    string   `yaml:"inbox"`
	Currency string   `yaml:"currency"`
	States   []string `yaml:"states"`
}

type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PublishableKey string `yaml:"publishable_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id"`
	APIKey          string `yaml:"api_key"`
	CredentialsFile string `yaml:"credentials_file"`
}

type SendGridConfig struct {
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Cart: CartConfig{
			DecrementPolicy: string(enum.DecrementPolicyFloor),
			SaveTimeout:     5 * time.Second,
			Workers:         8,
			IdleTimeout:     30 * time.Minute,
			EvictInterval:   time.Minute,
		},
		Shop: ShopConfig{
			Name:     "Storefront",
			Currency: "ngn",
		},
	}
}

// Load reads path (optional), then .env, then environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// .env 不存在不是錯誤
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTP.Addr, "STOREFRONT_HTTP_ADDR")
	setString(&c.Postgres.DSN, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&c.Stripe.PublishableKey, "STRIPE_PUBLISHABLE_KEY")
	setString(&c.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&c.Firebase.ProjectID, "FIREBASE_PROJECT_ID")
	setString(&c.Firebase.APIKey, "FIREBASE_API_KEY")
	setString(&c.Firebase.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.SendGrid.APIKey, "SENDGRID_API_KEY")
	setString(&c.SendGrid.From, "MAIL_FROM")
	setString(&c.Shop.Inbox, "SHOP_INBOX")
	setString(&c.Cart.DecrementPolicy, "CART_DECREMENT_POLICY")

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("STOREFRONT_LOG_DEVELOPMENT"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STOREFRONT_LOG_DEVELOPMENT %q: %w", v, err)
		}
		c.Log.Development = dev
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := c.DecrementPolicy(); err != nil {
		errs = append(errs, err)
	}
	if c.Postgres.MaxConns < 0 {
		errs = append(errs, errors.New("postgres.max_conns must not be negative"))
	}
	if c.Cart.Workers < 1 {
		errs = append(errs, errors.New("cart.workers must be at least 1"))
	}
	if c.Cart.IdleTimeout < 0 {
		errs = append(errs, errors.New("cart.idle_timeout must not be negative"))
	}
	if c.Shop.Currency == "" {
		errs = append(errs, errors.New("shop.currency is required"))
	}
	// 付款與登入需要成對的金鑰
	if c.Stripe.SecretKey != "" && c.Stripe.PublishableKey == "" {
		errs = append(errs, errors.New("stripe.publishable_key is required with stripe.secret_key"))
	}
	if c.Firebase.ProjectID != "" && c.Firebase.APIKey == "" {
		errs = append(errs, errors.New("firebase.api_key is required with firebase.project_id"))
	}
	if c.SendGrid.APIKey != "" && c.SendGrid.From == "" {
		errs = append(errs, errors.New("sendgrid.from is required with sendgrid.api_key"))
	}

	return errors.Join(errs...)
}

func (c *Config) DecrementPolicy() (enum.DecrementPolicy, error) {
	return enum.ParseDecrementPolicy(c.Cart.DecrementPolicy)
}
