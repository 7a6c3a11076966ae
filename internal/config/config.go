package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Mail     MailConfig     `yaml:"mail"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Log      LogConfig      `yaml:"log"`
}

type AppConfig struct {
	Port    string `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// KafkaConfig is optional: with no brokers notifications are only logged.
type KafkaConfig struct {
	Brokers            string `yaml:"brokers"`
	NotificationsTopic string `yaml:"notifications_topic"`
}

type MailConfig struct {
	From    string `yaml:"from"`
	ReplyTo string `yaml:"reply_to"`
	Bcc     string `yaml:"bcc"`
}

type PricingConfig struct {
	Currency              string          `yaml:"currency"`
	ShippingFee           decimal.Decimal `yaml:"shipping_fee"`
	FreeShippingThreshold decimal.Decimal `yaml:"free_shipping_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewConfig loads .env (if present), then CONFIG_FILE (if set), then lets
// environment variables override individual values.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Port:    "8080",
			BaseURL: "http://localhost:8080",
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Kafka: KafkaConfig{
			NotificationsTopic: "fulfillment.notifications",
		},
		Pricing: PricingConfig{
			Currency:              "eur",
			ShippingFee:           decimal.RequireFromString("9.90"),
			FreeShippingThreshold: decimal.RequireFromString("100.00"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.BaseURL, "APP_BASE_URL")
	cfg.App.BaseURL = strings.TrimRight(cfg.App.BaseURL, "/")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DB_MAX_CONNS %q: %w", v, err)
		}
		cfg.Postgres.MaxConns = int32(n)
	}
	if v := os.Getenv("DB_MIN_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid DB_MIN_CONNS %q: %w", v, err)
		}
		cfg.Postgres.MinConns = int32(n)
	}
	if v := os.Getenv("DB_MAX_CONN_LIFETIME"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid DB_MAX_CONN_LIFETIME %q: %w", v, err)
		}
		cfg.Postgres.MaxConnLifetime = d
	}

	setString(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")

	setString(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&cfg.Kafka.NotificationsTopic, "KAFKA_NOTIFICATIONS_TOPIC")

	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.Mail.ReplyTo, "MAIL_REPLY_TO")
	setString(&cfg.Mail.Bcc, "MAIL_BCC")

	setString(&cfg.Pricing.Currency, "CURRENCY")
	if err := setDecimal(&cfg.Pricing.ShippingFee, "SHIPPING_FEE"); err != nil {
		return err
	}
	if err := setDecimal(&cfg.Pricing.FreeShippingThreshold, "FREE_SHIPPING_THRESHOLD"); err != nil {
		return err
	}

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	return nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"DB_HOST":               c.Postgres.Host,
		"DB_USER":               c.Postgres.User,
		"DB_PASSWORD":           c.Postgres.Password,
		"DB_NAME":               c.Postgres.DBName,
		"STRIPE_SECRET_KEY":     c.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": c.Stripe.WebhookSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if c.Pricing.ShippingFee.IsNegative() || c.Pricing.FreeShippingThreshold.IsNegative() {
		return errors.New("pricing amounts must be non-negative")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}

// DSN returns a pgx keyword/value connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setDecimal(dst *decimal.Decimal, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
