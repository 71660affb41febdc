package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port            string        `mapstructure:"port" validate:"required"`
		Env             string        `mapstructure:"env"`
		LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error fatal DEBUG INFO WARN ERROR FATAL"`
		BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
	} `mapstructure:"app"`
	Telegram struct {
		BotToken    string `mapstructure:"bot_token" validate:"required"`
		ChannelID   string `mapstructure:"channel_id" validate:"required"`
		APIEndpoint string `mapstructure:"api_endpoint"`
	} `mapstructure:"telegram"`
	Subscription struct {
		PriceINR         int           `mapstructure:"price_inr" validate:"min=1"`
		Days             int           `mapstructure:"days" validate:"min=1"`
		InviteTTLSeconds int           `mapstructure:"invite_ttl_seconds" validate:"min=1"`
		CallTimeout      time.Duration `mapstructure:"call_timeout" validate:"min=0"`
	} `mapstructure:"subscription"`
	Payment struct {
		Provider         string   `mapstructure:"provider" validate:"oneof=instamojo stripe"`
		AcceptedStatuses []string `mapstructure:"accepted_statuses"`
		MetadataKey      string   `mapstructure:"metadata_key" validate:"required"`
	} `mapstructure:"payment"`
	Instamojo struct {
		BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
		AuthToken string `mapstructure:"auth_token"`
		APIKey    string `mapstructure:"api_key"`
		APIToken  string `mapstructure:"api_token"`
	} `mapstructure:"instamojo"`
	Stripe struct {
		APIKey        string `mapstructure:"api_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
		PriceID       string `mapstructure:"price_id"`
	} `mapstructure:"stripe"`
	Store struct {
		Backend     string `mapstructure:"backend" validate:"oneof=file postgres"`
		Path        string `mapstructure:"path" validate:"required_if=Backend file"`
		DatabaseDSN string `mapstructure:"database_dsn" validate:"required_if=Backend postgres"`
	} `mapstructure:"store"`
	Redis struct {
		Addr           string `mapstructure:"addr"`
		Password       string `mapstructure:"password"`
		DB             int    `mapstructure:"db" validate:"min=0"`
		DedupePayments bool   `mapstructure:"dedupe_payments"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers      []string `mapstructure:"brokers"`
		TopicPrefix  string   `mapstructure:"topic_prefix"`
		EnsureTopics bool     `mapstructure:"ensure_topics"`
	} `mapstructure:"kafka"`
	Sweep struct {
		Interval   time.Duration `mapstructure:"interval" validate:"min=0"`
		CronSecret string        `mapstructure:"cron_secret"`
	} `mapstructure:"sweep"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// envBindings maps configuration keys to the environment variables that set
// them. The names match the ones the deployment already uses.
var envBindings = map[string]string{
	"app.port":                        "PORT",
	"app.env":                         "APP_ENV",
	"app.log_level":                   "LOG_LEVEL",
	"app.base_url":                    "BASE_URL",
	"app.shutdown_timeout":            "SHUTDOWN_TIMEOUT",
	"telegram.bot_token":              "BOT_TOKEN",
	"telegram.channel_id":             "CHANNEL_ID",
	"telegram.api_endpoint":           "TELEGRAM_API_ENDPOINT",
	"subscription.price_inr":          "PRICE_INR",
	"subscription.days":               "SUBSCRIPTION_DAYS",
	"subscription.invite_ttl_seconds": "INVITE_LINK_TTL_SECONDS",
	"subscription.call_timeout":       "CALL_TIMEOUT",
	"payment.provider":                "PAYMENT_PROVIDER",
	"payment.accepted_statuses":       "PAYMENT_ACCEPTED_STATUSES",
	"payment.metadata_key":            "PAYMENT_METADATA_KEY",
	"instamojo.base_url":              "INSTAMOJO_BASE_URL",
	"instamojo.auth_token":            "INSTAMOJO_AUTH_TOKEN",
	"instamojo.api_key":               "INSTAMOJO_API_KEY",
	"instamojo.api_token":             "INSTAMOJO_API_TOKEN",
	"stripe.api_key":                  "STRIPE_API_KEY",
	"stripe.webhook_secret":           "STRIPE_WEBHOOK_SECRET",
	"stripe.price_id":                 "STRIPE_PRICE_ID",
	"store.backend":                   "STORE_BACKEND",
	"store.path":                      "DATA_FILE",
	"store.database_dsn":              "DATABASE_DSN",
	"redis.addr":                      "REDIS_ADDR",
	"redis.password":                  "REDIS_PASSWORD",
	"redis.db":                        "REDIS_DB",
	"redis.dedupe_payments":           "DEDUPE_PAYMENTS",
	"kafka.brokers":                   "KAFKA_BROKERS",
	"kafka.topic_prefix":              "KAFKA_TOPIC_PREFIX",
	"kafka.ensure_topics":             "KAFKA_ENSURE_TOPICS",
	"sweep.interval":                  "SWEEP_INTERVAL",
	"sweep.cron_secret":               "CRON_SECRET",
	"auth.jwt_secret":                 "JWT_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", 30*time.Second)
	v.SetDefault("subscription.price_inr", 2500)
	v.SetDefault("subscription.days", 30)
	v.SetDefault("subscription.invite_ttl_seconds", 600)
	v.SetDefault("subscription.call_timeout", 15*time.Second)
	v.SetDefault("payment.provider", "instamojo")
	v.SetDefault("payment.metadata_key", "telegram_user_id")
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "data/subscribers.json")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.ensure_topics", true)
	v.SetDefault("sweep.interval", time.Hour)
}

// LoadConfig загружает конфигурацию из .env файла, config.yaml и переменных
// окружения. Environment variables win over config.yaml. Missing .env and
// config.yaml files are not errors.
func LoadConfig(envFile string, configPaths ...string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" && envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{"."}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(c.App.BaseURL), "/")
	c.Payment.Provider = strings.ToLower(strings.TrimSpace(c.Payment.Provider))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.Payment.AcceptedStatuses = compact(c.Payment.AcceptedStatuses)
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Payment.Provider {
	case "instamojo":
		if c.Instamojo.AuthToken == "" && (c.Instamojo.APIKey == "" || c.Instamojo.APIToken == "") {
			return errors.New("invalid config: INSTAMOJO_AUTH_TOKEN or INSTAMOJO_API_KEY and INSTAMOJO_API_TOKEN are required")
		}
	case "stripe":
		if c.Stripe.APIKey == "" || c.Stripe.WebhookSecret == "" || c.Stripe.PriceID == "" {
			return errors.New("invalid config: STRIPE_API_KEY, STRIPE_WEBHOOK_SECRET and STRIPE_PRICE_ID are required")
		}
	}
	if c.Redis.DedupePayments && c.Redis.Addr == "" {
		return errors.New("invalid config: DEDUPE_PAYMENTS requires REDIS_ADDR")
	}
	return nil
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// SubscriptionPeriod returns the access duration bought by one payment
func (c *Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.Subscription.Days) * 24 * time.Hour
}

// InviteTTL returns the configured invite lifetime
func (c *Config) InviteTTL() time.Duration {
	return time.Duration(c.Subscription.InviteTTLSeconds) * time.Second
}

// AcceptedStatuses returns the provider statuses treated as paid
func (c *Config) AcceptedStatuses() []string {
	if len(c.Payment.AcceptedStatuses) > 0 {
		return c.Payment.AcceptedStatuses
	}
	if c.Payment.Provider == "stripe" {
		return []string{"paid", "no_payment_required"}
	}
	return []string{"Completed", "Credit", "Success"}
}
