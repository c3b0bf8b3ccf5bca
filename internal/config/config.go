package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type R2Config struct {
	AccountID       string `envconfig:"R2_ACCOUNT_ID"`
	AccessKeyID     string `envconfig:"R2_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"R2_SECRET_ACCESS_KEY"`
	Bucket          string `envconfig:"R2_BUCKET"`
	PublicURL       string `envconfig:"R2_PUBLIC_URL"`
}

type EmailConfig struct {
	ResendAPIKey string `envconfig:"RESEND_API_KEY"`
	FromAddress  string `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@localhost"`
	FromName     string `envconfig:"EMAIL_FROM_NAME" default:"Billing"`
}

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	AdminEmailsRaw string   `envconfig:"ADMIN_EMAILS"`
	AdminEmails    []string `envconfig:"-"`

	StripeSecretKey    string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookKey   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/billing/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/billing/cancel"`

	FreeWeeklyActions int           `envconfig:"FREE_WEEKLY_ACTIONS" default:"3"`
	UsageTimeout      time.Duration `envconfig:"USAGE_TIMEOUT" default:"30m"`

	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"20"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	CORSOrigins     string        `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// Embedded so envconfig reads their keys without a prefix.
	EmailConfig
	R2Config

	TaskBatchSize   int    `envconfig:"TASK_BATCH_SIZE" default:"20"`
	TaskMaxAttempts int    `envconfig:"TASK_MAX_ATTEMPTS" default:"8"`
	TaskPollSpec    string `envconfig:"TASK_POLL_SPEC" default:"@every 10s"`
	SweepSpec       string `envconfig:"SWEEP_SPEC" default:"@every 10m"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.AdminEmails = parseEmails(cfg.AdminEmailsRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.FreeWeeklyActions < 0 {
		return errors.New("FREE_WEEKLY_ACTIONS must be >= 0")
	}
	if c.UsageTimeout <= 0 {
		return errors.New("USAGE_TIMEOUT must be > 0")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.TaskBatchSize <= 0 || c.TaskMaxAttempts <= 0 {
		return errors.New("TASK_BATCH_SIZE and TASK_MAX_ATTEMPTS must be > 0")
	}
	if c.IsProduction() && c.StripeWebhookKey == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required in production")
	}
	return nil
}

func (c *Config) EmailEnabled() bool {
	return c.ResendAPIKey != ""
}

func (c *Config) R2Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}

func parseEmails(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
