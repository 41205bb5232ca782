// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// AI providers.
const (
	AIProviderOpenAI = "openai"
	AIProviderMock   = "mock"
)

type Config struct {
	Env      string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string `validate:"oneof=trace debug info warn error"`

	// Storage backend for the quota ledger; billing data needs memory or postgres.
	StorageBackend string `validate:"oneof=memory postgres redis"`
	DatabaseURL    string `validate:"required_if=StorageBackend postgres"`
	RedisURL       string `validate:"required_if=StorageBackend redis"`

	// Stripe Billing Configuration. Billing routes answer 503 when the key is empty.
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePlusPriceID   string
	StripeProPriceID    string

	// AppURL is the public base URL used for checkout and portal redirects.
	AppURL string `validate:"required,url"`

	// Identity headers set by the upstream authenticator.
	UserIDHeader    string `validate:"required"`
	UserEmailHeader string `validate:"required"`

	AIProvider       string `validate:"oneof=openai mock"`
	OpenAIAPIKey     string `validate:"required_if=AIProvider openai"`
	OpenAIModel      string
	AIRequestTimeout time.Duration `validate:"gt=0"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// BillingEnabled reports whether Stripe credentials are present.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// NewConfig reads the environment (and a .env file when present) and validates it.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePlusPriceID:   getEnv("STRIPE_PLUS_PRICE_ID", ""),
		StripeProPriceID:    getEnv("STRIPE_PRO_PRICE_ID", ""),

		AppURL: strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),

		UserIDHeader:    getEnv("AUTH_USER_ID_HEADER", "X-User-ID"),
		UserEmailHeader: getEnv("AUTH_USER_EMAIL_HEADER", "X-User-Email"),

		AIProvider:       strings.ToLower(getEnv("AI_PROVIDER", AIProviderMock)),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 30*time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports every failing variable.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
