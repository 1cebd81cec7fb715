package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Port             string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	StripeSecretKey  string
	StripeWebhookKey string
	FrontendURL      string
	AdminEmail       string
	SMTPHost         string
	SMTPPort         string
	SMTPUser         string
	SMTPPass         string
	// AbandonAfter is how long a pending, unpaid order may sit before the
	// reconciliation sweep cancels it and releases its stock.
	AbandonAfter  time.Duration
	SweepInterval time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		StripeSecretKey:  os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:3000"),
		AdminEmail:       os.Getenv("ADMIN_EMAIL"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         os.Getenv("SMTP_PORT"),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPass:         os.Getenv("SMTP_PASS"),
		AbandonAfter:     getDuration("ORDER_ABANDON_AFTER", 24*time.Hour),
		SweepInterval:    getDuration("RECONCILE_INTERVAL", 15*time.Minute),
	}

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" ||
		cfg.StripeSecretKey == "" || cfg.StripeWebhookKey == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
