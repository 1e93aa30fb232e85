package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// JWT
	JWTSecret          string
	JWTExpirationHours int

	// Storage (bank-transfer receipts)
	StoragePath string

	// Background Workers
	WorkerCount int

	// CORS
	AllowedOrigins []string

	// Payment gateway
	GatewayAPIKey    string
	GatewayAccountID string

	// Billing behavior
	OverpaymentPolicy       string // allow | clamp | reject
	ClientInvoicePrefix     string
	ConsultantInvoicePrefix string
	PlatformInvoicePrefix   string
	RefundInvoicePrefix     string

	// Email (Resend)
	ResendAPIKey string
	FromEmail    string
	AppURL       string

	// Sentry
	SentryDSN string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    getEnv("PORT", "8080"),
		Environment:             getEnv("ENVIRONMENT", "development"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		JWTExpirationHours:      getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		StoragePath:             getEnv("STORAGE_PATH", "./storage"),
		WorkerCount:             getEnvAsInt("WORKER_COUNT", 5),
		AllowedOrigins:          getEnvAsSlice("ALLOWED_ORIGINS", []string{"*"}),
		GatewayAPIKey:           getEnv("GATEWAY_API_KEY", ""),
		GatewayAccountID:        getEnv("GATEWAY_ACCOUNT_ID", ""),
		OverpaymentPolicy:       getEnv("OVERPAYMENT_POLICY", "allow"),
		ClientInvoicePrefix:     getEnv("INVOICE_PREFIX_CLIENT", "INV"),
		ConsultantInvoicePrefix: getEnv("INVOICE_PREFIX_CONSULTANT", "CON"),
		PlatformInvoicePrefix:   getEnv("INVOICE_PREFIX_PLATFORM", "PLT"),
		RefundInvoicePrefix:     getEnv("INVOICE_PREFIX_REFUND", "REF"),
		ResendAPIKey:            getEnv("RESEND_API_KEY", ""),
		FromEmail:               getEnv("FROM_EMAIL", "billing@consultia.app"),
		AppURL:                  getEnv("APP_URL", "https://app.consultia.app"),
		SentryDSN:               getEnv("SENTRY_DSN", ""),
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	if cfg.GatewayAPIKey == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("GATEWAY_API_KEY is required in production")
	}

	switch cfg.OverpaymentPolicy {
	case "allow", "clamp", "reject":
	default:
		return nil, fmt.Errorf("OVERPAYMENT_POLICY must be allow, clamp or reject, got %q", cfg.OverpaymentPolicy)
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	return cfg, nil
}

// InvoicePrefix returns the configured number prefix for an invoice type
func (c *Config) InvoicePrefix(invoiceType string) string {
	switch invoiceType {
	case "consultant":
		return c.ConsultantInvoicePrefix
	case "platform":
		return c.PlatformInvoicePrefix
	case "refund":
		return c.RefundInvoicePrefix
	default:
		return c.ClientInvoicePrefix
	}
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
