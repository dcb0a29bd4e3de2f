package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	S3       S3Config
	Coupons  CouponConfig
	Payment  PaymentConfig
	Roblox   RobloxConfig
	Engine   EngineConfig
	Notify   NotifyConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Driver          string // "postgres" or "memory"
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
}

// LoggerConfig holds logger-related configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AuthConfig holds authentication configuration. APIKey authorises the chat
// layer's buyer commands; AdminAPIKey authorises delivery confirmation and
// refunds.
type AuthConfig struct {
	APIKey      string
	AdminAPIKey string
}

// S3Config holds AWS S3 configuration for coupon catalog files.
type S3Config struct {
	Enabled bool
	Bucket  string
	Region  string
	Prefix  string // Path prefix within bucket (e.g., "coupons/")
}

// CouponConfig lists the coupon catalog files imported at startup.
type CouponConfig struct {
	Files []string
}

// PaymentConfig holds payment gateway configuration.
type PaymentConfig struct {
	AccessToken    string
	BaseURL        string
	RateLimitRPS   float64
	RequestTimeout time.Duration
}

// RobloxConfig holds delivery catalog configuration.
type RobloxConfig struct {
	UniverseID   int64
	Cookie       string
	TaxRate      decimal.Decimal
	UsersURL     string
	GamesURL     string
	InventoryURL string
}

// EngineConfig holds order lifecycle settings.
type EngineConfig struct {
	Currency              string
	PricePerUnit          decimal.Decimal
	MinQuantity           int
	MaxQuantity           int
	PollInterval          time.Duration
	MaxPollDuration       time.Duration
	AutoDeliveryCheck     bool
	DeliveryCheckInterval time.Duration
	MaxDeliveryWait       time.Duration
}

// NotifyConfig holds notification sink configuration.
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("STORE_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "robuxshop"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
			MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			APIKey:      getEnv("API_KEY", ""),
			AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		},
		S3: S3Config{
			Enabled: getEnvAsBool("S3_ENABLED", false),
			Bucket:  getEnv("S3_BUCKET", ""),
			Region:  getEnv("S3_REGION", "us-east-1"),
			Prefix:  getEnv("S3_PREFIX", "coupons/"),
		},
		Coupons: CouponConfig{
			Files: getEnvAsList("COUPON_FILES"),
		},
		Payment: PaymentConfig{
			AccessToken:    getEnv("PAYMENT_ACCESS_TOKEN", ""),
			BaseURL:        getEnv("PAYMENT_BASE_URL", "https://api.mercadopago.com"),
			RateLimitRPS:   getEnvAsFloat("PAYMENT_RATE_LIMIT_RPS", 2),
			RequestTimeout: time.Duration(getEnvAsInt("PAYMENT_REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Roblox: RobloxConfig{
			UniverseID:   int64(getEnvAsInt("ROBLOX_UNIVERSE_ID", 0)),
			Cookie:       getEnv("ROBLOX_COOKIE", ""),
			TaxRate:      getEnvAsDecimal("ROBLOX_TAX_RATE", decimal.RequireFromString("0.30")),
			UsersURL:     getEnv("ROBLOX_USERS_URL", "https://users.roblox.com"),
			GamesURL:     getEnv("ROBLOX_GAMES_URL", "https://games.roblox.com"),
			InventoryURL: getEnv("ROBLOX_INVENTORY_URL", "https://inventory.roblox.com"),
		},
		Engine: EngineConfig{
			Currency:              getEnv("CURRENCY", "BRL"),
			PricePerUnit:          getEnvAsDecimal("PRICE_PER_UNIT", decimal.RequireFromString("0.015")),
			MinQuantity:           getEnvAsInt("MIN_QUANTITY", 100),
			MaxQuantity:           getEnvAsInt("MAX_QUANTITY", 100000),
			PollInterval:          time.Duration(getEnvAsInt("POLL_INTERVAL_SECONDS", 10)) * time.Second,
			MaxPollDuration:       time.Duration(getEnvAsInt("MAX_POLL_DURATION_MINUTES", 30)) * time.Minute,
			AutoDeliveryCheck:     getEnvAsBool("AUTO_DELIVERY_CHECK", false),
			DeliveryCheckInterval: time.Duration(getEnvAsInt("DELIVERY_CHECK_INTERVAL_SECONDS", 15)) * time.Second,
			MaxDeliveryWait:       time.Duration(getEnvAsInt("MAX_DELIVERY_WAIT_MINUTES", 60)) * time.Minute,
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			Timeout:    time.Duration(getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 5)) * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("invalid store driver: %s (must be postgres or memory)", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" {
		if err := c.Database.validate(); err != nil {
			return err
		}
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	if c.Auth.AdminAPIKey == "" {
		return fmt.Errorf("admin API key is required")
	}

	if c.Auth.AdminAPIKey == c.Auth.APIKey {
		return fmt.Errorf("admin API key must differ from the API key")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logger.Format)
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when S3 is enabled")
		}
		if c.S3.Region == "" {
			return fmt.Errorf("S3 region is required when S3 is enabled")
		}
	}

	if c.Payment.AccessToken == "" {
		return fmt.Errorf("payment access token is required")
	}

	if c.Payment.RateLimitRPS <= 0 {
		return fmt.Errorf("payment rate limit must be positive")
	}

	if c.Roblox.UniverseID <= 0 {
		return fmt.Errorf("roblox universe ID is required")
	}

	if c.Roblox.TaxRate.IsNegative() || c.Roblox.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("roblox tax rate must be in [0, 1)")
	}

	return c.Engine.validate()
}

func (c *DatabaseConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.MinConnections < 1 {
		return fmt.Errorf("database min connections must be at least 1")
	}

	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	return nil
}

func (c *EngineConfig) validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("invalid currency: %q", c.Currency)
	}

	if !c.PricePerUnit.IsPositive() {
		return fmt.Errorf("price per unit must be positive")
	}

	if c.MinQuantity < 1 || c.MaxQuantity < c.MinQuantity {
		return fmt.Errorf("invalid quantity bounds: min %d, max %d", c.MinQuantity, c.MaxQuantity)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.MaxPollDuration < c.PollInterval {
		return fmt.Errorf("max poll duration must be at least the poll interval")
	}

	if c.AutoDeliveryCheck && c.DeliveryCheckInterval <= 0 {
		return fmt.Errorf("delivery check interval must be positive")
	}

	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDecimal retrieves an environment variable as a decimal or returns a default value.
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated environment variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
