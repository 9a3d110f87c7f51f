package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Sizing. Notionals are quote-currency amounts; the entry order is
	// sized EntryNotional, the two take-profit legs TP1/TP2Notional.
	EntryNotional   decimal.Decimal
	TP1Notional     decimal.Decimal
	TP2Notional     decimal.Decimal
	DefaultLeverage int

	// Sweeper
	SweepInterval time.Duration // how often stale entry orders are checked
	StaleOrderAge time.Duration // age after which a resting entry is cancelled

	// Database
	DBPath          string
	StoreMaxRetries int

	// HTTP API
	HTTPAddr string

	// Logging
	LogLevel      string
	LogFormat     string // "json" or "text"
	LogFile       string // empty logs to stdout only
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Connection Settings
	GatewayTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Sizing
	cfg.EntryNotional, err = getEnvAsDecimal("ENTRY_NOTIONAL", "300")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ENTRY_NOTIONAL: %v", err))
	} else if cfg.EntryNotional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "ENTRY_NOTIONAL must be positive")
	}

	cfg.TP1Notional, err = getEnvAsDecimal("TP1_NOTIONAL", "150")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TP1_NOTIONAL: %v", err))
	} else if cfg.TP1Notional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "TP1_NOTIONAL must be positive")
	}

	cfg.TP2Notional, err = getEnvAsDecimal("TP2_NOTIONAL", "90")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TP2_NOTIONAL: %v", err))
	} else if cfg.TP2Notional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "TP2_NOTIONAL must be positive")
	}

	cfg.DefaultLeverage, err = getEnvAsIntRequired("DEFAULT_LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_LEVERAGE: %v", err))
	} else if cfg.DefaultLeverage <= 0 {
		errs = append(errs, "DEFAULT_LEVERAGE must be positive")
	}

	// Sweeper
	sweepMinutes := getEnvAsInt("SWEEP_INTERVAL_MINUTES", 10)
	if sweepMinutes <= 0 {
		errs = append(errs, "SWEEP_INTERVAL_MINUTES must be positive")
	}
	cfg.SweepInterval = time.Duration(sweepMinutes) * time.Minute

	staleMinutes := getEnvAsInt("STALE_ORDER_AGE_MINUTES", 60)
	if staleMinutes <= 0 {
		errs = append(errs, "STALE_ORDER_AGE_MINUTES must be positive")
	}
	cfg.StaleOrderAge = time.Duration(staleMinutes) * time.Minute

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.StoreMaxRetries = getEnvAsInt("STORE_MAX_RETRIES", 3)
	if cfg.StoreMaxRetries < 0 {
		errs = append(errs, "STORE_MAX_RETRIES cannot be negative")
	}

	// HTTP API
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":5001")

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 50)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 28)

	// Connection Settings
	gatewayTimeoutSeconds := getEnvAsInt("GATEWAY_TIMEOUT_SECONDS", 10)
	if gatewayTimeoutSeconds <= 0 {
		errs = append(errs, "GATEWAY_TIMEOUT_SECONDS must be positive")
	}
	cfg.GatewayTimeout = time.Duration(gatewayTimeoutSeconds) * time.Second

	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
