// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DBDSN is the Postgres connection string.
	DBDSN string

	// Exchange selects and configures the trading venue adapter.
	Exchange ExchangeConfig

	// Kiosk contains kiosk network API settings.
	Kiosk KioskConfig

	// Kafka contains settlement event stream settings.
	Kafka KafkaConfig

	// Reconciler contains engine tuning.
	Reconciler ReconcilerConfig
}

// ExchangeConfig selects the venue and carries per-venue credentials.
type ExchangeConfig struct {
	// Name is the adapter to use: "bitstamp" or "coinbase".
	Name string

	Bitstamp BitstampConfig
	Coinbase CoinbaseConfig
}

// BitstampConfig holds Bitstamp API credentials.
type BitstampConfig struct {
	BaseURL   string
	TickerURL string
	WSURL     string
	ClientID  string
	APIKey    string
	Secret    string

	// TickerFeed enables the websocket live-trades feed that keeps the
	// price cache warm.
	TickerFeed bool
}

// CoinbaseConfig holds Coinbase API credentials.
type CoinbaseConfig struct {
	BaseURL    string
	APIKey     string
	Secret     string
	Passphrase string
	AccountID  string
}

// KioskConfig holds kiosk network API settings.
type KioskConfig struct {
	BaseURL string
	APIKey  string
	Secret  string
}

// KafkaConfig holds settlement event stream settings.
type KafkaConfig struct {
	// Enabled turns the audit stream on.
	Enabled bool

	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the Kafka topic for settlement events.
	Topic string
}

// ReconcilerConfig holds engine tuning.
type ReconcilerConfig struct {
	// BatchMode groups pending transactions into consolidated orders.
	BatchMode bool

	// PriceTTL is the market price cache freshness window.
	PriceTTL time.Duration

	// SettleDeadline is the maximum wait for a submitted order to fill.
	SettleDeadline time.Duration

	// PollInterval is the base delay between fill polls.
	PollInterval time.Duration
}

// getDatabaseDSN constructs the Postgres DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("POSTGRES_USER", "user")
	dbPassword := getEnv("POSTGRES_PASSWORD", "password")
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbName := getEnv("POSTGRES_DB", "reconciler")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPassword, dbHost, dbPort, dbName, sslMode,
	)
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		DBDSN: getDatabaseDSN(),
		Exchange: ExchangeConfig{
			Name: getEnv("EXCHANGE", "bitstamp"),
			Bitstamp: BitstampConfig{
				BaseURL:    getEnv("BITSTAMP_BASE_URL", "https://www.bitstamp.net/api"),
				TickerURL:  getEnv("BITSTAMP_TICKER_URL", "https://www.bitstamp.net/api/ticker/"),
				WSURL:      getEnv("BITSTAMP_WS_URL", "wss://ws.bitstamp.net"),
				ClientID:   getEnv("BITSTAMP_CLIENT_ID", ""),
				APIKey:     getEnv("BITSTAMP_API_KEY", ""),
				Secret:     getEnv("BITSTAMP_SECRET", ""),
				TickerFeed: getEnvBool("BITSTAMP_TICKER_FEED", false),
			},
			Coinbase: CoinbaseConfig{
				BaseURL:    getEnv("COINBASE_BASE_URL", "https://api.exchange.coinbase.com"),
				APIKey:     getEnv("COINBASE_API_KEY", ""),
				Secret:     getEnv("COINBASE_SECRET", ""),
				Passphrase: getEnv("COINBASE_PASSPHRASE", ""),
				AccountID:  getEnv("COINBASE_ACCOUNT_ID", ""),
			},
		},
		Kiosk: KioskConfig{
			BaseURL: getEnv("KIOSK_BASE_URL", "http://localhost:9000/api"),
			APIKey:  getEnv("KIOSK_API_KEY", ""),
			Secret:  getEnv("KIOSK_SECRET", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_SETTLEMENT_TOPIC", "reconciler_settlements"),
		},
		Reconciler: ReconcilerConfig{
			BatchMode:      getEnvBool("BATCH_MODE", false),
			PriceTTL:       time.Duration(getEnvInt("PRICE_TTL_SECONDS", 300)) * time.Second,
			SettleDeadline: time.Duration(getEnvInt("SETTLE_DEADLINE_SECONDS", 300)) * time.Second,
			PollInterval:   time.Duration(getEnvInt("SETTLE_POLL_SECONDS", 1)) * time.Second,
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
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

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
