package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// Telegram
	BotToken    string `validate:"required"`
	BotUsername string

	// TonAPI
	TonAPIKey     string
	TonAPIBaseURL string `validate:"required,url"`
	TxPageSize    int    `validate:"min=1,max=100"`

	// Database
	DBPath string `validate:"required"`

	// Redis (optional, enables shared deduplication)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Payment
	ServiceWalletAddr  string  `validate:"required"`
	TokenMasterAddr    string  `validate:"required"`
	TokenSymbol        string  `validate:"required"`
	TokenDecimals      int     `validate:"min=0,max=18"`
	FeeUSD             float64 `validate:"gt=0"`
	FallbackTONUSD     float64 `validate:"gt=0"`
	SubscriptionDays   int     `validate:"min=1"`
	ReferenceNamespace string  `validate:"required,excludesall=-"`

	// Reconciliation
	ReconcileAttempts int           `validate:"min=1,max=10"`
	ReconcileDelay    time.Duration `validate:"min=0"`

	// Daily lessons
	DailyHour   int `validate:"min=0,max=23"`
	DailyMinute int `validate:"min=0,max=59"`
	Timezone    string

	// Generation backend
	LLMBaseURL string `validate:"required,url"`
	LLMAPIKey  string
	LLMModel   string `validate:"required"`
	LLMTimeout time.Duration
	Language   string `validate:"required"`

	// Delivery
	SendInterval time.Duration
	QueueSize    int `validate:"min=1"`

	// Deduplication
	DedupTTL      time.Duration `validate:"gt=0"`
	DedupCapacity int           `validate:"min=1"`

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json tint"`
}

func Load() *Config {
	return &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		BotUsername: getEnv("BOT_USERNAME", "daily_lesson_bot"),

		// TonAPI
		TonAPIKey:     getEnv("TONAPI_API_KEY", ""),
		TonAPIBaseURL: strings.TrimSuffix(getEnv("TONAPI_BASE_URL", "https://tonapi.io/v2"), "/"),
		TxPageSize:    getEnvInt("TX_PAGE_SIZE", 20),

		// Database
		DBPath: getEnv("DB_PATH", "./lessons.db"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Payment
		ServiceWalletAddr: getEnv("SERVICE_WALLET_ADDR", ""),
		// USDT jetton master on mainnet
		TokenMasterAddr:    getEnv("TOKEN_MASTER_ADDR", "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs"),
		TokenSymbol:        getEnv("TOKEN_SYMBOL", "USDT"),
		TokenDecimals:      getEnvInt("TOKEN_DECIMALS", 6),
		FeeUSD:             getEnvFloat("FEE_USD", 1.0),
		FallbackTONUSD:     getEnvFloat("FALLBACK_TON_USD", 3.0),
		SubscriptionDays:   getEnvInt("SUBSCRIPTION_DAYS", 30),
		ReferenceNamespace: getEnv("REFERENCE_NAMESPACE", "lesson"),

		// Reconciliation
		ReconcileAttempts: getEnvInt("RECONCILE_ATTEMPTS", 3),
		ReconcileDelay:    getEnvDuration("RECONCILE_DELAY", 10*time.Second),

		// Daily lessons
		DailyHour:   getEnvInt("DAILY_HOUR", 9),
		DailyMinute: getEnvInt("DAILY_MINUTE", 0),
		Timezone:    getEnv("TIMEZONE", "Local"),

		// Generation backend
		LLMBaseURL: strings.TrimSuffix(getEnv("LLM_BASE_URL", "https://api.openai.com/v1"), "/"),
		LLMAPIKey:  getEnv("LLM_API_KEY", ""),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout: getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		Language:   getEnv("LESSON_LANGUAGE", "German"),

		// Delivery
		SendInterval: getEnvDuration("SEND_INTERVAL", 50*time.Millisecond), // ~20 msg/s
		QueueSize:    getEnvInt("QUEUE_SIZE", 10_000),

		// Deduplication
		DedupTTL:      getEnvDuration("DEDUP_TTL", 24*time.Hour),
		DedupCapacity: getEnvInt("DEDUP_CAPACITY", 100_000),

		// Logging
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

// Validate checks the loaded values and resolves the timezone.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the timezone the daily lesson time is expressed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
