package config

import (
	"os"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr string
	RedisPass string

	JWTSecret string

	// PublicBaseURL is the externally reachable origin gateways call back
	// into, e.g. https://api.example.com
	PublicBaseURL string
	FiatCurrency  string
	InvoiceWindow time.Duration

	NowpayBaseURL   string
	NowpayAPIKey    string
	NowpayIPNSecret string

	CoinpayBaseURL string
	CoinpayAPIKey  string
	CoinpaySecret  string

	InternalSharedAddress string
	InternalSharedExtraID string
}

func Load() *AppConfig {
	return &AppConfig{
		HTTPAddr: getEnv("HTTP_ADDR", ":8031"),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", "deposits"),

		RedisAddr: getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8031"),
		FiatCurrency:  getEnv("FIAT_CURRENCY", "usd"),
		InvoiceWindow: getDurationEnv("INVOICE_WINDOW", 20*time.Minute),

		NowpayBaseURL:   getEnv("NOWPAY_BASE_URL", "https://api.nowpayments.io"),
		NowpayAPIKey:    getEnv("NOWPAY_API_KEY", ""),
		NowpayIPNSecret: getEnv("NOWPAY_IPN_SECRET", ""),

		CoinpayBaseURL: getEnv("COINPAY_BASE_URL", "https://api.coinpayments.net"),
		CoinpayAPIKey:  getEnv("COINPAY_API_KEY", ""),
		CoinpaySecret:  getEnv("COINPAY_IPN_SECRET", ""),

		InternalSharedAddress: getEnv("INTERNAL_SHARED_ADDRESS", ""),
		InternalSharedExtraID: getEnv("INTERNAL_SHARED_EXTRA_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
