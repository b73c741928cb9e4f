package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseDSN string
	RedisURL    string

	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	OTPExpirationMinutes  int

	GeminiAPIKey     string
	GeminiModel      string
	AITimeoutSeconds int

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDPro    string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 从环境变量读取配置，缺省值面向本地开发。
func Load() Config {
	return Config{
		Port:        getenv("APP_PORT", "8080"),
		Env:         getenv("APP_ENV", "dev"),
		DatabaseDSN: getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=geminichat port=5432 sslmode=disable TimeZone=UTC"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 30),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		OTPExpirationMinutes:  getenvInt("OTP_EXPIRATION_MINUTES", 5),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		AITimeoutSeconds: getenvInt("AI_TIMEOUT_SECONDS", 30),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceIDPro:    os.Getenv("STRIPE_PRICE_ID_PRO"),
	}
}

// Validate 检查配置是否可用于启动，dev 以外的环境拒绝默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: database dsn is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwt secret is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default jwt secret is not allowed outside dev")
	}
	return nil
}
