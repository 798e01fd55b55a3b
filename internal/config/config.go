package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Collaboration: persistence write-back debouncing. The quiet-period
	// timer resets on every applied update; the max timer bounds durability
	// lag under continuous editing.
	Debounce    time.Duration
	MaxDebounce time.Duration

	// Optional cross-instance update relay. Empty disables it.
	RedisAddr string

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "momo"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvMillis("TOKEN_TTL_MS", int((7*24*time.Hour)/time.Millisecond)),

		Debounce:    getEnvMillis("COLLAB_DEBOUNCE_MS", 2000),
		MaxDebounce: getEnvMillis("COLLAB_MAX_DEBOUNCE_MS", 10000),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Debounce <= 0 || cfg.MaxDebounce < cfg.Debounce {
		return nil, fmt.Errorf("invalid debounce configuration: quiet=%s max=%s", cfg.Debounce, cfg.MaxDebounce)
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvMillis(key string, defaultMillis int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(defaultMillis) * time.Millisecond
}
