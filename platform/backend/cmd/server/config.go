package main

import (
	"os"

	"github.com/joho/godotenv"

	"pong-platform/backend/internal/redisx"
	"pong-platform/backend/internal/store"
)

// Config holds all configuration values for the application.
type Config struct {
	DBConfig    store.Config
	RedisConfig redisx.Config

	ServerPort  string
	Environment string

	JWTSecret string

	// AIUserID is the reserved synthetic user id representing the
	// built-in AI opponent (§3's ai-player sentinel), excluded from ELO.
	AIUserID int64
}

// LoadConfig loads configuration from environment variables, falling
// back to .env if present.
func LoadConfig() Config {
	godotenv.Load()

	return Config{
		DBConfig: store.Config{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "3306"),
			User:       getEnv("DB_USER", "root"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "pong_platform"),
			SQLitePath: getEnv("SQLITE_PATH", "pong.db"),
		},
		RedisConfig: redisx.Config{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		AIUserID:    -1,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
