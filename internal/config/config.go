// Package config reads the agent's configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the sync agent.
type Config struct {
	Endpoint string
	DocID    string

	UserID string
	Name   string
	Color  string

	StorageBackend string
	StoragePath    string

	RedisAddr string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; missing values fall back to
// defaults suitable for local development.
func Load() Config {
	// Absent .env is the normal production case.
	_ = godotenv.Load()

	return Config{
		Endpoint: getEnvOrDefault("SYNC_ENDPOINT", "ws://localhost:8080/documents"),
		DocID:    getEnvOrDefault("SYNC_DOC_ID", ""),

		UserID: getEnvOrDefault("SYNC_USER_ID", ""),
		Name:   getEnvOrDefault("SYNC_USER_NAME", ""),
		Color:  getEnvOrDefault("SYNC_USER_COLOR", "#4a90d9"),

		StorageBackend: getEnvOrDefault("SYNC_STORAGE_BACKEND", "sqlite"),
		StoragePath:    getEnvOrDefault("SYNC_STORAGE_PATH", "./sync.db"),

		RedisAddr: getEnvOrDefault("SYNC_REDIS_ADDR", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
