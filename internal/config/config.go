package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr         string
	DataDir      string
	TokenSecret  string
	TokenTTL     time.Duration
	HistoryLimit int
	LogLevel     string

	// Users maps username to bcrypt password hash, parsed from
	// CHAT_USERS ("alice:<hash>,bob:<hash>").
	Users map[string]string
}

func Load() (*Config, error) {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:         getEnv("ADDR", ":8080"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		TokenSecret:  getEnv("TOKEN_SECRET", ""),
		TokenTTL:     time.Duration(getEnvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		HistoryLimit: getEnvInt("HISTORY_LIMIT", 100),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("TOKEN_SECRET is required")
	}

	users, err := parseUsers(getEnv("CHAT_USERS", ""))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("CHAT_USERS is required")
	}
	cfg.Users = users
	return cfg, nil
}

func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("malformed CHAT_USERS entry %q", entry)
		}
		users[name] = hash
	}
	return users, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
