package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the environment variable value or a default.
// An empty value counts as unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv returns an integer environment variable or a default.
func GetIntEnv(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// GetDurationEnv returns a duration environment variable or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// parseEnv falls back to defaultValue when key is unset or malformed.
// Malformed values are logged so a typo does not go unnoticed.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := parse(strings.TrimSpace(raw))
	if err != nil {
		slog.Warn("Ignoring invalid environment value", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return value
}

// GetSecretFile reads a secret from a file path, trimming surrounding whitespace.
// It returns "" when path is empty or unreadable.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
