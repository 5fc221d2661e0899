// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// APIKeyEnv is the single credential source for authenticated calls.
const APIKeyEnv = "PLOOMBER_CLOUD_KEY"

// DefaultHost is the base URL of the cloud API.
const DefaultHost = "https://lawqhyo5gl.execute-api.us-east-1.amazonaws.com/api"

// DefaultCallbackTimeout bounds callback delivery and the shutdown drain.
const DefaultCallbackTimeout = 10 * time.Second

// AgentConfig holds configuration for the cloud agent.
// It is resolved once at startup and passed explicitly to every component.
type AgentConfig struct {
	APIKey         string
	Host           string
	ProjectRoot    string
	RequestTimeout time.Duration // Per-request timeout for registry calls
	UploadTimeout  time.Duration

	DownloadRoot     string
	DownloadWorkers  int
	DownloadTimeout  time.Duration // Per-file timeout
	BreakerThreshold int           // Consecutive failures per host before failing fast (0 disables)

	PollInitial time.Duration
	PollMax     time.Duration

	CallbackURL     string
	CallbackKey     string
	CallbackTimeout time.Duration

	MetricsAddr string
}

// LoadAgentConfig loads agent configuration from the environment.
// A .env file in the working directory is loaded first when present;
// variables already set in the process environment take precedence.
func LoadAgentConfig() *AgentConfig {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	apiKey := GetEnv(APIKeyEnv, "")
	if apiKey == "" {
		apiKey = GetSecretFile(GetEnv(APIKeyEnv+"_FILE", ""))
	}

	cfg := &AgentConfig{
		APIKey:           strings.TrimSpace(apiKey),
		Host:             strings.TrimRight(GetEnv("PLOOMBER_CLOUD_HOST", DefaultHost), "/"),
		ProjectRoot:      GetEnv("CLOUD_PROJECT_ROOT", "."),
		RequestTimeout:   GetDurationEnv("CLOUD_REQUEST_TIMEOUT", 30*time.Second),
		UploadTimeout:    GetDurationEnv("CLOUD_UPLOAD_TIMEOUT", 10*time.Minute),
		DownloadRoot:     GetEnv("CLOUD_DOWNLOAD_ROOT", "."),
		DownloadWorkers:  GetIntEnv("CLOUD_DOWNLOAD_WORKERS", 64),
		DownloadTimeout:  GetDurationEnv("CLOUD_DOWNLOAD_TIMEOUT", 5*time.Minute),
		BreakerThreshold: GetIntEnv("CLOUD_BREAKER_THRESHOLD", 0),
		PollInitial:      GetDurationEnv("CLOUD_POLL_INITIAL", 2*time.Second),
		PollMax:          GetDurationEnv("CLOUD_POLL_MAX", 30*time.Second),
		CallbackURL:      GetEnv("CLOUD_CALLBACK_URL", ""),
		CallbackKey:      GetEnv("CLOUD_CALLBACK_KEY", ""),
		CallbackTimeout:  GetDurationEnv("CLOUD_CALLBACK_TIMEOUT", DefaultCallbackTimeout),
		MetricsAddr:      GetEnv("METRICS_ADDR", ""),
	}

	// A zero timeout would expire the drain context before any event is sent
	if cfg.CallbackTimeout <= 0 {
		slog.Warn("Ignoring non-positive callback timeout", "value", cfg.CallbackTimeout, "default", DefaultCallbackTimeout)
		cfg.CallbackTimeout = DefaultCallbackTimeout
	}
	return cfg
}
