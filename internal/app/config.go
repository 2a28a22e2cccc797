package app

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Service          string        // Service endpoint used for login and anonymous reads (default: https://bsky.social)
	AttemptTimeout   time.Duration // Per-attempt HTTP timeout (default: 10s)
	MaxAttempts      int           // Attempts per call including the first (default: 3)
	InitialBackoff   time.Duration // First retry backoff (default: 250ms)
	MaxBackoff       time.Duration // Backoff cap (default: 10s)
	MaxRetryAfter    time.Duration // Longest server-requested wait honoured (default: 60s)
	RateLimitRPS     float64       // Client-side request rate, 0 disables (default: 0)
	RateLimitBurst   int           // Client-side burst (default: 1)
	PublicFeed       string        // Feed URI served to anonymous timeline requests (default: none)
	MaxPostGraphemes int           // Post length limit (default: 300)
	SessionFile      string        // Where the CLI keeps its session (default: ~/.config/skytab/session.json)
	Env              string        // Environment (dev, prod) (default: prod)
	LogLevel         string        // Log level (debug, info, warn, error) (default: warn)
	LogFormat        string        // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	return Config{
		Service:          getEnvOrDefault("SKYTAB_SERVICE", "https://bsky.social"),
		AttemptTimeout:   getEnvDurationOrDefault("SKYTAB_ATTEMPT_TIMEOUT", 10*time.Second),
		MaxAttempts:      getEnvIntOrDefault("SKYTAB_MAX_ATTEMPTS", 3),
		InitialBackoff:   getEnvDurationOrDefault("SKYTAB_INITIAL_BACKOFF", 250*time.Millisecond),
		MaxBackoff:       getEnvDurationOrDefault("SKYTAB_MAX_BACKOFF", 10*time.Second),
		MaxRetryAfter:    getEnvDurationOrDefault("SKYTAB_MAX_RETRY_AFTER", 60*time.Second),
		RateLimitRPS:     getEnvFloatOrDefault("SKYTAB_RATE_LIMIT_RPS", 0),
		RateLimitBurst:   getEnvIntOrDefault("SKYTAB_RATE_LIMIT_BURST", 1),
		PublicFeed:       os.Getenv("SKYTAB_PUBLIC_FEED"),
		MaxPostGraphemes: getEnvIntOrDefault("SKYTAB_MAX_POST_GRAPHEMES", 300),
		SessionFile:      getEnvOrDefault("SKYTAB_SESSION_FILE", defaultSessionFile()),
		Env:              getEnvOrDefault("ENV", "prod"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "skytab-session.json"
	}
	return filepath.Join(dir, "skytab", "session.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
