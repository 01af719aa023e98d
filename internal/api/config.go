package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	AccessTokenTTL  time.Duration // default: 1 hour
	RefreshTokenTTL time.Duration // default: 1 day
	RememberMeTTL   time.Duration // refresh token lifetime with rememberMe (default: 30 days)

	RateLimitAuth int // auth endpoints per IP per minute (default: 10)
	RateLimitAPI  int // reminder endpoints per user per minute (default: 600)

	DefaultPageSize int // default: 20
	MaxPageSize     int // default: 500

	CORSAllowedOrigins []string // empty = disabled
}

// DefaultConfig returns the configuration used when no env vars are set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		ServerDBPath:    "./data/server.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		RememberMeTTL:   30 * 24 * time.Hour,

		RateLimitAuth: 10,
		RateLimitAPI:  600,

		DefaultPageSize: 20,
		MaxPageSize:     500,
	}
}

// LoadConfig reads configuration from REM_SERVER_* environment variables
// with sensible defaults.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("REM_SERVER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REM_SERVER_DB_PATH"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("REM_SERVER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("REM_SERVER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	envDuration("REM_SERVER_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	envDuration("REM_SERVER_ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL)
	envDuration("REM_SERVER_REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL)
	envDuration("REM_SERVER_REMEMBER_ME_TTL", &cfg.RememberMeTTL)

	envInt("REM_SERVER_RATE_LIMIT_AUTH", &cfg.RateLimitAuth)
	envInt("REM_SERVER_RATE_LIMIT_API", &cfg.RateLimitAPI)
	envInt("REM_SERVER_DEFAULT_PAGE_SIZE", &cfg.DefaultPageSize)
	envInt("REM_SERVER_MAX_PAGE_SIZE", &cfg.MaxPageSize)

	if v := os.Getenv("REM_SERVER_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}

func envDuration(key string, dst *time.Duration) {
	if d := parseDaysDuration(os.Getenv(key)); d > 0 {
		*dst = d
	}
}

func envInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		*dst = n
	}
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
