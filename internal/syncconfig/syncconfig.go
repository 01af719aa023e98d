package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/rem/internal/retry"
	"github.com/marcus/rem/internal/syncclient"
)

// SyncConfig holds outbox and background sync settings.
type SyncConfig struct {
	URL        string `json:"url,omitempty"`
	Auto       *bool  `json:"auto,omitempty"`        // nil = default true
	Interval   string `json:"interval,omitempty"`    // duration string, default "5m"
	MaxRetries *int   `json:"max_retries,omitempty"` // default 5
	BaseDelay  string `json:"base_delay,omitempty"`  // default "2s"
	MaxDelay   string `json:"max_delay,omitempty"`   // default "60s"
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	Timeout    string `json:"timeout,omitempty"`     // per attempt, default "10s"
	MaxRetries *int   `json:"max_retries,omitempty"` // default 3
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level,omitempty"` // debug, info, warn, error
	File  string `json:"file,omitempty"`  // rotated log file for rem watch
}

// Config is the global rem config stored at ~/.config/rem/config.json.
type Config struct {
	DataDir string     `json:"data_dir,omitempty"`
	Sync    SyncConfig `json:"sync"`
	HTTP    HTTPConfig `json:"http"`
	Log     LogConfig  `json:"log"`
}

// AuthCredentials stores the session at ~/.config/rem/auth.json.
type AuthCredentials struct {
	AccessToken  string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Username     string `json:"username"`
	ServerURL    string `json:"server_url"`
	SavedAt      string `json:"saved_at,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/rem, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "rem")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/rem/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/rem/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads the session from ~/.config/rem/auth.json. It returns nil,
// nil when there is none.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes the session to ~/.config/rem/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FileTokens is a syncclient.TokenStore backed by auth.json. REM_AUTH_TOKEN,
// when set, replaces the stored access token.
type FileTokens struct {
	ServerURL string
}

// Load implements syncclient.TokenStore.
func (f FileTokens) Load() (syncclient.Tokens, error) {
	creds, err := LoadAuth()
	if err != nil {
		return syncclient.Tokens{}, err
	}
	var t syncclient.Tokens
	if creds != nil {
		t = syncclient.Tokens{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken, Username: creds.Username}
	}
	if v := os.Getenv("REM_AUTH_TOKEN"); v != "" {
		t.AccessToken = v
	}
	return t, nil
}

// Save implements syncclient.TokenStore.
func (f FileTokens) Save(t syncclient.Tokens) error {
	return SaveAuth(&AuthCredentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Username:     t.Username,
		ServerURL:    f.ServerURL,
		SavedAt:      time.Now().UTC().Format(time.RFC3339),
	})
}

// Clear implements syncclient.TokenStore.
func (f FileTokens) Clear() error {
	return ClearAuth()
}

// IsAuthenticated returns true if an access token is available.
func IsAuthenticated() bool {
	t, err := FileTokens{}.Load()
	return err == nil && t.AccessToken != ""
}

// GetServerURL returns the sync server URL.
// Priority: REM_SYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("REM_SYNC_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return strings.TrimRight(cfg.Sync.URL, "/")
	}
	return defaultServerURL
}

// GetDataDir returns the directory holding the local database.
// Priority: REM_DATA_DIR env > config.json data_dir > ~/.config/rem/data.
func GetDataDir() (string, error) {
	if v := os.Getenv("REM_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

func durationSetting(envKey, configured string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	if configured != "" {
		if d, err := time.ParseDuration(configured); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func intSetting(envKey string, configured *int, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	if configured != nil && *configured >= 0 {
		return *configured
	}
	return def
}

func loadOrEmpty() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// GetAutoSyncEnabled returns whether background sync runs.
// Priority: REM_SYNC_AUTO env > config.json sync.auto > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("REM_SYNC_AUTO"); v != nil {
		return *v
	}
	if cfg := loadOrEmpty(); cfg.Sync.Auto != nil {
		return *cfg.Sync.Auto
	}
	return true
}

// GetSyncInterval returns the periodic sync interval.
// Priority: REM_SYNC_INTERVAL env > config.json sync.interval > 5m
func GetSyncInterval() time.Duration {
	return durationSetting("REM_SYNC_INTERVAL", loadOrEmpty().Sync.Interval, 5*time.Minute)
}

// GetOutboxPolicy returns the retry policy for queued operations.
// Env: REM_SYNC_MAX_RETRIES, REM_SYNC_BASE_DELAY, REM_SYNC_MAX_DELAY.
func GetOutboxPolicy() retry.Policy {
	cfg := loadOrEmpty()
	p := retry.OutboxPolicy()
	p.MaxRetries = intSetting("REM_SYNC_MAX_RETRIES", cfg.Sync.MaxRetries, p.MaxRetries)
	p.BaseDelay = durationSetting("REM_SYNC_BASE_DELAY", cfg.Sync.BaseDelay, p.BaseDelay)
	p.MaxDelay = durationSetting("REM_SYNC_MAX_DELAY", cfg.Sync.MaxDelay, p.MaxDelay)
	return p
}

// GetTransportPolicy returns the retry policy for single HTTP calls.
// Env: REM_HTTP_MAX_RETRIES.
func GetTransportPolicy() retry.Policy {
	p := retry.TransportPolicy()
	p.MaxRetries = intSetting("REM_HTTP_MAX_RETRIES", loadOrEmpty().HTTP.MaxRetries, p.MaxRetries)
	return p
}

// GetHTTPTimeout returns the per-attempt timeout.
// Priority: REM_HTTP_TIMEOUT env > config.json http.timeout > 10s
func GetHTTPTimeout() time.Duration {
	return durationSetting("REM_HTTP_TIMEOUT", loadOrEmpty().HTTP.Timeout, syncclient.DefaultTimeout)
}

// GetLogLevel returns the configured log level name.
// Priority: REM_LOG_LEVEL env > config.json log.level > "warn"
func GetLogLevel() string {
	if v := os.Getenv("REM_LOG_LEVEL"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Log.Level != "" {
		return cfg.Log.Level
	}
	return "warn"
}

// GetLogFile returns the rotated log file path for long-running commands.
// Priority: REM_LOG_FILE env > config.json log.file > ~/.config/rem/rem.log
func GetLogFile() string {
	if v := os.Getenv("REM_LOG_FILE"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Log.File != "" {
		return cfg.Log.File
	}
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rem.log")
}

// key binds a dotted config key to its field.
type key struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringKey(field func(*Config) *string) key {
	return key{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(field func(*Config) *string) key {
	k := stringKey(field)
	k.set = func(c *Config, v string) error {
		if v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid duration %q", v)
			}
		}
		*field(c) = v
		return nil
	}
	return k
}

func intKey(field func(*Config) **int) key {
	return key{
		get: func(c *Config) string {
			if p := *field(c); p != nil {
				return strconv.Itoa(*p)
			}
			return ""
		},
		set: func(c *Config, v string) error {
			if v == "" {
				*field(c) = nil
				return nil
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid count %q", v)
			}
			*field(c) = &n
			return nil
		},
	}
}

var keys = map[string]key{
	"data_dir":         stringKey(func(c *Config) *string { return &c.DataDir }),
	"sync.url":         stringKey(func(c *Config) *string { return &c.Sync.URL }),
	"sync.interval":    durationKey(func(c *Config) *string { return &c.Sync.Interval }),
	"sync.base_delay":  durationKey(func(c *Config) *string { return &c.Sync.BaseDelay }),
	"sync.max_delay":   durationKey(func(c *Config) *string { return &c.Sync.MaxDelay }),
	"sync.max_retries": intKey(func(c *Config) **int { return &c.Sync.MaxRetries }),
	"http.timeout":     durationKey(func(c *Config) *string { return &c.HTTP.Timeout }),
	"http.max_retries": intKey(func(c *Config) **int { return &c.HTTP.MaxRetries }),
	"log.level":        stringKey(func(c *Config) *string { return &c.Log.Level }),
	"log.file":         stringKey(func(c *Config) *string { return &c.Log.File }),
	"sync.auto": {
		get: func(c *Config) string {
			if c.Sync.Auto == nil {
				return ""
			}
			return strconv.FormatBool(*c.Sync.Auto)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Sync.Auto = nil
				return nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q", v)
			}
			c.Sync.Auto = &b
			return nil
		},
	},
}

// Keys returns the settable config keys, sorted.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Get returns the stored value of a config key ("" when unset).
func Get(name string) (string, error) {
	k, ok := keys[name]
	if !ok {
		return "", fmt.Errorf("unknown config key %q", name)
	}
	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	return k.get(cfg), nil
}

// Set validates and stores a config key. An empty value unsets it.
func Set(name, value string) error {
	k, ok := keys[name]
	if !ok {
		return fmt.Errorf("unknown config key %q", name)
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := k.set(cfg, value); err != nil {
		return err
	}
	return SaveConfig(cfg)
}
