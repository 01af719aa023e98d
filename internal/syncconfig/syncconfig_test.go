package syncconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcus/rem/internal/syncclient"
)

// writeTestConfig creates a temp HOME with ~/.config/rem/config.json.
func writeTestConfig(t *testing.T, cfg *Config) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	dir := filepath.Join(tmpDir, ".config", "rem")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func emptyHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func TestServerURLDefault(t *testing.T) {
	emptyHome(t)
	t.Setenv("REM_SYNC_URL", "")
	if got := GetServerURL(); got != defaultServerURL {
		t.Fatalf("got %q, want %q", got, defaultServerURL)
	}
}

func TestServerURLPriority(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{URL: "https://config.example/"}})
	t.Setenv("REM_SYNC_URL", "")
	if got := GetServerURL(); got != "https://config.example" {
		t.Fatalf("config url: got %q", got)
	}
	t.Setenv("REM_SYNC_URL", "https://env.example")
	if got := GetServerURL(); got != "https://env.example" {
		t.Fatalf("env url: got %q", got)
	}
}

func TestSyncIntervalDefault(t *testing.T) {
	emptyHome(t)
	t.Setenv("REM_SYNC_INTERVAL", "")
	if got := GetSyncInterval(); got != 5*time.Minute {
		t.Fatalf("got %v, want 5m", got)
	}
}

func TestSyncIntervalConfigAndEnv(t *testing.T) {
	writeTestConfig(t, &Config{Sync: SyncConfig{Interval: "90s"}})
	t.Setenv("REM_SYNC_INTERVAL", "")
	if got := GetSyncInterval(); got != 90*time.Second {
		t.Fatalf("config: got %v", got)
	}
	t.Setenv("REM_SYNC_INTERVAL", "bogus")
	if got := GetSyncInterval(); got != 90*time.Second {
		t.Fatalf("invalid env should fall through: got %v", got)
	}
	t.Setenv("REM_SYNC_INTERVAL", "10m")
	if got := GetSyncInterval(); got != 10*time.Minute {
		t.Fatalf("env: got %v", got)
	}
}

func TestOutboxPolicy(t *testing.T) {
	two := 2
	writeTestConfig(t, &Config{Sync: SyncConfig{MaxRetries: &two, BaseDelay: "500ms"}})
	t.Setenv("REM_SYNC_MAX_RETRIES", "")
	t.Setenv("REM_SYNC_BASE_DELAY", "")
	t.Setenv("REM_SYNC_MAX_DELAY", "30s")

	p := GetOutboxPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 30*time.Second {
		t.Fatalf("policy = %+v", p)
	}
	if p.Jitter != time.Second {
		t.Fatalf("jitter = %v", p.Jitter)
	}
}

func TestTransportDefaults(t *testing.T) {
	emptyHome(t)
	t.Setenv("REM_HTTP_MAX_RETRIES", "")
	t.Setenv("REM_HTTP_TIMEOUT", "")
	if p := GetTransportPolicy(); p.MaxRetries != 3 || p.BaseDelay != time.Second || p.MaxDelay != 10*time.Second {
		t.Fatalf("policy = %+v", p)
	}
	if got := GetHTTPTimeout(); got != 10*time.Second {
		t.Fatalf("timeout = %v", got)
	}
	t.Setenv("REM_HTTP_MAX_RETRIES", "0")
	if p := GetTransportPolicy(); p.MaxRetries != 0 {
		t.Fatalf("zero retries from env: %+v", p)
	}
}

func TestAutoSyncEnabled(t *testing.T) {
	off := false
	writeTestConfig(t, &Config{Sync: SyncConfig{Auto: &off}})
	t.Setenv("REM_SYNC_AUTO", "")
	if GetAutoSyncEnabled() {
		t.Fatal("config false ignored")
	}
	t.Setenv("REM_SYNC_AUTO", "1")
	if !GetAutoSyncEnabled() {
		t.Fatal("env true ignored")
	}
}

func TestAuthRoundTrip(t *testing.T) {
	emptyHome(t)
	t.Setenv("REM_AUTH_TOKEN", "")
	if IsAuthenticated() {
		t.Fatal("authenticated with no auth.json")
	}
	store := FileTokens{ServerURL: "http://srv"}
	if err := store.Save(syncclient.Tokens{AccessToken: "a", RefreshToken: "r", Username: "ann"}); err != nil {
		t.Fatal(err)
	}
	dir, _ := ConfigDir()
	info, err := os.Stat(filepath.Join(dir, "auth.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("auth.json mode = %v", info.Mode().Perm())
	}
	got, err := store.Load()
	if err != nil || got.AccessToken != "a" || got.RefreshToken != "r" || got.Username != "ann" {
		t.Fatalf("Load = %+v, %v", got, err)
	}
	creds, _ := LoadAuth()
	if creds.ServerURL != "http://srv" {
		t.Fatalf("server url = %q", creds.ServerURL)
	}

	t.Setenv("REM_AUTH_TOKEN", "from-env")
	if got, _ := store.Load(); got.AccessToken != "from-env" {
		t.Fatalf("env token ignored: %+v", got)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REM_AUTH_TOKEN", "")
	if IsAuthenticated() {
		t.Fatal("still authenticated after Clear")
	}
}

func TestGetSet(t *testing.T) {
	emptyHome(t)
	if err := Set("sync.interval", "2m"); err != nil {
		t.Fatal(err)
	}
	if err := Set("sync.max_retries", "7"); err != nil {
		t.Fatal(err)
	}
	if err := Set("sync.auto", "false"); err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]string{"sync.interval": "2m", "sync.max_retries": "7", "sync.auto": "false"} {
		if got, err := Get(k); err != nil || got != want {
			t.Fatalf("Get(%s) = %q, %v; want %q", k, got, err, want)
		}
	}
	if err := Set("sync.interval", "soon"); err == nil {
		t.Fatal("accepted invalid duration")
	}
	if err := Set("sync.max_retries", "-1"); err == nil {
		t.Fatal("accepted negative count")
	}
	if _, err := Get("nope"); err == nil {
		t.Fatal("accepted unknown key")
	}
	if err := Set("sync.max_retries", ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := Get("sync.max_retries"); got != "" {
		t.Fatalf("unset value = %q", got)
	}
	if len(Keys()) != len(keys) {
		t.Fatal("Keys incomplete")
	}
}

func TestDataDir(t *testing.T) {
	emptyHome(t)
	t.Setenv("REM_DATA_DIR", "")
	dir, err := GetDataDir()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dir) != "data" {
		t.Fatalf("dir = %q", dir)
	}
	t.Setenv("REM_DATA_DIR", "/tmp/rem-data")
	if dir, _ := GetDataDir(); dir != "/tmp/rem-data" {
		t.Fatalf("env dir = %q", dir)
	}
}
