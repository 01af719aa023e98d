package version

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckAsyncUsesValidCache(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	var hits atomic.Int32
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"tag_name":"v9.9.9"}`))
	})

	if err := SaveCache(&CacheEntry{
		LatestVersion:  "v1.5.0",
		CurrentVersion: "v1.0.0",
		CheckedAt:      time.Now(),
		HasUpdate:      true,
	}); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	msg, ok := CheckAsync("v1.0.0")().(UpdateAvailableMsg)
	if !ok {
		t.Fatal("expected UpdateAvailableMsg")
	}
	if msg.LatestVersion != "v1.5.0" || msg.UpdateCommand == "" {
		t.Errorf("unexpected msg %+v", msg)
	}
	if hits.Load() != 0 {
		t.Error("valid cache should not hit the network")
	}
}

func TestCheckAsyncRefreshesExpiredCache(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v2.0.0"}`))
	})

	SaveCache(&CacheEntry{
		LatestVersion:  "v1.5.0",
		CurrentVersion: "v1.0.0",
		CheckedAt:      time.Now().Add(-2 * cacheTTL),
		HasUpdate:      true,
	})

	msg, ok := CheckAsync("v1.0.0")().(UpdateAvailableMsg)
	if !ok || msg.LatestVersion != "v2.0.0" {
		t.Fatalf("expected update to v2.0.0, got %#v", msg)
	}
	cached, err := LoadCache()
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if cached.LatestVersion != "v2.0.0" {
		t.Errorf("cache not refreshed: %+v", cached)
	}
}

func TestCheckAsyncUpToDate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v1.0.0"}`))
	})

	if msg := CheckAsync("v1.0.0")(); msg != nil {
		t.Errorf("expected nil msg, got %#v", msg)
	}
}

func TestCheckAsyncDoesNotCacheFailures(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if msg := CheckAsync("v1.0.0")(); msg != nil {
		t.Errorf("expected nil msg, got %#v", msg)
	}
	if _, err := LoadCache(); err == nil {
		t.Error("failed check should not be cached")
	}
}
