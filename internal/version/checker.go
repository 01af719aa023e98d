package version

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// UpdateAvailableMsg is sent when a new version is available.
type UpdateAvailableMsg struct {
	CurrentVersion string
	LatestVersion  string
	UpdateCommand  string
}

// CheckCached is Check behind the on-disk cache. Failed checks are not
// cached.
func CheckCached(ctx context.Context, currentVersion string) CheckResult {
	if cached, err := LoadCache(); err == nil && IsCacheValid(cached, currentVersion) {
		return CheckResult{
			CurrentVersion: currentVersion,
			LatestVersion:  cached.LatestVersion,
			HasUpdate:      cached.HasUpdate,
		}
	}

	result := Check(ctx, currentVersion)
	if result.Error == nil && !IsDevelopmentVersion(currentVersion) {
		_ = SaveCache(&CacheEntry{
			LatestVersion:  result.LatestVersion,
			CurrentVersion: currentVersion,
			CheckedAt:      time.Now(),
			HasUpdate:      result.HasUpdate,
		})
	}
	return result
}

// CheckAsync returns a Bubble Tea command that checks for updates in the
// background. It yields nil when up to date or the check failed.
func CheckAsync(currentVersion string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result := CheckCached(ctx, currentVersion)
		if !result.HasUpdate {
			return nil
		}
		return UpdateAvailableMsg{
			CurrentVersion: currentVersion,
			LatestVersion:  result.LatestVersion,
			UpdateCommand:  UpdateCommand(result.LatestVersion),
		}
	}
}
