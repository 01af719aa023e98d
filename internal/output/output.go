// Package output provides styled terminal output helpers (success, error,
// warning, reminder and outbox formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/rem/internal/models"
)

var (
	// Styles
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Strikethrough(true)
	priorityStyle = map[models.Priority]lipgloss.Style{
		models.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		models.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
	syncStyles = map[models.SyncStatus]lipgloss.Style{
		models.StatusSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusConflict: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeConflict     = "conflict"
	ErrCodeDatabase     = "database_error"
	ErrCodeNetwork      = "network_error"
	ErrCodeAuthExpired  = "auth_expired"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{"error": map[string]string{"code": code, "message": message}})
	fmt.Println(string(data))
}

// ShortID returns the first 8 characters of a local or operation id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatPriority formats a priority with color
func FormatPriority(p models.Priority) string {
	style, ok := priorityStyle[p]
	if !ok {
		return string(p)
	}
	return style.Render(fmt.Sprintf("[%s]", p))
}

// FormatSyncStatus formats a sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(strings.ToLower(string(s)))
}

// SyncBadge returns a one-character marker for list views: nothing for
// synced rows, "↑" for pending, "!" for conflicts.
func SyncBadge(s models.SyncStatus) string {
	switch s {
	case models.StatusPending:
		return syncStyles[s].Render("↑")
	case models.StatusConflict:
		return syncStyles[s].Render("!")
	}
	return " "
}

// FormatWhen renders the reminder date and time.
func FormatWhen(r models.Reminder) string {
	if r.ReminderDate == "" {
		return ""
	}
	if r.IsAllDay || r.ReminderTime == "" {
		return r.ReminderDate
	}
	return r.ReminderDate + " " + r.ReminderTime
}

// FormatReminderShort formats a reminder on one line. Text is truncated so
// the line fits in width cells; width <= 0 disables truncation.
func FormatReminderShort(r models.Reminder, width int) string {
	check := "[ ]"
	text := r.Text
	if r.Completed {
		check = "[x]"
	}
	prefix := strings.Join([]string{
		SyncBadge(r.SyncStatus),
		titleStyle.Render(ShortID(r.LocalID)),
		check,
	}, " ")
	suffix := ""
	if when := FormatWhen(r); when != "" {
		suffix = "  " + subtleStyle.Render(when)
	}
	suffix += "  " + FormatPriority(r.Priority)

	if width > 0 {
		room := width - ansi.StringWidth(prefix) - ansi.StringWidth(suffix) - 1
		if room < 10 {
			room = 10
		}
		text = ansi.Truncate(text, room, "…")
	}
	if r.Completed {
		text = doneStyle.Render(text)
	}
	return prefix + " " + text + suffix
}

// FormatReminderLong formats a reminder with its sync details.
func FormatReminderLong(r models.Reminder, ops []models.Operation) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(r.Text))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "ID: %s", r.LocalID)
	if r.ID != 0 {
		fmt.Fprintf(&sb, " (server %d)", r.ID)
	}
	sb.WriteString("\n")
	state := "open"
	if r.Completed {
		state = "done"
	}
	fmt.Fprintf(&sb, "State: %s | Priority: %s\n", state, FormatPriority(r.Priority))
	if when := FormatWhen(r); when != "" {
		fmt.Fprintf(&sb, "When: %s", when)
		if r.IsAllDay {
			sb.WriteString(" (all day)")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Sync: %s", FormatSyncStatus(r.SyncStatus))
	if r.IsDeleted() {
		sb.WriteString(" " + errorStyle.Render("[deleted]"))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Created: %s | Updated: %s\n", FormatTimeAgo(r.CreatedAt), FormatTimeAgo(r.UpdatedAt))

	if len(ops) > 0 {
		sb.WriteString(SectionHeader("Queued"))
		for _, op := range ops {
			sb.WriteString("  " + FormatOperation(op) + "\n")
		}
	}
	return sb.String()
}

// FormatOperation formats an outbox entry on one line.
func FormatOperation(op models.Operation) string {
	parts := []string{
		titleStyle.Render(ShortID(op.ID)),
		fmt.Sprintf("%-6s", op.Type),
		ShortID(op.LocalID),
		subtleStyle.Render(FormatTimeAgo(op.Timestamp)),
	}
	switch {
	case op.Failed:
		parts = append(parts, errorStyle.Render("failed: "+op.LastError))
	case op.RetryCount > 0:
		parts = append(parts, warningStyle.Render(fmt.Sprintf("retry %d: %s", op.RetryCount, op.LastError)))
	}
	return strings.Join(parts, "  ")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nQUEUED:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}
