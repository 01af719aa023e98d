package output

import (
	"fmt"
	"strings"

	"github.com/marcus/rem/internal/models"
)

// ConflictMarkdown describes a conflict as a markdown side-by-side table.
func ConflictMarkdown(local models.Reminder, c models.Conflict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Conflict `%s`\n\n", ShortID(local.LocalID))
	fmt.Fprintf(&sb, "_%s_ (%s)\n\n", c.Reason, FormatTimeAgo(c.DetectedAt))
	if c.Deleted {
		sb.WriteString("The server copy was **deleted**.\n\n")
	}
	sb.WriteString("| Field | Local | Server |\n|---|---|---|\n")
	row := func(name, l, s string) {
		mark := ""
		if l != s {
			mark = " **≠**"
		}
		fmt.Fprintf(&sb, "| %s%s | %s | %s |\n", name, mark, cell(l), cell(s))
	}
	srv := c.Server
	if c.Deleted {
		srv = models.RemoteReminder{}
	}
	row("text", local.Text, srv.Text)
	row("completed", fmt.Sprint(local.Completed), fmt.Sprint(srv.Completed))
	row("date", local.ReminderDate, srv.ReminderDate)
	row("time", local.ReminderTime, srv.ReminderTime)
	row("all day", fmt.Sprint(local.IsAllDay), fmt.Sprint(srv.IsAllDay))
	row("priority", string(local.Priority), string(srv.Priority))
	if local.IsDeleted() {
		sb.WriteString("\nThe local copy is **deleted**.\n")
	}
	fmt.Fprintf(&sb, "\nResolve with `rem sync resolve %s --keep local|server`.\n", ShortID(local.LocalID))
	return sb.String()
}

func cell(s string) string {
	if s == "" {
		return "–"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderConflict renders ConflictMarkdown for the terminal, falling back to
// the raw markdown if rendering fails.
func RenderConflict(local models.Reminder, c models.Conflict) string {
	md := ConflictMarkdown(local, c)
	out, err := RenderMarkdown(md, TerminalWidth(80))
	if err != nil {
		return md
	}
	return out
}
