package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Header + footer take four lines; the rest is split 2:1 list/feed.
	available := m.Height - 4
	feedHeight := max(available/3, 3)
	listHeight := available - feedHeight

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderList(listHeight),
		m.renderFeed(feedHeight),
		m.renderFooter(),
	)
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder
	s.WriteString("rem watch (resize for full view)\n\n")
	s.WriteString(m.statusLine() + "\n")
	fmt.Fprintf(&s, "Reminders: %d\n", len(m.Rows))
	s.WriteString("\nq:quit s:sync ?:help")
	return s.String()
}

func (m Model) statusLine() string {
	st := m.Status
	var parts []string
	switch {
	case st.AuthExpired:
		parts = append(parts, errorStyle.Render("● auth expired"))
	case st.Online:
		parts = append(parts, onlineStyle.Render("● online"))
	default:
		parts = append(parts, offlineStyle.Render("○ offline"))
	}
	if st.Syncing || (st.State != remsync.StateIdle && st.State != remsync.StateDone) {
		parts = append(parts, m.Spinner.View()+" "+strings.ToLower(st.State.String()))
	}
	parts = append(parts, fmt.Sprintf("pending %d", st.PendingCount))
	if st.FailedCount > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("failed %d", st.FailedCount)))
	}
	if st.ConflictCount > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("conflicts %d", st.ConflictCount)))
	}
	parts = append(parts, subtleStyle.Render("synced "+output.FormatTimeAgo(st.LastSyncTime)))
	return strings.Join(parts, "  ")
}

func (m Model) renderHeader() string {
	line := m.statusLine()
	if m.Status.LastError != "" {
		line += "  " + errorStyle.Render(ansi.Truncate(m.Status.LastError, max(m.Width/3, 10), "…"))
	}
	return ansi.Truncate(line, m.Width, "")
}

func (m Model) renderList(height int) string {
	var s strings.Builder
	title := panelTitleStyle.Render(fmt.Sprintf("REMINDERS (%d)", len(m.Rows)))
	inner := height - 3 // border + title
	innerWidth := m.Width - 6

	if len(m.Rows) == 0 {
		s.WriteString(subtleStyle.Render("Nothing here. Press a to add a reminder."))
	} else {
		start := 0
		if m.Cursor >= inner {
			start = m.Cursor - inner + 1
		}
		end := min(start+inner, len(m.Rows))
		for i := start; i < end; i++ {
			line := output.FormatReminderShort(m.Rows[i], innerWidth-2)
			if i == m.Cursor {
				line = cursorStyle.Render("> ") + line
			} else {
				line = "  " + line
			}
			s.WriteString(line)
			if i < end-1 {
				s.WriteString("\n")
			}
		}
	}

	if m.Adding {
		s.WriteString("\n" + m.Input.View())
	}

	return panelStyle.Width(m.Width - 2).Height(height - 2).
		Render(title + "\n" + s.String())
}

func (m Model) renderFeed(height int) string {
	title := panelTitleStyle.Render("EVENTS")
	inner := max(height-3, 1)
	innerWidth := m.Width - 6

	var lines []string
	if len(m.Feed) == 0 {
		lines = append(lines, subtleStyle.Render("No events yet."))
	}
	start := max(len(m.Feed)-inner, 0)
	for i := len(m.Feed) - 1; i >= start; i-- {
		item := m.Feed[i]
		msg := item.Message
		if item.Err {
			msg = errorStyle.Render(msg)
		}
		line := timestampStyle.Render(item.Time.Format("15:04:05")) + " " + msg
		lines = append(lines, ansi.Truncate(line, innerWidth, "…"))
	}

	return panelStyle.Width(m.Width - 2).Height(height - 2).
		Render(title + "\n" + strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	if m.Adding {
		return helpStyle.Render(" enter:save  esc:cancel")
	}
	keys := helpStyle.Render(" q:quit  j/k:move  space:toggle  a:add  d:delete  s:sync  ?:help")
	if m.UpdateNotice != "" {
		keys += "  " + onlineStyle.Render(m.UpdateNotice)
	}
	return keys
}

func (m Model) renderHelp() string {
	help := `
REM WATCH

NAVIGATION:
  j / ↓        Move down
  k / ↑        Move up

ACTIONS:
  space / x    Toggle completed
  a            Add a reminder for today
  d            Delete selected reminder
  s            Sync now

OTHER:
  ?            Toggle help
  q / Ctrl+C   Quit

Changes show up immediately and sync in the background.
↑ marks reminders waiting to sync, ! marks conflicts.
Resolve conflicts with: rem sync resolve <id> --keep local|server

Press ? to close help
`
	return lipgloss.NewStyle().Padding(1, 2).Render(help)
}
