// Package watch is the live reminders view for `rem watch`: the optimistic
// list, sync status and the lifecycle event feed.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/optimistic"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/version"
)

// Mutator is the coordinator surface the view drives.
type Mutator interface {
	View() []models.Reminder
	Create(ctx context.Context, p models.ReminderPatch) (*optimistic.Pending, error)
	Toggle(ctx context.Context, localID string) (*optimistic.Pending, error)
	Delete(ctx context.Context, localID string) (*optimistic.Pending, error)
}

// Syncer is the orchestrator surface the view drives.
type Syncer interface {
	Status() remsync.Status
	SyncNow(ctx context.Context) error
}

// maxFeed is the number of lifecycle events kept in the feed.
const maxFeed = 50

// MinWidth is the minimum terminal width for the full layout
const MinWidth = 40

// MinHeight is the minimum terminal height for the full layout
const MinHeight = 12

// FeedItem is one line of the event feed.
type FeedItem struct {
	Time    time.Time
	Message string
	Err     bool
}

// Model is the Bubble Tea model for rem watch.
type Model struct {
	mut  Mutator
	sync Syncer

	Width  int
	Height int

	Rows   []models.Reminder
	Status remsync.Status
	Feed   []FeedItem
	Cursor int

	Adding   bool
	Input    textinput.Model
	Spinner  spinner.Model
	ShowHelp bool
	Err      error

	// CurrentVersion enables the background update check when set.
	CurrentVersion string
	UpdateNotice   string
}

// ViewMsg carries a new optimistic view.
type ViewMsg []models.Reminder

// StatusMsg carries a sync status update.
type StatusMsg remsync.Status

// EventMsg carries a lifecycle event.
type EventMsg events.Event

// OutcomeMsg carries an operation outcome.
type OutcomeMsg remsync.Outcome

// doneMsg reports the result of an action started from the view.
type doneMsg struct {
	what string
	err  error
}

// NewModel creates the model with the current view and status.
func NewModel(mut Mutator, s Syncer) Model {
	in := textinput.New()
	in.Placeholder = "new reminder"
	in.CharLimit = models.MaxTextLength
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		mut:     mut,
		sync:    s,
		Rows:    mut.View(),
		Status:  s.Status(),
		Input:   in,
		Spinner: sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	if m.CurrentVersion == "" {
		return m.Spinner.Tick
	}
	return tea.Batch(m.Spinner.Tick, version.CheckAsync(m.CurrentVersion))
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Adding {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Input.Width = max(msg.Width-10, 10)
		return m, nil

	case ViewMsg:
		m.Rows = msg
		m.clampCursor()
		return m, nil

	case StatusMsg:
		m.Status = remsync.Status(msg)
		return m, nil

	case EventMsg:
		e := events.Event(msg)
		m.push(FeedItem{Time: e.Time, Message: e.Message(), Err: e.Err != nil})
		return m, nil

	case OutcomeMsg:
		if msg.Kind == remsync.OutcomeFailed {
			m.push(FeedItem{Time: time.Now(), Message: "failed: " + msg.Err.Error(), Err: true})
		}
		return m, nil

	case doneMsg:
		m.Err = msg.err
		if msg.err != nil {
			m.push(FeedItem{Time: time.Now(), Message: msg.what + ": " + msg.err.Error(), Err: true})
		}
		return m, nil

	case version.UpdateAvailableMsg:
		m.UpdateNotice = fmt.Sprintf("update available: %s → %s", msg.CurrentVersion, msg.LatestVersion)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	if m.Adding {
		var cmd tea.Cmd
		m.Input, cmd = m.Input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "j", "down":
		if m.Cursor < len(m.Rows)-1 {
			m.Cursor++
		}
		return m, nil

	case "k", "up":
		if m.Cursor > 0 {
			m.Cursor--
		}
		return m, nil

	case "a":
		m.Adding = true
		m.Input.SetValue("")
		return m, m.Input.Focus()

	case " ", "x":
		if r, ok := m.selected(); ok {
			return m, m.act("toggle", func(ctx context.Context) (*optimistic.Pending, error) {
				return m.mut.Toggle(ctx, r.LocalID)
			})
		}
		return m, nil

	case "d":
		if r, ok := m.selected(); ok {
			return m, m.act("delete", func(ctx context.Context) (*optimistic.Pending, error) {
				return m.mut.Delete(ctx, r.LocalID)
			})
		}
		return m, nil

	case "s":
		s := m.sync
		return m, func() tea.Msg {
			return doneMsg{what: "sync", err: s.SyncNow(context.Background())}
		}

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.Adding = false
		m.Input.Blur()
		return m, nil
	case tea.KeyEnter:
		text := m.Input.Value()
		m.Adding = false
		m.Input.Blur()
		if text == "" {
			return m, nil
		}
		today := time.Now().Format(models.DateLayout)
		return m, m.act("add", func(ctx context.Context) (*optimistic.Pending, error) {
			return m.mut.Create(ctx, models.ReminderPatch{Text: &text, ReminderDate: &today})
		})
	}
	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

// act runs a mutation off the UI goroutine. Only the local write is awaited;
// the view follows the coordinator's change feed.
func (m Model) act(what string, fn func(ctx context.Context) (*optimistic.Pending, error)) tea.Cmd {
	return func() tea.Msg {
		_, err := fn(context.Background())
		return doneMsg{what: what, err: err}
	}
}

func (m Model) selected() (models.Reminder, bool) {
	if m.Cursor < 0 || m.Cursor >= len(m.Rows) {
		return models.Reminder{}, false
	}
	return m.Rows[m.Cursor], true
}

func (m *Model) clampCursor() {
	if m.Cursor >= len(m.Rows) {
		m.Cursor = len(m.Rows) - 1
	}
	if m.Cursor < 0 {
		m.Cursor = 0
	}
}

func (m *Model) push(item FeedItem) {
	m.Feed = append(m.Feed, item)
	if len(m.Feed) > maxFeed {
		m.Feed = m.Feed[len(m.Feed)-maxFeed:]
	}
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}
