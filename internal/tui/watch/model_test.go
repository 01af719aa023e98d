package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/optimistic"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/version"
)

type fakeMutator struct {
	rows    []models.Reminder
	created []string
	toggled []string
	deleted []string
	err     error
}

func (f *fakeMutator) View() []models.Reminder { return f.rows }

func (f *fakeMutator) Create(_ context.Context, p models.ReminderPatch) (*optimistic.Pending, error) {
	f.created = append(f.created, *p.Text)
	return nil, f.err
}

func (f *fakeMutator) Toggle(_ context.Context, id string) (*optimistic.Pending, error) {
	f.toggled = append(f.toggled, id)
	return nil, f.err
}

func (f *fakeMutator) Delete(_ context.Context, id string) (*optimistic.Pending, error) {
	f.deleted = append(f.deleted, id)
	return nil, f.err
}

type fakeSyncer struct {
	status remsync.Status
	syncs  int
	err    error
}

func (f *fakeSyncer) Status() remsync.Status { return f.status }

func (f *fakeSyncer) SyncNow(context.Context) error {
	f.syncs++
	return f.err
}

func rows(texts ...string) []models.Reminder {
	var out []models.Reminder
	for i, t := range texts {
		out = append(out, models.Reminder{
			LocalID:      strings.Repeat(string(rune('a'+i)), 12),
			Text:         t,
			ReminderDate: "2026-03-05",
			IsAllDay:     true,
			Priority:     models.PriorityMedium,
			SyncStatus:   models.StatusSynced,
		})
	}
	return out
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func newTestModel(texts ...string) (Model, *fakeMutator, *fakeSyncer) {
	mut := &fakeMutator{rows: rows(texts...)}
	s := &fakeSyncer{status: remsync.Status{Online: true}}
	m := NewModel(mut, s)
	m.Width, m.Height = 100, 30
	return m, mut, s
}

func TestCursorMovement(t *testing.T) {
	m, _, _ := newTestModel("one", "two", "three")

	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("j"))
	if m.Cursor != 2 {
		t.Fatalf("cursor past end: got %d, want 2", m.Cursor)
	}
	m, _ = update(t, m, key("k"))
	if m.Cursor != 1 {
		t.Fatalf("cursor after k: got %d, want 1", m.Cursor)
	}

	// A shrinking view clamps the cursor.
	m, _ = update(t, m, ViewMsg(rows("only")))
	if m.Cursor != 0 {
		t.Fatalf("cursor after shrink: got %d, want 0", m.Cursor)
	}
}

func TestToggleAndDeleteSelected(t *testing.T) {
	m, mut, _ := newTestModel("one", "two")

	m, _ = update(t, m, key("j"))
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if cmd == nil {
		t.Fatal("toggle returned no command")
	}
	if msg, ok := cmd().(doneMsg); !ok || msg.err != nil {
		t.Fatalf("toggle result: %+v", msg)
	}
	if len(mut.toggled) != 1 || mut.toggled[0] != m.Rows[1].LocalID {
		t.Fatalf("toggled: got %v", mut.toggled)
	}

	_, cmd = update(t, m, key("d"))
	cmd()
	if len(mut.deleted) != 1 || mut.deleted[0] != m.Rows[1].LocalID {
		t.Fatalf("deleted: got %v", mut.deleted)
	}
}

func TestToggleOnEmptyListIsNoop(t *testing.T) {
	m, mut, _ := newTestModel()
	_, cmd := update(t, m, key("x"))
	if cmd != nil {
		t.Fatal("expected no command for empty list")
	}
	if len(mut.toggled) != 0 {
		t.Fatal("toggle called on empty list")
	}
}

func TestQuickAdd(t *testing.T) {
	m, mut, _ := newTestModel()

	m, _ = update(t, m, key("a"))
	if !m.Adding {
		t.Fatal("a did not open the input")
	}
	m, _ = update(t, m, key("buy milk"))
	// q is text while adding, not quit
	m, _ = update(t, m, key("q"))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.Adding {
		t.Fatal("enter did not close the input")
	}
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	cmd()
	if len(mut.created) != 1 || mut.created[0] != "buy milkq" {
		t.Fatalf("created: got %v", mut.created)
	}
}

func TestQuickAddEscapeCancels(t *testing.T) {
	m, mut, _ := newTestModel()
	m, _ = update(t, m, key("a"))
	m, _ = update(t, m, key("draft"))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.Adding || cmd != nil {
		t.Fatal("esc should close the input without a command")
	}
	if len(mut.created) != 0 {
		t.Fatal("create called after esc")
	}
}

func TestActionErrorLandsInFeed(t *testing.T) {
	m, mut, _ := newTestModel("one")
	mut.err = errors.New("disk full")

	_, cmd := update(t, m, key("x"))
	m, _ = update(t, m, cmd())
	if m.Err == nil {
		t.Fatal("expected Err to be set")
	}
	if len(m.Feed) != 1 || !m.Feed[0].Err || !strings.Contains(m.Feed[0].Message, "disk full") {
		t.Fatalf("feed: %+v", m.Feed)
	}
}

func TestSyncKey(t *testing.T) {
	m, _, s := newTestModel()
	_, cmd := update(t, m, key("s"))
	cmd()
	if s.syncs != 1 {
		t.Fatalf("syncs: got %d, want 1", s.syncs)
	}
}

func TestFeedIsBounded(t *testing.T) {
	m, _, _ := newTestModel()
	for i := 0; i < maxFeed+10; i++ {
		e := events.New(events.RetryScheduled)
		e.Attempt = i
		m, _ = update(t, m, EventMsg(e))
	}
	if len(m.Feed) != maxFeed {
		t.Fatalf("feed length: got %d, want %d", len(m.Feed), maxFeed)
	}
	if !strings.Contains(m.Feed[len(m.Feed)-1].Message, "retry 59") {
		t.Fatalf("newest item: %q", m.Feed[len(m.Feed)-1].Message)
	}
}

func TestViewShowsRowsAndStatus(t *testing.T) {
	m, _, _ := newTestModel("water the plants")
	m, _ = update(t, m, StatusMsg(remsync.Status{
		Online:        false,
		PendingCount:  3,
		ConflictCount: 1,
		LastSyncTime:  time.Now().Add(-2 * time.Hour),
	}))

	out := m.View()
	for _, want := range []string{"water the plants", "offline", "pending 3", "conflicts 1", "REMINDERS (1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewSizes(t *testing.T) {
	m, _, _ := newTestModel("one")
	m.Width, m.Height = 0, 0
	if got := m.View(); got != "Loading..." {
		t.Fatalf("zero size: got %q", got)
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 10})
	if !strings.Contains(m.View(), "resize for full view") {
		t.Fatal("small terminal should render the compact view")
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = update(t, m, key("?"))
	if !strings.Contains(m.View(), "REM WATCH") {
		t.Fatal("? should show help")
	}
}

func TestQuitKey(t *testing.T) {
	m, _, _ := newTestModel()
	_, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q should quit")
	}
}

func TestUpdateNoticeInFooter(t *testing.T) {
	m, _, _ := newTestModel("one")
	m, _ = update(t, m, version.UpdateAvailableMsg{CurrentVersion: "v1.0.0", LatestVersion: "v1.1.0"})

	if !strings.Contains(m.View(), "update available: v1.0.0 → v1.1.0") {
		t.Error("footer should show the update notice")
	}
}
