package watch

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
	remsync "github.com/marcus/rem/internal/sync"
)

// Source is everything Run subscribes to.
type Source interface {
	Subscribe(fn func([]models.Reminder)) (cancel func())
}

// Run starts the program and bridges coordinator, orchestrator and event
// notifications into it until the user quits or ctx is cancelled.
// currentVersion, when set, enables the update notice.
func Run(ctx context.Context, mut Mutator, views Source, orch *remsync.Orchestrator, currentVersion string) error {
	m := NewModel(mut, orch)
	m.CurrentVersion = currentVersion
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Bus handlers run on the publisher's goroutine; Send blocks until the
	// program reads, so hand off.
	send := func(msg tea.Msg) { go p.Send(msg) }

	cancels := []func(){
		views.Subscribe(func(v []models.Reminder) { send(ViewMsg(v)) }),
		orch.SubscribeStatus(func(s remsync.Status) { send(StatusMsg(s)) }),
		orch.SubscribeOutcomes(func(o remsync.Outcome) { send(OutcomeMsg(o)) }),
		orch.Events().Subscribe(func(e events.Event) { send(EventMsg(e)) }),
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
