package optimistic

import (
	"context"
	"sync"

	"github.com/marcus/rem/internal/models"
)

// Pending is the handle for one optimistic mutation.
type Pending struct {
	OpID    string
	LocalID string
	// Optimistic is the value shown in the view when the mutation was made.
	Optimistic models.Reminder

	previous *models.Reminder

	once   sync.Once
	done   chan struct{}
	result *models.Reminder
	err    error
}

func newPending(opID, localID string, r models.Reminder) *Pending {
	return &Pending{OpID: opID, LocalID: localID, Optimistic: r, done: make(chan struct{})}
}

func (p *Pending) resolve(r *models.Reminder, err error) {
	p.once.Do(func() {
		p.result, p.err = r, err
		close(p.done)
	})
}

// Done is closed once the mutation settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the mutation settles or ctx is done. On success it
// returns the confirmed row, which is nil for deletes.
func (p *Pending) Wait(ctx context.Context) (*models.Reminder, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
