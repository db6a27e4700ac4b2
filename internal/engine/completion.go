package engine

import (
	"context"
	"sync"
)

// Completion is the handle a submitter holds while its event runs through a
// flow. It resolves exactly once with the final event (possibly nil when the
// flow consumed it) and the terminal error, if any.
type Completion struct {
	once  sync.Once
	done  chan struct{}
	event *Event
	err   error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolve records the outcome and releases waiters. Only the first call has
// any effect; later calls are ignored so a cloned event resolving through a
// different branch cannot overwrite the outcome.
func (c *Completion) Resolve(event *Event, err error) {
	c.once.Do(func() {
		c.event = event
		c.err = err
		close(c.done)
	})
}

// Done returns a channel closed when the outcome is available.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the outcome is available or ctx is done. On context
// expiry it returns the context error.
func (c *Completion) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-c.done:
		return c.event, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolved reports whether the outcome is already available.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
