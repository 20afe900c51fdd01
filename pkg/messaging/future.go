package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Future is a one-shot promise for an event of a given kind
type Future struct {
	kind Kind
	once sync.Once
	done chan struct{}
	ev   Event
}

// NewFuture creates an unresolved future. Most callers want Broker.Expect.
func NewFuture(kind Kind) *Future {
	return &Future{
		kind: kind,
		done: make(chan struct{}),
	}
}

// Resolve completes the future; later calls are ignored
func (f *Future) Resolve(ev Event) {
	f.once.Do(func() {
		f.ev = ev
		close(f.done)
	})
}

// Done is closed once the future is resolved
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves, the timeout elapses or ctx ends.
// A non-positive timeout waits on ctx alone.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (Event, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-f.done:
		return f.ev, nil
	case <-deadline:
		return Event{}, errors.Wrapf(ErrTimeout, "%s after %s", f.kind, timeout)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
