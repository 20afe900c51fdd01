package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type subscription struct {
	id      string
	handler Handler
}

// SimpleBroker implements the Broker interface.
// subscribers maps each event kind to its handlers in subscription order.
type SimpleBroker struct {
	subscribers map[Kind][]subscription
	waiters     map[Kind][]*Future
	mu          sync.RWMutex
}

// NewBroker creates a new event broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		subscribers: make(map[Kind][]subscription),
		waiters:     make(map[Kind][]*Future),
	}
}

// Publish resolves pending futures for the event's kind, then calls every
// subscriber of that kind, the publisher included. Handlers run on the
// caller's goroutine, outside the broker lock, so they may publish in turn.
func (b *SimpleBroker) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	waiters := b.waiters[ev.Kind]
	delete(b.waiters, ev.Kind)
	subs := make([]subscription, len(b.subscribers[ev.Kind]))
	copy(subs, b.subscribers[ev.Kind])
	b.mu.Unlock()

	for _, f := range waiters {
		f.Resolve(ev)
	}

	var err error
	for _, sub := range subs {
		if herr := sub.handler.HandleEvent(ctx, ev); herr != nil {
			err = multierr.Append(err, errors.Wrapf(herr, "subscriber %s on %s", sub.id, ev.Kind))
		}
	}
	return err
}

// Subscribe registers a handler for one event kind
func (b *SimpleBroker) Subscribe(id string, kind Kind, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers[kind] {
		if sub.id == id {
			return errors.Wrapf(ErrAlreadySubscribed, "%s on %s", id, kind)
		}
	}

	b.subscribers[kind] = append(b.subscribers[kind], subscription{id: id, handler: h})
	return nil
}

// Unsubscribe removes a subscription
func (b *SimpleBroker) Unsubscribe(id string, kind Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[kind]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[kind] = append(subs[:i:i], subs[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotSubscribed, "%s on %s", id, kind)
}

// Expect registers a one-shot waiter. Register before triggering whatever
// produces the event, otherwise a synchronous reply is missed.
func (b *SimpleBroker) Expect(kind Kind) *Future {
	f := NewFuture(kind)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiters[kind] = append(b.waiters[kind], f)
	return f
}

// Forget drops a waiter that is no longer needed, e.g. after its wait timed
// out. Forgetting a resolved or unknown future is a no-op.
func (b *SimpleBroker) Forget(f *Future) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiters := b.waiters[f.kind]
	for i, w := range waiters {
		if w == f {
			b.waiters[f.kind] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(b.waiters[f.kind]) == 0 {
		delete(b.waiters, f.kind)
	}
}

// Subscribers returns the number of handlers registered for kind
func (b *SimpleBroker) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Kind][]subscription)
	b.waiters = make(map[Kind][]*Future)
}
