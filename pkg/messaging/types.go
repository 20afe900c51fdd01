package messaging

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Kind identifies what an event signals
type Kind int

const (
	RequestNewMap Kind = iota
	DistanceMapReady
	OccupancyGridReady
	TaskReset
	Clock
	VelocityCommand
	LaserScan
	Goal
)

// String returns the topic name the kind is conventionally carried on
func (k Kind) String() string {
	switch k {
	case RequestNewMap:
		return "/request_new_map"
	case DistanceMapReady:
		return "/signal_new_distance_map"
	case OccupancyGridReady:
		return "/map"
	case TaskReset:
		return "/dynamic_map/task_reset"
	case Clock:
		return "/clock"
	case VelocityCommand:
		return "cmd_vel"
	case LaserScan:
		return "scan"
	case Goal:
		return "goal"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrChannelFull       = errors.New("channel is full")
	ErrTimeout           = errors.New("timed out waiting for event")
)

// Event is a signal on the bus. Signals such as RequestNewMap carry no content.
type Event struct {
	Kind      Kind
	From      string    // subscriber ID of the publisher, may be empty
	Content   any       // payload, nil for pure signals
	Timestamp time.Time // when the event was published
}

// Handler receives events of the kinds it subscribed to
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// ChanHandler forwards events into a channel without blocking
type ChanHandler chan<- Event

func (c ChanHandler) HandleEvent(_ context.Context, ev Event) error {
	select {
	case c <- ev:
		return nil
	default:
		return errors.Wrapf(ErrChannelFull, "dropping %s event", ev.Kind)
	}
}

// Broker routes events between coordinators
type Broker interface {
	// Publish dispatches ev synchronously to every subscriber of its kind
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h under id for events of kind
	Subscribe(id string, kind Kind, h Handler) error
	// Unsubscribe removes the subscription of id to kind
	Unsubscribe(id string, kind Kind) error
	// Expect returns a future resolved by the next event of kind
	Expect(kind Kind) *Future
	// Forget withdraws a future returned by Expect
	Forget(f *Future)
	// Subscribers returns the number of handlers registered for kind
	Subscribers(kind Kind) int
}
