package sim

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/messaging"
)

// Status describes a clock run
type Status struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Ticks     int
	SimTime   time.Duration
}

// Clock advances simulated time in fixed steps and publishes every stamp on
// the bus, standing in for a simulator's clock feed.
type Clock struct {
	id       string
	step     time.Duration
	interval time.Duration
	maxTicks int
	broker   messaging.Broker
	logger   golog.Logger

	mu     sync.RWMutex
	now    time.Duration
	status Status
}

type ClockParams struct {
	ID       string
	Step     time.Duration
	Interval time.Duration
	MaxTicks int
	Broker   messaging.Broker
	Logger   golog.Logger
}

type ClockOption func(*ClockParams)

func WithID(id string) ClockOption {
	return func(p *ClockParams) {
		p.ID = id
	}
}

// WithStep sets how much simulated time passes per tick
func WithStep(d time.Duration) ClockOption {
	return func(p *ClockParams) {
		p.Step = d
	}
}

// WithInterval sets the wall time between ticks. Zero runs as fast as possible.
func WithInterval(d time.Duration) ClockOption {
	return func(p *ClockParams) {
		p.Interval = d
	}
}

// WithMaxTicks stops Run after n ticks. Zero runs until the context ends.
func WithMaxTicks(n int) ClockOption {
	return func(p *ClockParams) {
		p.MaxTicks = n
	}
}

func WithBroker(b messaging.Broker) ClockOption {
	return func(p *ClockParams) {
		p.Broker = b
	}
}

func WithLogger(l golog.Logger) ClockOption {
	return func(p *ClockParams) {
		p.Logger = l
	}
}

func NewClock(opts ...ClockOption) (*Clock, error) {
	p := &ClockParams{
		ID:       "sim-clock",
		Step:     10 * time.Millisecond,
		Interval: 10 * time.Millisecond,
		Logger:   golog.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.Broker == nil {
		return nil, errors.New("clock needs a message broker")
	}
	if p.Step <= 0 {
		return nil, errors.Errorf("clock step must be positive, got %s", p.Step)
	}
	if p.Interval < 0 || p.MaxTicks < 0 {
		return nil, errors.New("clock interval and max ticks must not be negative")
	}

	return &Clock{
		id:       p.ID,
		step:     p.Step,
		interval: p.Interval,
		maxTicks: p.MaxTicks,
		broker:   p.Broker,
		logger:   p.Logger,
	}, nil
}

// Now returns the current simulated time
func (c *Clock) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *Clock) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Run ticks until ctx ends or the configured number of ticks is reached.
// Reaching the tick limit returns nil.
func (c *Clock) Run(ctx context.Context) error {
	c.mu.Lock()
	c.status.Running = true
	c.status.StartTime = time.Now()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.status.Running = false
		c.status.EndTime = time.Now()
		c.mu.Unlock()
	}()

	return c.runLoop(ctx)
}

func (c *Clock) runLoop(ctx context.Context) error {
	var tick <-chan time.Time
	if c.interval > 0 {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for ticks := 0; c.maxTicks == 0 || ticks < c.maxTicks; ticks++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		c.Tick(ctx)
	}
	return nil
}

// Tick advances simulated time by one step and publishes the new stamp.
// Delivery failures are logged; a slow subscriber never stops the clock.
func (c *Clock) Tick(ctx context.Context) core.ClockTime {
	c.mu.Lock()
	c.now += c.step
	now := c.now
	c.status.Ticks++
	c.status.SimTime = now
	c.mu.Unlock()

	stamp := core.ClockFromDuration(now)
	if err := c.broker.Publish(ctx, messaging.Event{Kind: messaging.Clock, From: c.id, Content: stamp}); err != nil {
		c.logger.Warnw("clock tick not delivered", "sim_time", now, "error", err)
	}
	return stamp
}
