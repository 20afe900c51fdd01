package observation

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/messaging"
)

var ErrNoScan = errors.New("no laser scan received yet")

// Collector keeps the latest laser scan and goal published on the bus.
// Scan events carry []float32, goal events carry [3]float64.
type Collector struct {
	id       string
	numBeams int
	scan     []float32
	goal     [3]float64
	broker   messaging.Broker
	mu       sync.RWMutex
}

// NewCollector subscribes to scan and goal events. numBeams <= 0 accepts any width.
func NewCollector(id string, numBeams int, broker messaging.Broker) (*Collector, error) {
	c := &Collector{
		id:       id,
		numBeams: numBeams,
		broker:   broker,
	}
	if err := broker.Subscribe(id, messaging.LaserScan, messaging.HandlerFunc(c.onScan)); err != nil {
		return nil, err
	}
	if err := broker.Subscribe(id, messaging.Goal, messaging.HandlerFunc(c.onGoal)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) onScan(_ context.Context, ev messaging.Event) error {
	scan, ok := ev.Content.([]float32)
	if !ok {
		return errors.Errorf("scan event carries %T", ev.Content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scan = append(c.scan[:0], scan...)
	return nil
}

func (c *Collector) onGoal(_ context.Context, ev messaging.Event) error {
	goal, ok := ev.Content.([3]float64)
	if !ok {
		return errors.Errorf("goal event carries %T", ev.Content)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal = goal
	return nil
}

// GetObservations implements core.ObservationSource. LastAction is left for
// the caller to fill in.
func (c *Collector) GetObservations(_ context.Context) (core.Observation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.scan == nil {
		return core.Observation{}, ErrNoScan
	}
	if c.numBeams > 0 && len(c.scan) != c.numBeams {
		return core.Observation{}, errors.Errorf("laser scan has %d beams, want %d", len(c.scan), c.numBeams)
	}

	scan := make([]float32, len(c.scan))
	copy(scan, c.scan)
	return core.Observation{
		LaserScan:        scan,
		GoalInRobotFrame: c.goal,
	}, nil
}

func (c *Collector) Close() error {
	if err := c.broker.Unsubscribe(c.id, messaging.LaserScan); err != nil {
		return err
	}
	return c.broker.Unsubscribe(c.id, messaging.Goal)
}
