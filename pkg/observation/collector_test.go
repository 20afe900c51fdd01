package observation

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/boristopalov/navrl/pkg/messaging"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewBroker()
	t.Cleanup(func() {
		broker.Reset()
	})

	c, err := NewCollector("obs", 3, broker)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	if _, err := c.GetObservations(ctx); errors.Cause(err) != ErrNoScan {
		t.Errorf("error before first scan = %v, want ErrNoScan", err)
	}

	scan := []float32{1, 2, 3}
	if err := broker.Publish(ctx, messaging.Event{Kind: messaging.LaserScan, Content: scan}); err != nil {
		t.Fatalf("Publish scan: %v", err)
	}
	if err := broker.Publish(ctx, messaging.Event{Kind: messaging.Goal, Content: [3]float64{2, 0.5, 0}}); err != nil {
		t.Fatalf("Publish goal: %v", err)
	}
	scan[0] = 42

	obs, err := c.GetObservations(ctx)
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if obs.LaserScan[0] != 1 {
		t.Error("collector aliases the published scan")
	}
	if obs.GoalInRobotFrame != [3]float64{2, 0.5, 0} {
		t.Errorf("goal = %v", obs.GoalInRobotFrame)
	}

	t.Run("wrong beam count", func(t *testing.T) {
		if err := broker.Publish(ctx, messaging.Event{Kind: messaging.LaserScan, Content: []float32{1}}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if _, err := c.GetObservations(ctx); err == nil {
			t.Error("expected error for short scan")
		}
	})

	t.Run("wrong payload type", func(t *testing.T) {
		if err := broker.Publish(ctx, messaging.Event{Kind: messaging.Goal, Content: "north"}); err == nil {
			t.Error("expected error for bad goal payload")
		}
	})
}
