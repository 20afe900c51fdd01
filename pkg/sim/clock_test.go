package sim

import (
	"context"
	"testing"
	"time"

	"github.com/edaniels/golog"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/messaging"
)

func TestNewClock(t *testing.T) {
	if _, err := NewClock(); err == nil {
		t.Error("expected error without broker")
	}
	if _, err := NewClock(WithBroker(messaging.NewBroker()), WithStep(0)); err == nil {
		t.Error("expected error for zero step")
	}
}

func TestClockRun(t *testing.T) {
	t.Run("publishes every stamp", func(t *testing.T) {
		broker := messaging.NewBroker()
		events := make(chan messaging.Event, 10)
		if err := broker.Subscribe("listener", messaging.Clock, messaging.ChanHandler(events)); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		clock, err := NewClock(
			WithBroker(broker),
			WithStep(250*time.Millisecond),
			WithInterval(0),
			WithMaxTicks(6),
			WithLogger(golog.NewTestLogger(t)),
		)
		if err != nil {
			t.Fatalf("NewClock: %v", err)
		}

		if err := clock.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if got := len(events); got != 6 {
			t.Fatalf("received %d ticks, want 6", got)
		}
		var last core.ClockTime
		for i := 0; i < 6; i++ {
			last = (<-events).Content.(core.ClockTime)
		}
		if last != (core.ClockTime{Secs: 1, Nsecs: 500_000_000}) {
			t.Errorf("last stamp = %+v, want 1.5s", last)
		}

		status := clock.Status()
		if status.Running {
			t.Error("status still running")
		}
		if status.Ticks != 6 || status.SimTime != 1500*time.Millisecond {
			t.Errorf("status = %+v", status)
		}
		if status.EndTime.Before(status.StartTime) {
			t.Error("end time before start time")
		}
	})

	t.Run("stops with context", func(t *testing.T) {
		clock, err := NewClock(WithBroker(messaging.NewBroker()), WithInterval(time.Millisecond))
		if err != nil {
			t.Fatalf("NewClock: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		t.Cleanup(cancel)

		if err := clock.Run(ctx); err != context.DeadlineExceeded {
			t.Errorf("Run() = %v, want DeadlineExceeded", err)
		}
		if clock.Now() <= 0 {
			t.Error("clock never advanced")
		}
	})

	t.Run("full subscriber does not stop the clock", func(t *testing.T) {
		broker := messaging.NewBroker()
		_ = broker.Subscribe("slow", messaging.Clock, messaging.ChanHandler(make(chan messaging.Event, 1)))

		clock, err := NewClock(WithBroker(broker), WithInterval(0), WithMaxTicks(3), WithLogger(golog.NewTestLogger(t)))
		if err != nil {
			t.Fatalf("NewClock: %v", err)
		}
		if err := clock.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := clock.Status().Ticks; got != 3 {
			t.Errorf("Ticks = %d, want 3", got)
		}
	})
}
