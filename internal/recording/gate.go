package recording

import (
	"context"
	"time"

	"github.com/tdu-cpslab/volp/internal/clock"
	"github.com/tdu-cpslab/volp/internal/trigger"
)

// Gate decides when a running capture ends
type Gate interface {
	// Wait blocks until the capture should stop or ctx is done
	Wait(ctx context.Context) error
}

// DefaultHoldInterval is how often HoldGate samples the trigger
const DefaultHoldInterval = 100 * time.Millisecond

// DefaultTimerDuration is how long TimerGate records
const DefaultTimerDuration = 3 * time.Second

// HoldGate keeps the capture running while the trigger stays active.
// It returns on the first inactive sample.
type HoldGate struct {
	Input    trigger.Input
	Interval time.Duration
	Clock    clock.Clock
}

// Wait implements Gate
func (g HoldGate) Wait(ctx context.Context) error {
	interval := g.Interval
	if interval <= 0 {
		interval = DefaultHoldInterval
	}
	clk := g.Clock
	if clk == nil {
		clk = clock.Real()
	}

	for g.Input.IsActive() {
		if err := clock.Sleep(ctx, clk, interval); err != nil {
			return err
		}
	}
	return nil
}

// TimerGate records for a fixed duration
type TimerGate struct {
	Duration time.Duration
	Clock    clock.Clock
}

// Wait implements Gate
func (g TimerGate) Wait(ctx context.Context) error {
	d := g.Duration
	if d <= 0 {
		d = DefaultTimerDuration
	}
	clk := g.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return clock.Sleep(ctx, clk, d)
}
