package sim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// DefaultStepInterval matches the 10ms physics tick of the simulators
// this base was written against.
const DefaultStepInterval = 10 * time.Millisecond

// StepFunc is invoked once per world tick with the current simulated
// time and the measured time elapsed since the previous tick.
type StepFunc func(ctx context.Context, now time.Time, dt time.Duration)

// World owns the simulated joints and the clock that steps them. All
// joints advance together, then the step callback observes them.
type World struct {
	clock  clock.Clock
	logger logging.Logger
	joints map[string]*Joint
}

// NewWorld creates an empty world on the wall clock.
func NewWorld(logger logging.Logger) *World {
	return NewWorldWithClock(clock.New(), logger)
}

// NewWorldWithClock creates an empty world on the given clock; tests
// pass a mock to control simulated time.
func NewWorldWithClock(c clock.Clock, logger logging.Logger) *World {
	return &World{
		clock:  c,
		logger: logger,
		joints: map[string]*Joint{},
	}
}

// AddJoint creates and registers a joint under the given name,
// replacing any previous joint with that name.
func (w *World) AddJoint(name string, inertiaKgM2 float64) *Joint {
	j := NewJoint(name, inertiaKgM2)
	w.joints[name] = j
	return j
}

// Joint looks up a joint reference by name. An unknown name is a
// configuration error for the caller to treat as fatal.
func (w *World) Joint(name string) (*Joint, error) {
	j, ok := w.joints[name]
	if !ok {
		return nil, errors.Errorf("no joint named %q in simulation", name)
	}
	return j, nil
}

// Now returns the current simulated time.
func (w *World) Now() time.Time {
	return w.clock.Now()
}

// Advance moves every joint forward by dt.
func (w *World) Advance(dt time.Duration) {
	for _, j := range w.joints {
		j.advance(dt)
	}
}

// Run steps the world every interval until ctx is cancelled, invoking
// step after each physics advance with the measured inter-tick dt.
// It blocks; callers run it under their own background worker.
func (w *World) Run(ctx context.Context, interval time.Duration, step StepFunc) {
	ticker := w.clock.Ticker(interval)
	defer ticker.Stop()

	prev := w.clock.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := w.clock.Now()
		dt := now.Sub(prev)
		prev = now

		w.Advance(dt)
		if step != nil {
			step(ctx, now, dt)
		}
	}
}
