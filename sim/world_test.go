package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestJointSlew(t *testing.T) {
	j := NewJoint("front_left_wheel_joint", 0.05)

	// max rate = torque / inertia = 10 / 0.05 = 200 rad/s^2, so a 10ms
	// advance can close at most 2 rad/s of the gap
	j.SetVelocity(5, 10)
	j.advance(10 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 2)

	j.advance(10 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 4)

	// converges instead of overshooting
	j.advance(10 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 5)
	j.advance(10 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 5)

	// decelerates under the same cap
	j.SetVelocity(0, 10)
	j.advance(10 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 3)
}

func TestJointNoTorqueNoMotion(t *testing.T) {
	j := NewJoint("front_left_wheel_joint", 0.05)
	j.advance(time.Second)
	test.That(t, j.Velocity(), test.ShouldEqual, 0)
}

func TestWorldJointLookup(t *testing.T) {
	logger := logging.NewTestLogger(t)
	w := NewWorld(logger)
	added := w.AddJoint("back_right_wheel_joint", 0.05)

	got, err := w.Joint("back_right_wheel_joint")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, added)

	_, err = w.Joint("no_such_joint")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWorldAdvanceWithMockClock(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	w := NewWorldWithClock(mock, logger)
	j := w.AddJoint("front_left_wheel_joint", 0.05)
	j.SetVelocity(1, 10)

	start := w.Now()
	w.Advance(50 * time.Millisecond)
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 1)

	mock.Add(50 * time.Millisecond)
	test.That(t, w.Now().Sub(start), test.ShouldEqual, 50*time.Millisecond)
}

func TestWorldRun(t *testing.T) {
	logger := logging.NewTestLogger(t)
	w := NewWorld(logger)
	j := w.AddJoint("front_left_wheel_joint", 0.05)
	j.SetVelocity(1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var dts []time.Duration

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, time.Millisecond, func(ctx context.Context, now time.Time, dt time.Duration) {
			mu.Lock()
			dts = append(dts, dt)
			if len(dts) >= 5 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("world loop never finished")
	}

	mu.Lock()
	defer mu.Unlock()
	test.That(t, len(dts), test.ShouldBeGreaterThanOrEqualTo, 5)
	for _, dt := range dts {
		// dt is measured, not assumed
		test.That(t, dt, test.ShouldBeGreaterThan, 0)
	}
	test.That(t, j.Velocity(), test.ShouldAlmostEqual, 1)
}
