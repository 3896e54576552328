// Package drive orchestrates one controller step of the mecanum base:
// latest command in, wheel velocity targets out to the joints,
// measured wheel velocities back in, odometry forward, estimate out.
package drive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/lentin/neo-common/kinematics"
	"github.com/lentin/neo-common/odometry"
)

// Wheel identifies one of the four wheel joints.
type Wheel int

// Wheel positions, in the order the kinematics expects them.
const (
	FrontLeft Wheel = iota
	FrontRight
	BackLeft
	BackRight
	NumWheels
)

func (w Wheel) String() string {
	switch w {
	case FrontLeft:
		return "front left"
	case FrontRight:
		return "front right"
	case BackLeft:
		return "back left"
	case BackRight:
		return "back right"
	default:
		return "unknown"
	}
}

// Actuator is the narrow capability the controller needs from a wheel
// joint: set a velocity target under a torque cap, and read back the
// achieved velocity. The controller never sees host data layouts.
type Actuator interface {
	SetVelocity(radPerSec, maxTorqueNm float64)
	Velocity() float64
}

// State is one published odometry sample.
type State struct {
	Pose     odometry.Pose
	Velocity kinematics.Velocity
	Stamp    time.Time
}

// Publisher receives one odometry sample per step. Publish failures
// are logged by the controller, not propagated; the estimate keeps
// integrating regardless.
type Publisher interface {
	PublishOdometry(ctx context.Context, s State) error
}

const (
	stateReady int32 = iota
	stateRunning
	stateStopped
)

// Controller runs the per-tick control step for a four-wheel mecanum
// base. The host world calls Step serially; everything except the
// command buffer and the reset flag is touched only from that context.
type Controller struct {
	geom       kinematics.Geometry
	wheels     [NumWheels]Actuator
	buffer     *CommandBuffer
	integrator *odometry.Integrator
	publisher  Publisher
	logger     logging.Logger

	state          atomic.Int32
	resetRequested atomic.Bool

	lastMu   sync.Mutex
	lastTick State
}

// NewController validates the geometry and takes ownership of the four
// wheel actuators. A missing actuator is a configuration error; the
// controller refuses to start rather than drive a partial base.
func NewController(
	geom kinematics.Geometry,
	wheels [NumWheels]Actuator,
	buffer *CommandBuffer,
	publisher Publisher,
	logger logging.Logger,
) (*Controller, error) {
	if err := geom.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid drive geometry")
	}
	for w, a := range wheels {
		if a == nil {
			return nil, errors.Errorf("couldn't get %s wheel joint", Wheel(w))
		}
	}
	if buffer == nil {
		return nil, errors.New("command buffer required")
	}
	c := &Controller{
		geom:       geom,
		wheels:     wheels,
		buffer:     buffer,
		integrator: odometry.NewIntegrator(),
		publisher:  publisher,
		logger:     logger,
	}
	c.state.Store(stateReady)
	return c, nil
}

// Step runs one controller tick: read the latest command, mix it into
// wheel targets, actuate the joints, read achieved wheel velocities
// back, advance the odometry by dt, and publish the estimate. now and
// dt come from the host's simulated clock; dt is the measured time
// since the previous tick.
func (c *Controller) Step(ctx context.Context, now time.Time, dt time.Duration) error {
	c.state.CompareAndSwap(stateReady, stateRunning)
	if c.state.Load() != stateRunning {
		return errors.New("drive controller is stopped")
	}

	if c.resetRequested.CompareAndSwap(true, false) {
		c.integrator.Reset()
	}

	cmd := c.buffer.Latest()
	targets := c.geom.WheelSpeeds(cmd)

	torque := c.geom.MaxTorqueNm
	c.wheels[FrontLeft].SetVelocity(targets.FrontLeft, torque)
	c.wheels[FrontRight].SetVelocity(targets.FrontRight, torque)
	c.wheels[BackLeft].SetVelocity(targets.BackLeft, torque)
	c.wheels[BackRight].SetVelocity(targets.BackRight, torque)

	measured := kinematics.WheelSpeeds{
		FrontLeft:  c.wheels[FrontLeft].Velocity(),
		FrontRight: c.wheels[FrontRight].Velocity(),
		BackLeft:   c.wheels[BackLeft].Velocity(),
		BackRight:  c.wheels[BackRight].Velocity(),
	}
	body := c.geom.BodyVelocity(measured)
	c.integrator.Advance(body, dt)

	sample := State{
		Pose:     c.integrator.Pose(),
		Velocity: c.integrator.Velocity(),
		Stamp:    now,
	}
	c.lastMu.Lock()
	c.lastTick = sample
	c.lastMu.Unlock()

	if c.publisher != nil {
		if err := c.publisher.PublishOdometry(ctx, sample); err != nil {
			c.logger.Errorw("odometry publish error", "error", err)
		}
	}
	return nil
}

// Odometry returns the sample from the most recent step. Safe to call
// from any context.
func (c *Controller) Odometry() State {
	c.lastMu.Lock()
	defer c.lastMu.Unlock()
	return c.lastTick
}

// RequestReset asks the step context to zero the odometry estimate at
// the top of its next tick.
func (c *Controller) RequestReset() {
	c.resetRequested.Store(true)
}

// Stop moves the controller to its terminal state. An in-flight step
// completes; later steps are refused.
func (c *Controller) Stop() {
	c.state.Store(stateStopped)
}
