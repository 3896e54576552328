// Package sim is a small physics stand-in: wheel joints that chase a
// velocity target under a torque cap, advanced by a world step loop
// running on a mockable clock.
package sim

import (
	"sync"
	"time"
)

// Joint is a simulated hinge joint. The achieved velocity slews toward
// the commanded target at a rate bounded by the torque cap over the
// joint's rotational inertia, so a readback immediately after a new
// command lags it, the way a physics engine's joint would.
type Joint struct {
	mu          sync.Mutex
	name        string
	inertiaKgM2 float64
	target      float64
	maxTorque   float64
	velocity    float64
}

// NewJoint creates a stationary joint with the given rotational
// inertia (kg*m^2, strictly positive).
func NewJoint(name string, inertiaKgM2 float64) *Joint {
	return &Joint{name: name, inertiaKgM2: inertiaKgM2}
}

// Name returns the joint identifier.
func (j *Joint) Name() string {
	return j.name
}

// SetVelocity sets the velocity target (rad/s) and the torque cap
// (N*m) the joint may use to reach it.
func (j *Joint) SetVelocity(radPerSec, maxTorqueNm float64) {
	j.mu.Lock()
	j.target = radPerSec
	j.maxTorque = maxTorqueNm
	j.mu.Unlock()
}

// Velocity returns the achieved angular velocity (rad/s).
func (j *Joint) Velocity() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.velocity
}

// advance integrates the joint toward its target over dt. With no
// torque budget the joint coasts at its current velocity.
func (j *Joint) advance(dt time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()

	maxDelta := j.maxTorque / j.inertiaKgM2 * dt.Seconds()
	delta := j.target - j.velocity
	if delta > maxDelta {
		delta = maxDelta
	} else if delta < -maxDelta {
		delta = -maxDelta
	}
	j.velocity += delta
}
