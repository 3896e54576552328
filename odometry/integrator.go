// Package odometry accumulates a dead-reckoned planar pose from body
// velocities over simulated time.
package odometry

import (
	"math"
	"time"

	"github.com/lentin/neo-common/kinematics"
)

// Pose is a world-frame planar pose. Theta is the heading in radians,
// always wrapped to (-pi, pi].
type Pose struct {
	X     float64
	Y     float64
	Theta float64
}

// Integrator carries the accumulated pose estimate and the most recent
// body velocity. It is the one piece of memory that survives across
// the whole run. Not safe for concurrent use; only the step context
// touches it.
type Integrator struct {
	pose Pose
	vel  kinematics.Velocity
}

// NewIntegrator returns an integrator at the origin.
func NewIntegrator() *Integrator {
	return &Integrator{}
}

// Advance integrates one step of body velocity over dt, forward Euler
// rotated into the world frame. dt must be the measured simulated time
// since the previous step; feeding a fixed nominal step while the
// simulator's step varies accumulates drift. The stored velocity is
// the instantaneous input, not an average, so a zero dt still updates
// it.
func (i *Integrator) Advance(v kinematics.Velocity, dt time.Duration) {
	secs := dt.Seconds()
	sin, cos := math.Sincos(i.pose.Theta)
	i.pose.X += (v.X*cos - v.Y*sin) * secs
	i.pose.Y += (v.X*sin + v.Y*cos) * secs
	i.pose.Theta = normalizeAngle(i.pose.Theta + v.Omega*secs)
	i.vel = v
}

// Reset returns the estimate to the origin with zero velocity.
func (i *Integrator) Reset() {
	i.pose = Pose{}
	i.vel = kinematics.Velocity{}
}

// Pose returns the accumulated pose.
func (i *Integrator) Pose() Pose {
	return i.pose
}

// Velocity returns the body velocity from the most recent Advance.
func (i *Integrator) Velocity() kinematics.Velocity {
	return i.vel
}

// normalizeAngle wraps theta into (-pi, pi].
func normalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta > math.Pi {
		theta -= 2 * math.Pi
	} else if theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}
