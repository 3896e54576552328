// Package kinematics holds the mecanum drive math: the mixing matrix
// from a body-frame velocity to the four wheel angular velocities, and
// the least-squares inverse used to reconstruct body velocity from
// measured wheel speeds.
package kinematics

import "github.com/pkg/errors"

// Geometry describes the fixed chassis dimensions of a four-wheel
// mecanum base. Lengths are meters, torque is newton-meters.
type Geometry struct {
	LengthM        float64
	WidthM         float64
	WheelDiameterM float64
	MaxTorqueNm    float64
}

// Validate rejects geometry the mixing matrix cannot work with.
// LengthM+WidthM and WheelDiameterM are divisors, so every dimension
// must be strictly positive.
func (g Geometry) Validate() error {
	if g.LengthM <= 0 {
		return errors.Errorf("robot length must be positive, got %v", g.LengthM)
	}
	if g.WidthM <= 0 {
		return errors.Errorf("robot width must be positive, got %v", g.WidthM)
	}
	if g.WheelDiameterM <= 0 {
		return errors.Errorf("wheel diameter must be positive, got %v", g.WheelDiameterM)
	}
	if g.MaxTorqueNm <= 0 {
		return errors.Errorf("wheel torque must be positive, got %v", g.MaxTorqueNm)
	}
	return nil
}

// separation is the L term of the mixing matrix, the combined
// front-back and left-right wheel separation contribution.
func (g Geometry) separation() float64 {
	return g.LengthM + g.WidthM
}

// Velocity is a body-frame velocity: X forward (m/s), Y left (m/s),
// Omega counterclockwise (rad/s).
type Velocity struct {
	X     float64
	Y     float64
	Omega float64
}

// WheelSpeeds are the angular velocities (rad/s) of the four wheels.
type WheelSpeeds struct {
	FrontLeft  float64
	FrontRight float64
	BackLeft   float64
	BackRight  float64
}

// WheelSpeeds converts a body velocity into the four wheel angular
// velocities. The sign pattern is the mecanum mixing matrix; flipping
// any sign silently turns forward motion into rotation or strafing
// into nothing, so it is pinned down by tests.
func (g Geometry) WheelSpeeds(v Velocity) WheelSpeeds {
	l := g.separation()
	scale := 2 / g.WheelDiameterM
	return WheelSpeeds{
		FrontLeft:  (v.X + v.Y - l*v.Omega) * scale,
		FrontRight: (v.X - v.Y + l*v.Omega) * scale,
		BackLeft:   (v.X - v.Y - l*v.Omega) * scale,
		BackRight:  (v.X + v.Y + l*v.Omega) * scale,
	}
}

// BodyVelocity reconstructs the body velocity from measured wheel
// angular velocities. This is the least-squares pseudo-inverse of the
// mixing matrix, not the algebraic inverse of WheelSpeeds: the angular
// term carries an extra 1/4 normalization.
func (g Geometry) BodyVelocity(w WheelSpeeds) Velocity {
	r := g.WheelDiameterM / 2
	dfl := r * w.FrontLeft
	dfr := r * w.FrontRight
	dbl := r * w.BackLeft
	dbr := r * w.BackRight
	return Velocity{
		X:     (dfl + dfr + dbl + dbr) / 4,
		Y:     (dfl - dfr - dbl + dbr) / 4,
		Omega: (-dfl + dfr - dbl + dbr) / 4 / g.separation(),
	}
}
