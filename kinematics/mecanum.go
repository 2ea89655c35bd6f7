// Package kinematics converts body frame velocity commands to mecanum wheel powers and back.
//
// Body frame: X forward, Y to the left, Omega counter-clockwise. Wheel order is
// front-left, front-right, rear-left, rear-right. The mixing signs assume rollers
// arranged in the usual "X" pattern when viewed from above.
package kinematics

import (
	"math"

	"github.com/golang/geo/r3"
)

// Wheel indexes into WheelPowers.
const (
	FrontLeft = iota
	FrontRight
	RearLeft
	RearRight
	NumWheels
)

// DefaultCeiling is the largest wheel power magnitude the drivetrain accepts.
const DefaultCeiling = 1.0

// VelocityCommand is a normalized body frame velocity request.
type VelocityCommand struct {
	X     float64
	Y     float64
	Omega float64
}

// Scale returns the command with every axis multiplied by k.
func (c VelocityCommand) Scale(k float64) VelocityCommand {
	return VelocityCommand{X: c.X * k, Y: c.Y * k, Omega: c.Omega * k}
}

// IsZero reports whether all three axes are zero.
func (c VelocityCommand) IsZero() bool {
	return c.X == 0 && c.Y == 0 && c.Omega == 0
}

// FromVectors maps viam base vectors (linear.Y forward, linear.X to the right,
// angular.Z counter-clockwise) into a body frame command.
func FromVectors(linear, angular r3.Vector) VelocityCommand {
	return VelocityCommand{X: linear.Y, Y: -linear.X, Omega: angular.Z}
}

// Vectors is the inverse of FromVectors.
func (c VelocityCommand) Vectors() (linear, angular r3.Vector) {
	return r3.Vector{X: -c.Y, Y: c.X}, r3.Vector{Z: c.Omega}
}

// WheelPowers holds one power command per wheel, ordered FL, FR, RL, RR.
type WheelPowers [NumWheels]float64

// MaxAbs returns the largest wheel power magnitude.
func (p WheelPowers) MaxAbs() float64 {
	m := 0.0
	for _, v := range p {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// Scale returns the powers multiplied by k.
func (p WheelPowers) Scale(k float64) WheelPowers {
	for i := range p {
		p[i] *= k
	}
	return p
}

// Mean is the average wheel power, which is the forward component of the mix.
func (p WheelPowers) Mean() float64 {
	return (p[FrontLeft] + p[FrontRight] + p[RearLeft] + p[RearRight]) / NumWheels
}

// IsZero reports whether every wheel is commanded to zero.
func (p WheelPowers) IsZero() bool {
	return p == WheelPowers{}
}

// Mix applies the mecanum mixing matrix without normalization.
func Mix(c VelocityCommand) WheelPowers {
	return WheelPowers{
		FrontLeft:  c.X - c.Y - c.Omega,
		FrontRight: c.X + c.Y + c.Omega,
		RearLeft:   c.X + c.Y - c.Omega,
		RearRight:  c.X - c.Y + c.Omega,
	}
}

// Forward mixes c into wheel powers and, when any wheel exceeds ceiling, scales all four
// down by the same factor so that their ratios and the direction of travel are kept.
// A non-positive ceiling is treated as DefaultCeiling.
func Forward(c VelocityCommand, ceiling float64) WheelPowers {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	p := Mix(c)
	if m := p.MaxAbs(); m > ceiling {
		p = p.Scale(ceiling / m)
	}
	return p
}

// Inverse recovers the body frame command that produced p. It is exact when Forward did
// not normalize.
func Inverse(p WheelPowers) VelocityCommand {
	return VelocityCommand{
		X:     p.Mean(),
		Y:     0.25 * (-p[FrontLeft] + p[FrontRight] + p[RearLeft] - p[RearRight]),
		Omega: 0.25 * (-p[FrontLeft] + p[FrontRight] - p[RearLeft] + p[RearRight]),
	}
}
