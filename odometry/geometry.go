package odometry

import (
	"math"

	"github.com/pkg/errors"
)

// Geometry describes the drivetrain dimensions used to turn encoder ticks into motion.
type Geometry struct {
	WheelDiameterM float64
	GearRatio      float64
	EncoderCPR     float64
	TrackWidthM    float64
	WheelBaseM     float64
}

// DefaultGeometry is a 93 mm mecanum wheel on a 16:1 gearbox with a 112 CPR encoder, on a
// square 305 mm chassis.
func DefaultGeometry() Geometry {
	return Geometry{
		WheelDiameterM: 0.093,
		GearRatio:      16,
		EncoderCPR:     112,
		TrackWidthM:    0.305,
		WheelBaseM:     0.305,
	}
}

// Validate rejects geometries that would divide by zero.
func (g Geometry) Validate() error {
	switch {
	case g.WheelDiameterM <= 0:
		return errors.New("wheel diameter must be positive")
	case g.GearRatio <= 0:
		return errors.New("gear ratio must be positive")
	case g.EncoderCPR <= 0:
		return errors.New("encoder counts per revolution must be positive")
	case g.TrackWidthM <= 0:
		return errors.New("track width must be positive")
	case g.WheelBaseM <= 0:
		return errors.New("wheel base must be positive")
	}
	return nil
}

// WheelCircumferenceM is the distance covered by one wheel revolution.
func (g Geometry) WheelCircumferenceM() float64 {
	return math.Pi * g.WheelDiameterM
}

// CountsPerWheelRev is the number of encoder ticks per output shaft revolution.
func (g Geometry) CountsPerWheelRev() float64 {
	return g.EncoderCPR * g.GearRatio
}

// HalfWheelBase is L, half the front-to-rear axle distance.
func (g Geometry) HalfWheelBase() float64 {
	return g.WheelBaseM / 2
}

// HalfTrackWidth is W, half the left-to-right wheel distance.
func (g Geometry) HalfTrackWidth() float64 {
	return g.TrackWidthM / 2
}

// TicksToMeters converts a tick delta to linear wheel travel.
func (g Geometry) TicksToMeters(ticks int64) float64 {
	return float64(ticks) / g.CountsPerWheelRev() * g.WheelCircumferenceM()
}

// MetersToTicks is the inverse of TicksToMeters, before rounding.
func (g Geometry) MetersToTicks(m float64) float64 {
	return m / g.WheelCircumferenceM() * g.CountsPerWheelRev()
}
