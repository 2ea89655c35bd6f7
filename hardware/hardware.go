// Package hardware defines the capabilities the motion core needs from the robot: wheel
// actuation and encoders, an orientation sensor, a forward distance sensor and a status
// indicator. Any of them may be absent.
package hardware

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/reading"
)

// ErrUnavailable is returned by adapters whose device has not produced data yet.
var ErrUnavailable = errors.New("hardware unavailable")

// Orientation is an IMU attitude in degrees.
type Orientation struct {
	PitchDeg float64
	RollDeg  float64
	YawDeg   float64
}

// Drivetrain reads wheel encoders and commands wheel power.
type Drivetrain interface {
	ReadEncoders(ctx context.Context) (odometry.EncoderSnapshot, error)
	SetWheelPowers(ctx context.Context, p kinematics.WheelPowers) error
}

// OrientationSensor reports the robot attitude.
type OrientationSensor interface {
	ReadOrientation(ctx context.Context) (Orientation, error)
}

// DistanceSensor reports the distance to the nearest object ahead, in centimeters.
type DistanceSensor interface {
	ReadDistanceCm(ctx context.Context) (float64, error)
}

// Pattern is a status indicator pattern.
type Pattern int

// Indicator patterns in increasing order of urgency.
const (
	PatternIdle Pattern = iota
	PatternInRange
	PatternTargetLocked
	PatternWarning
	PatternEmergency
)

func (p Pattern) String() string {
	switch p {
	case PatternIdle:
		return "idle"
	case PatternInRange:
		return "in_range"
	case PatternTargetLocked:
		return "target_locked"
	case PatternWarning:
		return "warning"
	case PatternEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Indicator displays a status pattern, for example on an LED strip or the vehicle lights.
type Indicator interface {
	SetIndicator(ctx context.Context, p Pattern) error
}

// Suite is the set of devices available to the motion core. Nil members are treated as
// unavailable.
type Suite struct {
	Drivetrain Drivetrain
	IMU        OrientationSensor
	Distance   DistanceSensor
	Indicator  Indicator
}

// Encoders reads the drivetrain encoders. Errors and a missing drivetrain yield a missing
// reading.
func (s Suite) Encoders(ctx context.Context) reading.Reading[odometry.EncoderSnapshot] {
	if s.Drivetrain == nil {
		return reading.Missing[odometry.EncoderSnapshot]()
	}
	ticks, err := s.Drivetrain.ReadEncoders(ctx)
	return reading.FromResult(ticks, err)
}

// Orientation reads the IMU. Non-finite angles count as a failed read.
func (s Suite) Orientation(ctx context.Context) reading.Reading[Orientation] {
	if s.IMU == nil {
		return reading.Missing[Orientation]()
	}
	o, err := s.IMU.ReadOrientation(ctx)
	if err != nil || !finite(o.PitchDeg) || !finite(o.RollDeg) || !finite(o.YawDeg) {
		return reading.Missing[Orientation]()
	}
	return reading.Of(o)
}

// DistanceCm reads the distance sensor. NaN, infinite and negative distances are treated as
// no reading.
func (s Suite) DistanceCm(ctx context.Context) reading.Reading[float64] {
	if s.Distance == nil {
		return reading.Missing[float64]()
	}
	d, err := s.Distance.ReadDistanceCm(ctx)
	if err != nil || !finite(d) || d < 0 {
		return reading.Missing[float64]()
	}
	return reading.Of(d)
}

// SetWheelPowers forwards p to the drivetrain if there is one.
func (s Suite) SetWheelPowers(ctx context.Context, p kinematics.WheelPowers) error {
	if s.Drivetrain == nil {
		return ErrUnavailable
	}
	return s.Drivetrain.SetWheelPowers(ctx, p)
}

// SetIndicator forwards p to the indicator. A missing indicator is not an error.
func (s Suite) SetIndicator(ctx context.Context, p Pattern) error {
	if s.Indicator == nil {
		return nil
	}
	return s.Indicator.SetIndicator(ctx, p)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
