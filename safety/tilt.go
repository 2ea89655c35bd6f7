// Package safety holds the power scalers that protect the robot: a tip-over guard driven by
// IMU pitch and a collision guard driven by a forward distance sensor.
package safety

import (
	"math"

	"github.com/pkg/errors"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/reading"
)

// TiltZone classifies the current pitch.
type TiltZone int

// Tilt zones, from level to steep. TiltUnavailable means no IMU reading this tick.
const (
	TiltSafe TiltZone = iota
	TiltCaution
	TiltWarning
	TiltDanger
	TiltUnavailable
)

func (z TiltZone) String() string {
	switch z {
	case TiltSafe:
		return "safe"
	case TiltCaution:
		return "caution"
	case TiltWarning:
		return "warning"
	case TiltDanger:
		return "danger"
	case TiltUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// TiltConfig holds the pitch thresholds in degrees and the scales applied past them.
type TiltConfig struct {
	SafeDeg      float64 `json:"safe_deg"`
	WarningDeg   float64 `json:"warning_deg"`
	DangerDeg    float64 `json:"danger_deg"`
	WarningScale float64 `json:"warning_scale"`
	MinScale     float64 `json:"min_scale"`
}

// DefaultTiltConfig ramps power down from 12 degrees, holds 40% from 25 and 10% from 35.
func DefaultTiltConfig() TiltConfig {
	return TiltConfig{
		SafeDeg:      12,
		WarningDeg:   25,
		DangerDeg:    35,
		WarningScale: 0.4,
		MinScale:     0.10,
	}
}

// WithDefaults fills zero fields from DefaultTiltConfig.
func (c TiltConfig) WithDefaults() TiltConfig {
	d := DefaultTiltConfig()
	if c.SafeDeg == 0 {
		c.SafeDeg = d.SafeDeg
	}
	if c.WarningDeg == 0 {
		c.WarningDeg = d.WarningDeg
	}
	if c.DangerDeg == 0 {
		c.DangerDeg = d.DangerDeg
	}
	if c.WarningScale == 0 {
		c.WarningScale = d.WarningScale
	}
	if c.MinScale == 0 {
		c.MinScale = d.MinScale
	}
	return c
}

// Validate checks the thresholds are increasing and the scales are in range.
func (c TiltConfig) Validate() error {
	if c.SafeDeg <= 0 || c.WarningDeg <= c.SafeDeg || c.DangerDeg < c.WarningDeg {
		return errors.Errorf("tilt thresholds must satisfy 0 < safe < warning <= danger, got %v/%v/%v",
			c.SafeDeg, c.WarningDeg, c.DangerDeg)
	}
	if c.WarningScale < 0 || c.WarningScale > 1 || c.MinScale < 0 || c.MinScale > 1 {
		return errors.New("tilt scales must be within [0, 1]")
	}
	return nil
}

// TiltScale maps an absolute pitch offset from level to a power scale.
func TiltScale(pitchDeltaDeg float64, cfg TiltConfig) (float64, TiltZone) {
	p := math.Abs(pitchDeltaDeg)
	switch {
	case math.IsNaN(p):
		return 1, TiltUnavailable
	case p < cfg.SafeDeg:
		return 1, TiltSafe
	case p < cfg.WarningDeg:
		return 1 - (1-cfg.WarningScale)*(p-cfg.SafeDeg)/(cfg.WarningDeg-cfg.SafeDeg), TiltCaution
	case p < cfg.DangerDeg:
		return cfg.WarningScale, TiltWarning
	default:
		return cfg.MinScale, TiltDanger
	}
}

// TiltScaler scales power by pitch relative to the attitude captured at startup.
type TiltScaler struct {
	cfg TiltConfig

	pitchZero float64
	rollZero  float64
	lastPitch float64
	lastRoll  float64
}

// NewTiltScaler returns a scaler with zero offsets.
func NewTiltScaler(cfg TiltConfig) *TiltScaler {
	return &TiltScaler{cfg: cfg}
}

// CaptureZero records o as level. A missing reading leaves the offsets at zero.
func (s *TiltScaler) CaptureZero(o reading.Reading[hardware.Orientation]) {
	v, ok := o.Get()
	if !ok {
		s.pitchZero, s.rollZero = 0, 0
		return
	}
	s.pitchZero, s.rollZero = v.PitchDeg, v.RollDeg
}

// Scale returns the power scale for the latest IMU reading. Without a reading the robot is
// assumed level.
func (s *TiltScaler) Scale(o reading.Reading[hardware.Orientation]) (float64, TiltZone) {
	v, ok := o.Get()
	if !ok {
		s.lastPitch, s.lastRoll = 0, 0
		return 1, TiltUnavailable
	}
	s.lastPitch = v.PitchDeg - s.pitchZero
	s.lastRoll = v.RollDeg - s.rollZero
	return TiltScale(s.lastPitch, s.cfg)
}

// RelativePitch returns the pitch and roll seen by the last Scale call, relative to the
// captured zero.
func (s *TiltScaler) RelativePitch() (pitchDeg, rollDeg float64) {
	return s.lastPitch, s.lastRoll
}
