package safety

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/reading"
)

// CollisionConfig holds the braking zones in centimeters and the approach velocity filter
// parameters.
type CollisionConfig struct {
	StopDistanceCm    float64 `json:"stop_distance_cm"`
	SlowDistanceCm    float64 `json:"slow_distance_cm"`
	WarningDistanceCm float64 `json:"warning_distance_cm"`

	StopScale    float64 `json:"stop_scale"`
	SlowScale    float64 `json:"slow_scale"`
	WarningScale float64 `json:"warning_scale"`

	// approach velocity at which the stop and slow zones are widened by StopWidenCm and
	// SlowWidenCm
	VelocityNormCmPerSec float64 `json:"velocity_norm_cm_per_sec"`
	StopWidenCm          float64 `json:"stop_widen_cm"`
	SlowWidenCm          float64 `json:"slow_widen_cm"`
	FastApproachCmPerSec float64 `json:"fast_approach_cm_per_sec"`

	FilterAlpha        float64       `json:"filter_alpha"`
	MinSampleInterval  time.Duration `json:"min_sample_interval"`
	MaxSampleInterval  time.Duration `json:"max_sample_interval"`
	FullScaleThreshold float64       `json:"full_scale_threshold"`
}

// DefaultCollisionConfig stops at 20 cm, slows below 50 cm and warns below 1 m.
func DefaultCollisionConfig() CollisionConfig {
	return CollisionConfig{
		StopDistanceCm:       20,
		SlowDistanceCm:       50,
		WarningDistanceCm:    100,
		StopScale:            0.0,
		SlowScale:            0.3,
		WarningScale:         0.6,
		VelocityNormCmPerSec: 50,
		StopWidenCm:          20,
		SlowWidenCm:          30,
		FastApproachCmPerSec: 20,
		FilterAlpha:          0.7,
		MinSampleInterval:    10 * time.Millisecond,
		MaxSampleInterval:    time.Second,
		FullScaleThreshold:   0.99,
	}
}

// WithDefaults fills zero distances, velocities, intervals and the filter constant from
// DefaultCollisionConfig. StopScale is legitimately zero and is left alone.
func (c CollisionConfig) WithDefaults() CollisionConfig {
	d := DefaultCollisionConfig()
	fill := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	fill(&c.StopDistanceCm, d.StopDistanceCm)
	fill(&c.SlowDistanceCm, d.SlowDistanceCm)
	fill(&c.WarningDistanceCm, d.WarningDistanceCm)
	fill(&c.SlowScale, d.SlowScale)
	fill(&c.WarningScale, d.WarningScale)
	fill(&c.VelocityNormCmPerSec, d.VelocityNormCmPerSec)
	fill(&c.StopWidenCm, d.StopWidenCm)
	fill(&c.SlowWidenCm, d.SlowWidenCm)
	fill(&c.FastApproachCmPerSec, d.FastApproachCmPerSec)
	fill(&c.FilterAlpha, d.FilterAlpha)
	fill(&c.FullScaleThreshold, d.FullScaleThreshold)
	if c.MinSampleInterval == 0 {
		c.MinSampleInterval = d.MinSampleInterval
	}
	if c.MaxSampleInterval == 0 {
		c.MaxSampleInterval = d.MaxSampleInterval
	}
	return c
}

// Validate checks zone ordering and that every scale is in [0, 1].
func (c CollisionConfig) Validate() error {
	if c.StopDistanceCm < 0 || c.SlowDistanceCm <= c.StopDistanceCm || c.WarningDistanceCm <= c.SlowDistanceCm {
		return errors.Errorf("collision zones must satisfy 0 <= stop < slow < warning, got %v/%v/%v",
			c.StopDistanceCm, c.SlowDistanceCm, c.WarningDistanceCm)
	}
	for _, s := range []float64{c.StopScale, c.SlowScale, c.WarningScale, c.FilterAlpha, c.FullScaleThreshold} {
		if s < 0 || s > 1 {
			return errors.Errorf("collision scale %v outside [0, 1]", s)
		}
	}
	if c.VelocityNormCmPerSec <= 0 {
		return errors.New("collision velocity normalization must be positive")
	}
	if c.MinSampleInterval <= 0 || c.MaxSampleInterval < c.MinSampleInterval {
		return errors.New("collision sample interval bounds are invalid")
	}
	return nil
}

// Zones returns the stop and slow boundaries for a given approach velocity. Closing faster
// widens both.
func (c CollisionConfig) Zones(approachCmPerSec float64) (stopCm, slowCm float64) {
	f := math.Max(0, approachCmPerSec/c.VelocityNormCmPerSec)
	return c.StopDistanceCm + f*c.StopWidenCm, c.SlowDistanceCm + f*c.SlowWidenCm
}

// ZoneScale is the power scale for an obstacle at distanceCm approached at approachCmPerSec.
// The second result reports whether the robot is inside a braking zone.
func ZoneScale(distanceCm, approachCmPerSec float64, obstacle bool, cfg CollisionConfig) (float64, bool) {
	stop, slow := cfg.Zones(approachCmPerSec)
	switch {
	case distanceCm <= stop:
		return cfg.StopScale, true
	case distanceCm <= slow:
		t := (distanceCm - stop) / (slow - stop)
		return cfg.StopScale + t*(cfg.SlowScale-cfg.StopScale), true
	case distanceCm <= cfg.WarningDistanceCm && (obstacle || approachCmPerSec > cfg.FastApproachCmPerSec):
		t := (distanceCm - slow) / (cfg.WarningDistanceCm - slow)
		return cfg.SlowScale + t*(cfg.WarningScale-cfg.SlowScale), true
	default:
		return 1, false
	}
}

// CollisionState is a snapshot of the collision scaler for telemetry.
type CollisionState struct {
	DistanceCm               reading.Reading[float64]
	ApproachVelocityCmPerSec float64
	WarningActive            bool
	OverrideActive           bool
	LastSampleTime           time.Time
	// dynamic boundaries at the current approach velocity
	StopZoneCm float64
	SlowZoneCm float64
}

// CollisionScaler tracks the distance ahead across ticks and derives a filtered approach
// velocity from it. It is not safe for concurrent use.
type CollisionScaler struct {
	cfg   CollisionConfig
	clock clock.Clock

	distance reading.Reading[float64]
	velocity float64
	warning  bool
	override bool

	// previous valid sample
	lastCm   float64
	lastTime time.Time
	hasLast  bool
}

// NewCollisionScaler returns a scaler with no reading yet.
func NewCollisionScaler(cfg CollisionConfig, clk clock.Clock) *CollisionScaler {
	if clk == nil {
		clk = clock.New()
	}
	return &CollisionScaler{cfg: cfg, clock: clk}
}

// Update feeds one distance reading. NaN, infinite and negative values count as no reading.
func (s *CollisionScaler) Update(distanceCm reading.Reading[float64]) {
	d, ok := distanceCm.Get()
	if !ok || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		s.distance = reading.Missing[float64]()
		return
	}

	now := s.clock.Now()
	if s.hasLast {
		dt := now.Sub(s.lastTime)
		if dt >= s.cfg.MinSampleInterval && dt <= s.cfg.MaxSampleInterval {
			raw := -(d - s.lastCm) / dt.Seconds()
			s.velocity = s.cfg.FilterAlpha*s.velocity + (1-s.cfg.FilterAlpha)*raw
		}
	}
	s.distance = reading.Of(d)
	s.lastCm, s.lastTime, s.hasLast = d, now, true
}

// ComputeScale returns the collision power scale for the current state and updates the
// warning flag. obstacle is an external detection that enables braking in the warning zone.
func (s *CollisionScaler) ComputeScale(obstacle bool) float64 {
	d, ok := s.distance.Get()
	if s.override || !ok {
		s.warning = false
		return 1
	}
	scale, warning := ZoneScale(d, s.velocity, obstacle, s.cfg)
	s.warning = warning
	return scale
}

// ApplyToWheelPowers throttles only the wheels driving forward, so the robot can still back
// away or spin when an obstacle is close.
func (s *CollisionScaler) ApplyToWheelPowers(p kinematics.WheelPowers, scale, forward float64) kinematics.WheelPowers {
	if forward <= 0 || scale >= s.cfg.FullScaleThreshold || p.Mean() <= 0 {
		return p
	}
	for i, v := range p {
		if v > 0 {
			p[i] = v * scale
		}
	}
	return p
}

// ToggleOverride flips the manual override and returns the new value.
func (s *CollisionScaler) ToggleOverride() bool {
	s.override = !s.override
	return s.override
}

// SetOverride sets the manual override.
func (s *CollisionScaler) SetOverride(on bool) {
	s.override = on
}

// State returns a snapshot for telemetry.
func (s *CollisionScaler) State() CollisionState {
	stop, slow := s.Zones()
	return CollisionState{
		StopZoneCm:               stop,
		SlowZoneCm:               slow,
		DistanceCm:               s.distance,
		ApproachVelocityCmPerSec: s.velocity,
		WarningActive:            s.warning,
		OverrideActive:           s.override,
		LastSampleTime:           s.lastTime,
	}
}

// Zones returns the current stop and slow boundaries.
func (s *CollisionScaler) Zones() (stopCm, slowCm float64) {
	return s.cfg.Zones(s.velocity)
}
