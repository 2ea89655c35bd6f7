package pipeline

import (
	"github.com/pkg/errors"

	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/safety"
)

// Config collects the tuning of every stage of the pipeline.
type Config struct {
	Geometry   odometry.Geometry      `json:"geometry"`
	Navigation navigation.Config      `json:"navigation"`
	Tilt       safety.TiltConfig      `json:"tilt"`
	Collision  safety.CollisionConfig `json:"collision"`

	// ceiling for the largest wheel power after mixing
	MaxWheelPower float64 `json:"max_wheel_power"`

	// manual drive shaping
	SlowModeFactor     float64 `json:"slow_mode_factor"`
	StrafeCompensation float64 `json:"strafe_compensation"`

	// vision assisted turning, bearing in degrees to normalized turn
	VisionTurnKp         float64 `json:"vision_turn_kp"`
	VisionMinTurn        float64 `json:"vision_min_turn"`
	VisionAssistDeadband float64 `json:"vision_assist_deadband"`

	IndicatorRangeCm float64 `json:"indicator_range_cm"`
}

// DefaultConfig returns the tuning used on the competition robot.
func DefaultConfig() Config {
	return Config{
		Geometry:             odometry.DefaultGeometry(),
		Navigation:           navigation.DefaultConfig(),
		Tilt:                 safety.DefaultTiltConfig(),
		Collision:            safety.DefaultCollisionConfig(),
		MaxWheelPower:        0.5,
		SlowModeFactor:       0.6,
		StrafeCompensation:   1.10,
		VisionTurnKp:         0.02,
		VisionMinTurn:        0.05,
		VisionAssistDeadband: 0.1,
		IndicatorRangeCm:     152.4,
	}
}

// WithDefaults fills every zero field, including those of the nested configs.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Geometry == (odometry.Geometry{}) {
		c.Geometry = d.Geometry
	}
	c.Navigation = c.Navigation.WithDefaults()
	c.Tilt = c.Tilt.WithDefaults()
	c.Collision = c.Collision.WithDefaults()
	for _, f := range []struct{ v, def *float64 }{
		{&c.MaxWheelPower, &d.MaxWheelPower},
		{&c.SlowModeFactor, &d.SlowModeFactor},
		{&c.StrafeCompensation, &d.StrafeCompensation},
		{&c.VisionTurnKp, &d.VisionTurnKp},
		{&c.VisionMinTurn, &d.VisionMinTurn},
		{&c.VisionAssistDeadband, &d.VisionAssistDeadband},
		{&c.IndicatorRangeCm, &d.IndicatorRangeCm},
	} {
		if *f.v == 0 {
			*f.v = *f.def
		}
	}
	return c
}

// Validate checks every stage.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return errors.Wrap(err, "geometry")
	}
	if err := c.Navigation.Validate(); err != nil {
		return errors.Wrap(err, "navigation")
	}
	if err := c.Tilt.Validate(); err != nil {
		return errors.Wrap(err, "tilt")
	}
	if err := c.Collision.Validate(); err != nil {
		return errors.Wrap(err, "collision")
	}
	if c.MaxWheelPower <= 0 || c.MaxWheelPower > 1 {
		return errors.Errorf("max wheel power %v must be within (0, 1]", c.MaxWheelPower)
	}
	if c.SlowModeFactor <= 0 || c.SlowModeFactor > 1 {
		return errors.Errorf("slow mode factor %v must be within (0, 1]", c.SlowModeFactor)
	}
	if c.StrafeCompensation <= 0 {
		return errors.New("strafe compensation must be positive")
	}
	if c.VisionTurnKp < 0 || c.VisionMinTurn < 0 || c.VisionAssistDeadband < 0 {
		return errors.New("vision assist parameters must not be negative")
	}
	return nil
}
