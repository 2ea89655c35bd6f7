package mecanumbase

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"

	"github.com/intermode/modal-mecanum/hardware/modalcan"
	"github.com/intermode/modal-mecanum/pipeline"
)

const defaultControlPeriod = 20 * time.Millisecond

// Config is the attribute block of the mecanum base. Zero values fall back to the
// pipeline and drivetrain defaults.
type Config struct {
	CANChannel     string `json:"can_channel"`
	MovementSensor string `json:"movement_sensor,omitempty"`
	DistanceSensor string `json:"distance_sensor,omitempty"`

	ControlPeriodMs int `json:"control_period_ms,omitempty"`

	WheelDiameterMm float64 `json:"wheel_diameter_mm,omitempty"`
	GearRatio       float64 `json:"gear_ratio,omitempty"`
	EncoderCPR      float64 `json:"encoder_cpr,omitempty"`
	TrackWidthMm    float64 `json:"track_width_mm,omitempty"`
	WheelBaseMm     float64 `json:"wheel_base_mm,omitempty"`

	MaxWheelPower float64 `json:"max_wheel_power,omitempty"`
	MaxWheelRPM   float64 `json:"max_wheel_rpm,omitempty"`

	PositionToleranceM  float64 `json:"position_tolerance_m,omitempty"`
	HeadingToleranceRad float64 `json:"heading_tolerance_rad,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the sensors the base
// depends on.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.CANChannel == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "can_channel")
	}
	if cfg.ControlPeriodMs < 0 {
		return nil, resource.NewConfigValidationError(path, errors.New("control_period_ms must not be negative"))
	}
	if cfg.MaxWheelRPM < 0 {
		return nil, resource.NewConfigValidationError(path, errors.New("max_wheel_rpm must not be negative"))
	}
	if cfg.MaxWheelRPM > modalcan.MaxWireRPM {
		return nil, resource.NewConfigValidationError(path,
			errors.Errorf("max_wheel_rpm must be at most %d", modalcan.MaxWireRPM))
	}
	if err := cfg.pipelineConfig().Validate(); err != nil {
		return nil, resource.NewConfigValidationError(path, err)
	}

	var deps []string
	if cfg.MovementSensor != "" {
		deps = append(deps, cfg.MovementSensor)
	}
	if cfg.DistanceSensor != "" {
		deps = append(deps, cfg.DistanceSensor)
	}
	return deps, nil
}

func (cfg *Config) controlPeriod() time.Duration {
	if cfg.ControlPeriodMs <= 0 {
		return defaultControlPeriod
	}
	return time.Duration(cfg.ControlPeriodMs) * time.Millisecond
}

func (cfg *Config) maxWheelRPM() float64 {
	if cfg.MaxWheelRPM <= 0 {
		return modalcan.DefaultMaxRPM
	}
	return cfg.MaxWheelRPM
}

func (cfg *Config) pipelineConfig() pipeline.Config {
	pc := pipeline.Config{MaxWheelPower: cfg.MaxWheelPower}
	pc.Geometry.WheelDiameterM = cfg.WheelDiameterMm / 1000
	pc.Geometry.GearRatio = cfg.GearRatio
	pc.Geometry.EncoderCPR = cfg.EncoderCPR
	pc.Geometry.TrackWidthM = cfg.TrackWidthMm / 1000
	pc.Geometry.WheelBaseM = cfg.WheelBaseMm / 1000
	pc.Navigation.PositionTolerance = cfg.PositionToleranceM
	pc.Navigation.HeadingTolerance = cfg.HeadingToleranceRad

	// geometry is filled per field, WithDefaults only replaces an all-zero geometry
	def := pipeline.DefaultConfig().Geometry
	fill := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	fill(&pc.Geometry.WheelDiameterM, def.WheelDiameterM)
	fill(&pc.Geometry.GearRatio, def.GearRatio)
	fill(&pc.Geometry.EncoderCPR, def.EncoderCPR)
	fill(&pc.Geometry.TrackWidthM, def.TrackWidthM)
	fill(&pc.Geometry.WheelBaseM, def.WheelBaseM)
	return pc.WithDefaults()
}

func (cfg *Config) drivetrainConfig() modalcan.Config {
	return modalcan.Config{
		Channel: cfg.CANChannel,
		MaxRPM:  cfg.maxWheelRPM(),
	}
}
