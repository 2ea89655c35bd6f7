package pipeline

import (
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/safety"
)

// Status is what one tick produced, for actuation checks and telemetry.
type Status struct {
	Pose     odometry.Pose2D
	NavState navigation.State
	Goal     navigation.Goal
	HasGoal  bool

	// body command before the safety scales
	Command kinematics.VelocityCommand
	Powers  kinematics.WheelPowers

	TiltScale float64
	TiltZone  safety.TiltZone
	PitchDeg  float64
	RollDeg   float64

	CollisionScale float64
	Collision      safety.CollisionState
	SafetyScale    float64

	Indicator  hardware.Pattern
	ImuOK      bool
	EncodersOK bool
	Tick       uint64
}

// Map flattens the status into values a DoCommand response can carry.
func (s Status) Map() map[string]interface{} {
	powers := make([]interface{}, len(s.Powers))
	for i, p := range s.Powers {
		powers[i] = p
	}
	m := map[string]interface{}{
		"pose_x_m":               s.Pose.X,
		"pose_y_m":               s.Pose.Y,
		"pose_theta_deg":         rdkutils.RadToDeg(s.Pose.Theta),
		"nav_state":              s.NavState.String(),
		"command_x":              s.Command.X,
		"command_y":              s.Command.Y,
		"command_omega":          s.Command.Omega,
		"wheel_powers":           powers,
		"tilt_scale":             s.TiltScale,
		"tilt_zone":              s.TiltZone.String(),
		"pitch_deg":              s.PitchDeg,
		"roll_deg":               s.RollDeg,
		"collision_scale":        s.CollisionScale,
		"approach_velocity_cm_s": s.Collision.ApproachVelocityCmPerSec,
		"collision_warning":      s.Collision.WarningActive,
		"collision_override":     s.Collision.OverrideActive,
		"stop_zone_cm":           s.Collision.StopZoneCm,
		"slow_zone_cm":           s.Collision.SlowZoneCm,
		"safety_scale":           s.SafetyScale,
		"indicator":              s.Indicator.String(),
		"imu_ok":                 s.ImuOK,
		"encoders_ok":            s.EncodersOK,
		"tick":                   float64(s.Tick),
	}
	if d, ok := s.Collision.DistanceCm.Get(); ok {
		m["distance_cm"] = d
	}
	if s.HasGoal {
		m["goal_x_m"] = s.Goal.X
		m["goal_y_m"] = s.Goal.Y
		m["goal_theta_deg"] = rdkutils.RadToDeg(s.Goal.Theta)
	}
	return m
}
