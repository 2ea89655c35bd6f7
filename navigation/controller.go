// Package navigation drives the robot toward a commanded field pose with a proportional
// controller.
package navigation

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/odometry"
)

// State of the controller.
type State int

// IDLE has no goal, DRIVING is correcting toward the goal, DONE has arrived and stays there
// until the next NavigateTo.
const (
	StateIdle State = iota
	StateDriving
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDriving:
		return "driving"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Goal is a target field pose.
type Goal struct {
	X     float64
	Y     float64
	Theta float64
}

// Config holds tolerances, gains and speed limits. Speeds are normalized body frame units.
type Config struct {
	PositionTolerance float64 `json:"position_tolerance_m"`
	HeadingTolerance  float64 `json:"heading_tolerance_rad"`
	KpForward         float64 `json:"kp_forward"`
	KpStrafe          float64 `json:"kp_strafe"`
	KpRotation        float64 `json:"kp_rotation"`
	MaxSpeed          float64 `json:"max_speed"`
	MinSpeed          float64 `json:"min_speed"`
	CreepDistance     float64 `json:"creep_distance_m"`
	CreepDeadband     float64 `json:"creep_deadband"`
}

// DefaultConfig arrives within 20 cm and 0.1 rad.
func DefaultConfig() Config {
	return Config{
		PositionTolerance: 0.20,
		HeadingTolerance:  0.1,
		KpForward:         1.0,
		KpStrafe:          1.0,
		KpRotation:        2.0,
		MaxSpeed:          0.5,
		MinSpeed:          0.1,
		CreepDistance:     0.3,
		CreepDeadband:     0.01,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	for _, f := range []struct{ v, def *float64 }{
		{&c.PositionTolerance, &d.PositionTolerance},
		{&c.HeadingTolerance, &d.HeadingTolerance},
		{&c.KpForward, &d.KpForward},
		{&c.KpStrafe, &d.KpStrafe},
		{&c.KpRotation, &d.KpRotation},
		{&c.MaxSpeed, &d.MaxSpeed},
		{&c.MinSpeed, &d.MinSpeed},
		{&c.CreepDistance, &d.CreepDistance},
		{&c.CreepDeadband, &d.CreepDeadband},
	} {
		if *f.v == 0 {
			*f.v = *f.def
		}
	}
	return c
}

// Validate rejects non-positive tolerances and gains, and a creep floor above the speed limit.
func (c Config) Validate() error {
	if c.PositionTolerance <= 0 || c.HeadingTolerance <= 0 {
		return errors.New("navigation tolerances must be positive")
	}
	if c.KpForward <= 0 || c.KpStrafe <= 0 || c.KpRotation <= 0 {
		return errors.New("navigation gains must be positive")
	}
	if c.MaxSpeed <= 0 {
		return errors.New("navigation max speed must be positive")
	}
	if c.MinSpeed < 0 || c.MinSpeed > c.MaxSpeed {
		return errors.Errorf("navigation min speed %v must be within [0, %v]", c.MinSpeed, c.MaxSpeed)
	}
	if c.CreepDeadband < 0 || (c.MinSpeed > 0 && c.CreepDeadband >= c.MinSpeed) {
		return errors.Errorf("navigation creep deadband %v must be below min speed %v", c.CreepDeadband, c.MinSpeed)
	}
	return nil
}

// Controller is the navigation state machine. It is not safe for concurrent use.
type Controller struct {
	cfg    Config
	logger logging.Logger

	state   State
	goal    Goal
	hasGoal bool
}

// NewController returns an idle controller.
func NewController(cfg Config, logger logging.Logger) *Controller {
	return &Controller{cfg: cfg, logger: logger}
}

// NavigateTo sets a new goal and starts driving toward it from any state.
func (c *Controller) NavigateTo(g Goal) {
	g.Theta = odometry.NormalizeAngle(g.Theta)
	c.goal, c.hasGoal = g, true
	c.state = StateDriving
	c.logger.Infow("navigating", "x", g.X, "y", g.Y, "theta", g.Theta)
}

// Stop drops the goal and returns to IDLE.
func (c *Controller) Stop() {
	if c.state != StateIdle {
		c.logger.Infow("navigation stopped", "from", c.state.String())
	}
	c.state = StateIdle
	c.goal, c.hasGoal = Goal{}, false
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Goal returns the active or last reached goal.
func (c *Controller) Goal() (Goal, bool) {
	return c.goal, c.hasGoal
}

// Step computes the body frame command for pose. Outside DRIVING it always returns a zero
// command.
func (c *Controller) Step(pose odometry.Pose2D) (kinematics.VelocityCommand, State) {
	if c.state != StateDriving {
		return kinematics.VelocityCommand{}, c.state
	}

	ex := c.goal.X - pose.X
	ey := c.goal.Y - pose.Y
	eTheta := odometry.AngleDiff(c.goal.Theta, pose.Theta)
	dist := math.Hypot(ex, ey)

	if dist < c.cfg.PositionTolerance && math.Abs(eTheta) < c.cfg.HeadingTolerance {
		c.state = StateDone
		c.logger.Infow("navigation done", "x", pose.X, "y", pose.Y, "theta", pose.Theta, "error_m", dist)
		return kinematics.VelocityCommand{}, c.state
	}

	vxField := c.cfg.KpForward * ex
	vyField := c.cfg.KpStrafe * ey
	omega := c.cfg.KpRotation * eTheta

	cos, sin := math.Cos(pose.Theta), math.Sin(pose.Theta)
	cmd := kinematics.VelocityCommand{
		X:     clamp(vxField*cos+vyField*sin, c.cfg.MaxSpeed),
		Y:     clamp(-vxField*sin+vyField*cos, c.cfg.MaxSpeed),
		Omega: clamp(omega, c.cfg.MaxSpeed),
	}

	if dist < c.cfg.CreepDistance {
		cmd.X = c.creep(cmd.X)
		cmd.Y = c.creep(cmd.Y)
		cmd.Omega = c.creep(cmd.Omega)
	}
	return cmd, c.state
}

// creep raises small non-zero commands to MinSpeed so the wheels overcome static friction.
func (c *Controller) creep(v float64) float64 {
	a := math.Abs(v)
	if a > c.cfg.CreepDeadband && a < c.cfg.MinSpeed {
		return math.Copysign(c.cfg.MinSpeed, v)
	}
	return v
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
