// Package pipeline runs one control tick of the mecanum base: odometry, the two safety
// scalers, navigation or manual drive, mixing and actuation.
//
// Data flows one way per tick:
//
//	sensors -> odometry -> pose -> navigation (or manual intent) -> body velocity
//	body velocity -> kinematics -> wheel powers x tilt scale -> collision attenuation -> drivetrain
package pipeline

import (
	"context"
	"math"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/reading"
	"github.com/intermode/modal-mecanum/safety"
)

// below this magnitude a vision turn correction is not raised to VisionMinTurn
const visionTurnFloorThreshold = 0.01

// Input is the operator and perception intent for one tick.
type Input struct {
	// body frame manual command, used whenever navigation is not driving
	Manual   kinematics.VelocityCommand
	SlowMode bool

	VisionAssist bool
	// bearing to the vision target in degrees, counter-clockwise positive
	TargetBearingDeg reading.Reading[float64]

	ObstacleDetected bool
}

// Pipeline owns the estimator, the scalers and the navigation controller. It is not safe
// for concurrent use; callers serialize Tick and the operator commands.
type Pipeline struct {
	cfg    Config
	hw     hardware.Suite
	logger logging.Logger

	odom      *odometry.Estimator
	tilt      *safety.TiltScaler
	collision *safety.CollisionScaler
	nav       *navigation.Controller

	started        bool
	tick           uint64
	last           Status
	pattern        hardware.Pattern
	patternSent    bool
	actuationFault bool
}

// New validates cfg and wires the stages together. clk times the distance samples.
func New(cfg Config, hw hardware.Suite, clk clock.Clock, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	return &Pipeline{
		cfg:       cfg,
		hw:        hw,
		logger:    logger,
		odom:      odometry.NewEstimator(cfg.Geometry, logger),
		tilt:      safety.NewTiltScaler(cfg.Tilt),
		collision: safety.NewCollisionScaler(cfg.Collision, clk),
		nav:       navigation.NewController(cfg.Navigation, logger),
	}, nil
}

// Start captures the level attitude and puts the pose at the origin.
func (p *Pipeline) Start(ctx context.Context) {
	o := p.hw.Orientation(ctx)
	p.tilt.CaptureZero(o)
	p.odom.Reset(odometry.Pose2D{}, p.hw.Encoders(ctx))
	p.started = true
	if !o.Valid() {
		p.logger.Warnw("no IMU reading at start, tilt protection uses a zero offset")
	}
}

// Tick runs one control cycle and returns what it did. It never fails; sensor faults
// degrade to the safe defaults of each stage.
func (p *Pipeline) Tick(ctx context.Context, in Input) Status {
	if !p.started {
		p.Start(ctx)
	}
	p.tick++

	ticks := p.hw.Encoders(ctx)
	orient := p.hw.Orientation(ctx)
	heading := reading.Missing[float64]()
	if o, ok := orient.Get(); ok {
		heading = reading.Of(rdkutils.DegToRad(o.YawDeg))
	}
	pose := p.odom.Update(ticks, heading)

	tiltScale, zone := p.tilt.Scale(orient)
	p.collision.Update(p.hw.DistanceCm(ctx))
	collisionScale := p.collision.ComputeScale(in.ObstacleDetected)

	var cmd kinematics.VelocityCommand
	state := p.nav.State()
	if state == navigation.StateDriving {
		cmd, state = p.nav.Step(pose)
	} else {
		cmd = p.manualCommand(in)
	}

	// normalize first so the tilt scale survives the power ceiling
	powers := kinematics.Forward(cmd, p.cfg.MaxWheelPower).Scale(tiltScale)
	powers = p.collision.ApplyToWheelPowers(powers, collisionScale, cmd.X)
	p.actuate(ctx, powers)

	cs := p.collision.State()
	_, targetSeen := in.TargetBearingDeg.Get()
	pattern := SelectPattern(collisionScale, cs, targetSeen && in.VisionAssist, p.cfg)
	p.indicate(ctx, pattern)

	pitch, roll := p.tilt.RelativePitch()
	goal, hasGoal := p.nav.Goal()
	p.last = Status{
		Pose:           pose,
		NavState:       state,
		Goal:           goal,
		HasGoal:        hasGoal,
		Command:        cmd,
		Powers:         powers,
		TiltScale:      tiltScale,
		TiltZone:       zone,
		PitchDeg:       pitch,
		RollDeg:        roll,
		CollisionScale: collisionScale,
		Collision:      cs,
		SafetyScale:    math.Min(tiltScale, collisionScale),
		Indicator:      pattern,
		ImuOK:          orient.Valid(),
		EncodersOK:     ticks.Valid(),
		Tick:           p.tick,
	}
	return p.last
}

// manualCommand shapes the operator command: strafe compensation, vision assisted turning
// and slow mode.
func (p *Pipeline) manualCommand(in Input) kinematics.VelocityCommand {
	cmd := in.Manual
	cmd.Y *= p.cfg.StrafeCompensation

	if bearing, ok := in.TargetBearingDeg.Get(); ok && in.VisionAssist && math.Abs(cmd.Omega) < p.cfg.VisionAssistDeadband {
		turn := bearing * p.cfg.VisionTurnKp
		if math.Abs(turn) > visionTurnFloorThreshold {
			turn = math.Copysign(math.Max(math.Abs(turn), p.cfg.VisionMinTurn), turn)
		}
		cmd.Omega = turn
	}

	if in.SlowMode {
		cmd = cmd.Scale(p.cfg.SlowModeFactor)
	}
	return cmd
}

func (p *Pipeline) actuate(ctx context.Context, powers kinematics.WheelPowers) {
	err := p.hw.SetWheelPowers(ctx, powers)
	switch {
	case err != nil && !p.actuationFault:
		p.logger.Errorw("failed to set wheel powers", "error", err)
	case err == nil && p.actuationFault:
		p.logger.Infow("wheel actuation recovered")
	}
	p.actuationFault = err != nil
}

func (p *Pipeline) indicate(ctx context.Context, pattern hardware.Pattern) {
	if p.patternSent && pattern == p.pattern {
		return
	}
	if err := p.hw.SetIndicator(ctx, pattern); err != nil {
		p.logger.Debugw("failed to set indicator", "pattern", pattern.String(), "error", err)
		p.patternSent = false
		return
	}
	p.pattern, p.patternSent = pattern, true
}

// NavigateTo starts driving toward goal on the next tick.
func (p *Pipeline) NavigateTo(goal navigation.Goal) {
	p.nav.NavigateTo(goal)
}

// StopNavigation drops the goal and stops the wheels now.
func (p *Pipeline) StopNavigation(ctx context.Context) error {
	p.nav.Stop()
	p.actuationFault = false
	return p.hw.SetWheelPowers(ctx, kinematics.WheelPowers{})
}

// ToggleCollisionOverride flips the collision override and returns the new value.
func (p *Pipeline) ToggleCollisionOverride() bool {
	on := p.collision.ToggleOverride()
	p.logger.Infow("collision override", "active", on)
	return on
}

// ResetPose moves the pose estimate to pose and re-baselines the encoders.
func (p *Pipeline) ResetPose(ctx context.Context, pose odometry.Pose2D) {
	p.odom.Reset(pose, p.hw.Encoders(ctx))
}

// Pose returns the current pose estimate.
func (p *Pipeline) Pose() odometry.Pose2D {
	return p.odom.Pose()
}

// NavState returns the navigation state.
func (p *Pipeline) NavState() navigation.State {
	return p.nav.State()
}

// LastStatus returns the status of the most recent tick.
func (p *Pipeline) LastStatus() Status {
	return p.last
}

