// Package mecanumbase is a viam base for the Modal mecanum platform. A background loop runs
// the motion pipeline once per control period; the base API and DoCommand only change the
// pipeline's input and goals between ticks.
package mecanumbase

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/hardware/modalcan"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/pipeline"
	"github.com/intermode/modal-mecanum/reading"
)

// Model is the mecanum base model.
var Model = resource.NewModel("intermode", "modal", "mecanum")

func init() {
	resource.RegisterComponent(
		base.API,
		Model,
		resource.Registration[base.Base, *Config]{Constructor: createBase})
}

type closer interface {
	Close(ctx context.Context) error
}

type batteryReporter interface {
	StateOfCharge() reading.Reading[float64]
}

type wheelSpeedReporter interface {
	WheelRPM() [kinematics.NumWheels]float64
}

type mecanumBase struct {
	resource.Named
	resource.AlwaysRebuild

	geometries []spatialmath.Geometry
	props      base.Properties
	logger     logging.Logger
	clock      clock.Clock
	period     time.Duration
	opMgr      *operation.SingleOperationManager

	mu      sync.Mutex
	hw      hardware.Suite
	pipe    *pipeline.Pipeline
	input   pipeline.Input
	status  pipeline.Status
	goalSeq uint64
	// wheel surface speed at full power, for SetVelocity
	topSpeedMps float64
	// half wheel base plus half track width
	spinRadiusM float64

	closeOnce               sync.Once
	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
}

// createBase opens the CAN drivetrain and looks up the configured sensors.
func createBase(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	var geometries []spatialmath.Geometry
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	var hw hardware.Suite
	if cfg.MovementSensor != "" {
		ms, err := movementsensor.FromDependencies(deps, cfg.MovementSensor)
		if err != nil {
			return nil, errors.Wrapf(err, "no movement sensor named (%s)", cfg.MovementSensor)
		}
		hw.IMU = movementSensorIMU{ms: ms}
	}
	if cfg.DistanceSensor != "" {
		s, err := sensor.FromDependencies(deps, cfg.DistanceSensor)
		if err != nil {
			return nil, errors.Wrapf(err, "no sensor named (%s)", cfg.DistanceSensor)
		}
		hw.Distance = rangeSensor{s: s}
	}

	clk := clock.New()
	drive, err := modalcan.Open(cfg.drivetrainConfig(), clk, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "opening CAN channel %s", cfg.CANChannel)
	}
	hw.Drivetrain = drive
	hw.Indicator = drive

	b, err := newMecanumBase(ctx, conf.ResourceName(), cfg, hw, geometries, clk, logger)
	if err != nil {
		return nil, multierr.Combine(err, drive.Close(ctx))
	}
	return b, nil
}

// newMecanumBase builds the pipeline over hw and starts the control loop. The base closes
// the drivetrain when it has a Close method.
func newMecanumBase(
	ctx context.Context,
	name resource.Name,
	cfg *Config,
	hw hardware.Suite,
	geometries []spatialmath.Geometry,
	clk clock.Clock,
	logger logging.Logger,
) (*mecanumBase, error) {
	pc := cfg.pipelineConfig()
	pipe, err := pipeline.New(pc, hw, clk, logger)
	if err != nil {
		return nil, err
	}

	g := pc.Geometry
	wheelSpeed := cfg.maxWheelRPM() / 60 * g.WheelCircumferenceM()
	cancelCtx, cancel := context.WithCancel(context.Background())
	b := &mecanumBase{
		Named:      name.AsNamed(),
		geometries: geometries,
		props: base.Properties{
			WidthMeters:              g.TrackWidthM,
			WheelCircumferenceMeters: g.WheelCircumferenceM(),
		},
		logger:      logger,
		clock:       clk,
		period:      cfg.controlPeriod(),
		opMgr:       operation.NewSingleOperationManager(),
		hw:          hw,
		pipe:        pipe,
		topSpeedMps: wheelSpeed,
		spinRadiusM: g.HalfWheelBase() + g.HalfTrackWidth(),
		cancel:      cancel,
	}

	b.mu.Lock()
	pipe.Start(ctx)
	b.status = pipe.LastStatus()
	b.mu.Unlock()

	b.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		b.controlLoop(cancelCtx)
	}, b.activeBackgroundWorkers.Done)

	logger.Infow("mecanum base started", "period", b.period, "top_speed_mps", wheelSpeed)
	return b, nil
}

// controlLoop runs one pipeline tick per control period until ctx is done.
func (b *mecanumBase) controlLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.period)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b.tick(ctx)
	}
}

func (b *mecanumBase) tick(ctx context.Context) pipeline.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = b.pipe.Tick(ctx, b.input)
	return b.status
}

// navigate sets a goal and blocks until navigation reports it reached or ctx is done.
func (b *mecanumBase) navigate(ctx context.Context, goalFor func(odometry.Pose2D) navigation.Goal) error {
	ctx, done := b.opMgr.New(ctx)
	defer done()

	b.mu.Lock()
	goal := goalFor(b.pipe.Pose())
	b.input.Manual = kinematics.VelocityCommand{}
	b.pipe.NavigateTo(goal)
	b.goalSeq++
	seq := b.goalSeq
	b.mu.Unlock()

	err := b.opMgr.WaitForSuccess(ctx, b.period, func(ctx context.Context) (bool, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.goalSeq != seq {
			return false, errors.New("navigation goal replaced")
		}
		return b.pipe.NavState() == navigation.StateDone, nil
	})
	if err == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.goalSeq == seq {
		err = multierr.Combine(err, b.pipe.StopNavigation(context.Background()))
	}
	return err
}

// replaceGoal drops any goal a blocked MoveStraight or Spin is waiting on. Caller holds mu.
func (b *mecanumBase) replaceGoal() {
	b.goalSeq++
}

// MoveStraight drives distanceMm along the current heading. The sign of distanceMm times
// the sign of mmPerSec selects forward or reverse; the navigation controller sets the speed.
func (b *mecanumBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if distanceMm == 0 || mmPerSec == 0 {
		return b.Stop(ctx, nil)
	}
	d := math.Abs(float64(distanceMm)) / 1000
	if (distanceMm < 0) != (mmPerSec < 0) {
		d = -d
	}
	return b.navigate(ctx, func(p odometry.Pose2D) navigation.Goal {
		return navigation.Goal{
			X:     p.X + d*math.Cos(p.Theta),
			Y:     p.Y + d*math.Sin(p.Theta),
			Theta: p.Theta,
		}
	})
}

// Spin turns in place by angleDeg, counter-clockwise positive. As with MoveStraight only the
// sign of degsPerSec is used.
func (b *mecanumBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if angleDeg == 0 || degsPerSec == 0 {
		return b.Stop(ctx, nil)
	}
	turn := rdkutils.DegToRad(math.Abs(angleDeg))
	if (angleDeg < 0) != (degsPerSec < 0) {
		turn = -turn
	}
	return b.navigate(ctx, func(p odometry.Pose2D) navigation.Goal {
		return navigation.Goal{X: p.X, Y: p.Y, Theta: p.Theta + turn}
	})
}

// SetPower sets the linear and angular [-1, 1] drive power. Linear Y is forward, linear X
// is right, angular Z is counter-clockwise.
func (b *mecanumBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.warnUnusedAxes(linear, angular)
	return b.setManual(ctx, kinematics.FromVectors(linear, angular))
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity, normalized by the
// wheel top speed.
func (b *mecanumBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.warnUnusedAxes(linear, angular)
	return b.setManual(ctx, b.velocityToPower(linear, angular))
}

func (b *mecanumBase) velocityToPower(linear, angular r3.Vector) kinematics.VelocityCommand {
	top := b.topSpeedMps
	return kinematics.FromVectors(
		r3.Vector{X: linear.X / 1000 / top, Y: linear.Y / 1000 / top},
		r3.Vector{Z: rdkutils.DegToRad(angular.Z) * b.spinRadiusM / top},
	)
}

func (b *mecanumBase) setManual(ctx context.Context, cmd kinematics.VelocityCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipe.NavState() == navigation.StateDriving {
		b.replaceGoal()
		if err := b.pipe.StopNavigation(ctx); err != nil {
			b.logger.Debugw("stopping navigation for manual drive", "error", err)
		}
	}
	b.input.Manual = cmd
	return nil
}

func (b *mecanumBase) warnUnusedAxes(linear, angular r3.Vector) {
	if linear.Z != 0 {
		b.logger.Warnw("Linear Z command non-zero and has no effect")
	}
	if angular.X != 0 {
		b.logger.Warnw("Angular X command non-zero and has no effect")
	}
	if angular.Y != 0 {
		b.logger.Warnw("Angular Y command non-zero and has no effect")
	}
}

// Stop cancels any running move, clears the manual command and zeroes the wheels.
func (b *mecanumBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replaceGoal()
	b.input.Manual = kinematics.VelocityCommand{}
	return b.pipe.StopNavigation(ctx)
}

func (b *mecanumBase) IsMoving(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pipe.NavState() == navigation.StateDriving || !b.status.Powers.IsZero(), nil
}

func (b *mecanumBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return b.props, nil
}

func (b *mecanumBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// Close stops the loop, zeroes the wheels and releases the hardware.
func (b *mecanumBase) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		b.opMgr.CancelRunning(ctx)
		b.cancel()
		b.activeBackgroundWorkers.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()
		if stopErr := b.pipe.StopNavigation(ctx); stopErr != nil && !errors.Is(stopErr, hardware.ErrUnavailable) {
			err = multierr.Append(err, stopErr)
		}
		// the sensors belong to the robot, only the drivetrain is ours to close
		if c, ok := b.hw.Drivetrain.(closer); ok {
			err = multierr.Append(err, c.Close(ctx))
		}
	})
	return err
}
