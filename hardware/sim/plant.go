// Package sim is a kinematic mecanum plant that implements every hardware interface. Motion
// is integrated lazily against a clock, so a mock clock makes it fully deterministic.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/odometry"
)

// Config describes the simulated robot and its surroundings.
type Config struct {
	Geometry odometry.Geometry
	// wheel surface speed at power 1.0
	MaxWheelSpeedMps float64
	// a wall perpendicular to the field X axis, seen by the distance sensor when facing it
	WallX      float64
	HasWall    bool
	MaxRangeCm float64
}

// DefaultConfig is the default geometry with a 1 m/s top wheel speed and no wall.
func DefaultConfig() Config {
	return Config{
		Geometry:         odometry.DefaultGeometry(),
		MaxWheelSpeedMps: 1.0,
		MaxRangeCm:       400,
	}
}

// Plant is the simulated robot. It is safe for concurrent use.
type Plant struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	logger logging.Logger

	last    time.Time
	pose    odometry.Pose2D
	ticks   [kinematics.NumWheels]float64
	powers  kinematics.WheelPowers
	pitch   float64
	roll    float64
	pattern hardware.Pattern

	encoderErr  error
	imuErr      error
	distanceErr error
}

// NewPlant returns a plant at the field origin.
func NewPlant(cfg Config, clk clock.Clock, logger logging.Logger) (*Plant, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, errors.Wrap(err, "sim geometry")
	}
	if cfg.MaxWheelSpeedMps <= 0 {
		return nil, errors.New("sim max wheel speed must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Plant{cfg: cfg, clock: clk, logger: logger, last: clk.Now()}, nil
}

// advance integrates motion up to now. Caller holds mu.
func (p *Plant) advance() {
	now := p.clock.Now()
	dt := now.Sub(p.last).Seconds()
	p.last = now
	if dt <= 0 || p.powers.IsZero() {
		return
	}

	g := p.cfg.Geometry
	var dist [kinematics.NumWheels]float64
	for i, pw := range p.powers {
		dist[i] = pw * p.cfg.MaxWheelSpeedMps * dt
		p.ticks[i] += g.MetersToTicks(dist[i])
	}
	body := kinematics.Inverse(kinematics.WheelPowers(dist))
	dTheta := body.Omega / (g.HalfWheelBase() + g.HalfTrackWidth())

	// integrate at the mid-point heading so the plant stays ahead of first order odometry
	mid := p.pose.Theta + dTheta/2
	cos, sin := math.Cos(mid), math.Sin(mid)
	p.pose.X += body.X*cos - body.Y*sin
	p.pose.Y += body.X*sin + body.Y*cos
	p.pose.Theta = odometry.NormalizeAngle(p.pose.Theta + dTheta)
}

// ReadEncoders implements hardware.Drivetrain.
func (p *Plant) ReadEncoders(ctx context.Context) (odometry.EncoderSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	if p.encoderErr != nil {
		return odometry.EncoderSnapshot{}, p.encoderErr
	}
	return odometry.EncoderSnapshot{
		FL: int64(math.Round(p.ticks[kinematics.FrontLeft])),
		FR: int64(math.Round(p.ticks[kinematics.FrontRight])),
		RL: int64(math.Round(p.ticks[kinematics.RearLeft])),
		RR: int64(math.Round(p.ticks[kinematics.RearRight])),
	}, nil
}

// SetWheelPowers implements hardware.Drivetrain. Powers are clamped to [-1, 1].
func (p *Plant) SetWheelPowers(ctx context.Context, w kinematics.WheelPowers) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	for i, v := range w {
		w[i] = math.Max(-1, math.Min(1, v))
	}
	p.powers = w
	return nil
}

// ReadOrientation implements hardware.OrientationSensor. Yaw is the true heading.
func (p *Plant) ReadOrientation(ctx context.Context) (hardware.Orientation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	if p.imuErr != nil {
		return hardware.Orientation{}, p.imuErr
	}
	return hardware.Orientation{
		PitchDeg: p.pitch,
		RollDeg:  p.roll,
		YawDeg:   rdkutils.RadToDeg(p.pose.Theta),
	}, nil
}

// ReadDistanceCm implements hardware.DistanceSensor. Without a wall in view it reports
// hardware.ErrUnavailable.
func (p *Plant) ReadDistanceCm(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	if p.distanceErr != nil {
		return 0, p.distanceErr
	}
	cos := math.Cos(p.pose.Theta)
	if !p.cfg.HasWall || cos <= 0 {
		return 0, hardware.ErrUnavailable
	}
	d := math.Max(0, (p.cfg.WallX-p.pose.X)/cos*100)
	if p.cfg.MaxRangeCm > 0 && d > p.cfg.MaxRangeCm {
		return 0, hardware.ErrUnavailable
	}
	return d, nil
}

// SetIndicator implements hardware.Indicator.
func (p *Plant) SetIndicator(ctx context.Context, pattern hardware.Pattern) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pattern != p.pattern {
		p.logger.Debugw("indicator", "pattern", pattern.String())
	}
	p.pattern = pattern
	return nil
}

// Suite returns a hardware suite backed entirely by the plant.
func (p *Plant) Suite() hardware.Suite {
	return hardware.Suite{Drivetrain: p, IMU: p, Distance: p, Indicator: p}
}

// TruePose returns the ground truth pose.
func (p *Plant) TruePose() odometry.Pose2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	return p.pose
}

// Powers returns the last commanded wheel powers.
func (p *Plant) Powers() kinematics.WheelPowers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.powers
}

// Pattern returns the last indicator pattern.
func (p *Plant) Pattern() hardware.Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pattern
}

// SetAttitude sets the pitch and roll the IMU reports.
func (p *Plant) SetAttitude(pitchDeg, rollDeg float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pitch, p.roll = pitchDeg, rollDeg
}

// SetWall places a wall at field x, or removes it.
func (p *Plant) SetWall(x float64, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.WallX, p.cfg.HasWall = x, present
}

// SetFaults makes the encoder, IMU and distance reads fail with the given errors. Nil
// clears a fault.
func (p *Plant) SetFaults(encoder, imu, distance error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoderErr, p.imuErr, p.distanceErr = encoder, imu, distance
}
