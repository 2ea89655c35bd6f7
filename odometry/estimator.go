// Package odometry integrates wheel encoder ticks and inertial heading into a field frame
// pose by dead reckoning.
package odometry

import (
	"math"

	"go.viam.com/rdk/logging"

	"github.com/intermode/modal-mecanum/reading"
)

// Pose2D is a field frame pose. Theta is kept in (-pi, pi].
type Pose2D struct {
	X     float64
	Y     float64
	Theta float64
}

// EncoderSnapshot is one read of the four wheel encoders.
type EncoderSnapshot struct {
	FL int64
	FR int64
	RL int64
	RR int64
}

// Sub returns the per wheel tick delta s - prev.
func (s EncoderSnapshot) Sub(prev EncoderSnapshot) EncoderSnapshot {
	return EncoderSnapshot{
		FL: s.FL - prev.FL,
		FR: s.FR - prev.FR,
		RL: s.RL - prev.RL,
		RR: s.RR - prev.RR,
	}
}

// NormalizeAngle wraps a into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// AngleDiff is the shortest signed rotation from b to a.
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a - b)
}

// Estimator accumulates a pose from successive encoder snapshots. It is not safe for
// concurrent use.
type Estimator struct {
	geom   Geometry
	logger logging.Logger

	pose        Pose2D
	last        EncoderSnapshot
	hasBaseline bool
}

// NewEstimator returns an estimator at the origin with no encoder baseline.
func NewEstimator(geom Geometry, logger logging.Logger) *Estimator {
	return &Estimator{geom: geom, logger: logger}
}

// Reset moves the pose to p and re-baselines the encoders so the next Update measures
// motion from this snapshot. Without a valid snapshot the baseline is taken from the first
// valid Update instead.
func (e *Estimator) Reset(p Pose2D, ticks reading.Reading[EncoderSnapshot]) {
	e.pose = Pose2D{X: p.X, Y: p.Y, Theta: NormalizeAngle(p.Theta)}
	e.last, e.hasBaseline = ticks.Get()
	e.logger.Debugw("odometry reset", "x", e.pose.X, "y", e.pose.Y, "theta", e.pose.Theta, "baseline", e.hasBaseline)
}

// Pose returns the current estimate.
func (e *Estimator) Pose() Pose2D {
	return e.pose
}

// Update integrates one tick. heading is an absolute yaw in radians and, when valid,
// replaces the encoder-integrated heading. Missing encoders leave the pose untouched.
func (e *Estimator) Update(ticks reading.Reading[EncoderSnapshot], heading reading.Reading[float64]) Pose2D {
	now, ok := ticks.Get()
	if !ok {
		return e.pose
	}
	if !e.hasBaseline {
		e.last, e.hasBaseline = now, true
		return e.pose
	}

	d := now.Sub(e.last)
	e.last = now

	fl := e.geom.TicksToMeters(d.FL)
	fr := e.geom.TicksToMeters(d.FR)
	rl := e.geom.TicksToMeters(d.RL)
	rr := e.geom.TicksToMeters(d.RR)

	dxBody := 0.25 * (fl + fr + rl + rr)
	dyBody := 0.25 * (-fl + fr + rl - rr)
	dThetaEnc := (-fl + fr - rl + rr) / (4 * (e.geom.HalfWheelBase() + e.geom.HalfTrackWidth()))

	thetaNow := e.pose.Theta + dThetaEnc
	if h, ok := heading.Get(); ok && !math.IsNaN(h) && !math.IsInf(h, 0) {
		thetaNow = h
	}

	// first order: rotate by the heading at the start of the tick
	cos, sin := math.Cos(e.pose.Theta), math.Sin(e.pose.Theta)
	e.pose.X += dxBody*cos - dyBody*sin
	e.pose.Y += dxBody*sin + dyBody*cos
	e.pose.Theta = NormalizeAngle(thetaNow)
	return e.pose
}
