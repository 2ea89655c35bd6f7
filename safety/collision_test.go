package safety

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/reading"
)

func newTestCollision() (*CollisionScaler, *clock.Mock) {
	clk := clock.NewMock()
	return NewCollisionScaler(DefaultCollisionConfig(), clk), clk
}

func TestCollisionZoneBoundaries(t *testing.T) {
	s, _ := newTestCollision()

	s.Update(reading.Of(20.0))
	test.That(t, s.ComputeScale(false), test.ShouldEqual, 0.0)
	test.That(t, s.State().WarningActive, test.ShouldBeTrue)

	s.Update(reading.Of(50.0))
	test.That(t, s.ComputeScale(false), test.ShouldAlmostEqual, 0.3)

	s.Update(reading.Of(35.0))
	test.That(t, s.ComputeScale(false), test.ShouldAlmostEqual, 0.15)

	// moderate range and a static scene: no braking
	s.Update(reading.Of(75.0))
	test.That(t, s.ComputeScale(false), test.ShouldEqual, 1.0)
	test.That(t, s.State().WarningActive, test.ShouldBeFalse)

	// same range with a detected obstacle brakes
	test.That(t, s.ComputeScale(true), test.ShouldAlmostEqual, 0.45)
	test.That(t, s.State().WarningActive, test.ShouldBeTrue)

	s.Update(reading.Of(150.0))
	test.That(t, s.ComputeScale(true), test.ShouldEqual, 1.0)
}

func TestCollisionAdaptivity(t *testing.T) {
	cfg := DefaultCollisionConfig()
	prev := math.Inf(1)
	for v := 0.0; v <= 50; v += 5 {
		scale, warning := ZoneScale(60, v, true, cfg)
		test.That(t, warning, test.ShouldBeTrue)
		test.That(t, scale, test.ShouldBeLessThan, prev)
		prev = scale
	}

	stop, slow := cfg.Zones(50)
	test.That(t, stop, test.ShouldEqual, 40)
	test.That(t, slow, test.ShouldEqual, 80)
	stop, slow = cfg.Zones(-30)
	test.That(t, stop, test.ShouldEqual, 20)
	test.That(t, slow, test.ShouldEqual, 50)
}

func TestCollisionVelocityFilter(t *testing.T) {
	s, clk := newTestCollision()

	s.Update(reading.Of(100.0))
	test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldEqual, 0)
	test.That(t, s.State().StopZoneCm, test.ShouldEqual, 20)
	test.That(t, s.State().SlowZoneCm, test.ShouldEqual, 50)

	clk.Add(100 * time.Millisecond)
	s.Update(reading.Of(90.0))
	test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldAlmostEqual, 30)
	// zones widen with the approach velocity
	test.That(t, s.State().StopZoneCm, test.ShouldAlmostEqual, 32)
	test.That(t, s.State().SlowZoneCm, test.ShouldAlmostEqual, 68)

	// too soon: derivative skipped, sample kept
	clk.Add(5 * time.Millisecond)
	s.Update(reading.Of(80.0))
	test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldAlmostEqual, 30)
	test.That(t, s.State().DistanceCm.OrElse(-1), test.ShouldEqual, 80)

	// too late
	clk.Add(2 * time.Second)
	s.Update(reading.Of(10.0))
	test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldAlmostEqual, 30)
	test.That(t, s.State().LastSampleTime, test.ShouldResemble, clk.Now())

	// receding
	clk.Add(500 * time.Millisecond)
	s.Update(reading.Of(60.0))
	test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldAlmostEqual, 0.7*30+0.3*-100)
}

func TestCollisionInvalidReading(t *testing.T) {
	s, clk := newTestCollision()
	s.Update(reading.Of(100.0))
	clk.Add(100 * time.Millisecond)
	s.Update(reading.Of(90.0))
	s.Update(reading.Of(15.0))
	test.That(t, s.ComputeScale(false), test.ShouldEqual, 0.0)

	for _, r := range []reading.Reading[float64]{
		reading.Missing[float64](),
		reading.Of(math.NaN()),
		reading.Of(-1.0),
	} {
		s.Update(r)
		test.That(t, s.State().DistanceCm.Valid(), test.ShouldBeFalse)
		test.That(t, s.State().ApproachVelocityCmPerSec, test.ShouldAlmostEqual, 30)
		test.That(t, s.ComputeScale(true), test.ShouldEqual, 1.0)
		test.That(t, s.State().WarningActive, test.ShouldBeFalse)
	}
}

func TestCollisionOverride(t *testing.T) {
	s, _ := newTestCollision()
	test.That(t, s.ToggleOverride(), test.ShouldBeTrue)
	for _, d := range []float64{90, 45, 20, 10, 0} {
		s.Update(reading.Of(d))
		test.That(t, s.ComputeScale(true), test.ShouldEqual, 1.0)
		test.That(t, s.State().WarningActive, test.ShouldBeFalse)
		test.That(t, s.State().OverrideActive, test.ShouldBeTrue)
	}
	s.SetOverride(false)
	test.That(t, s.ComputeScale(true), test.ShouldEqual, 0.0)
}

func TestApplyToWheelPowers(t *testing.T) {
	s, _ := newTestCollision()

	t.Run("forward", func(t *testing.T) {
		p := s.ApplyToWheelPowers(kinematics.WheelPowers{0.4, 0.4, 0.4, 0.4}, 0.5, 0.4)
		test.That(t, p, test.ShouldResemble, kinematics.WheelPowers{0.2, 0.2, 0.2, 0.2})
	})

	t.Run("only_positive_entries", func(t *testing.T) {
		p := s.ApplyToWheelPowers(kinematics.WheelPowers{0.6, 0.2, 0.4, -0.2}, 0.5, 0.3)
		test.That(t, p, test.ShouldResemble, kinematics.WheelPowers{0.3, 0.1, 0.2, -0.2})
	})

	t.Run("reverse_untouched", func(t *testing.T) {
		in := kinematics.WheelPowers{-0.4, -0.4, -0.4, -0.4}
		test.That(t, s.ApplyToWheelPowers(in, 0, -0.4), test.ShouldResemble, in)
	})

	t.Run("spin_untouched", func(t *testing.T) {
		in := kinematics.WheelPowers{-0.3, 0.3, -0.3, 0.3}
		test.That(t, s.ApplyToWheelPowers(in, 0, 0.1), test.ShouldResemble, in)
	})

	t.Run("full_scale", func(t *testing.T) {
		in := kinematics.WheelPowers{0.4, 0.4, 0.4, 0.4}
		test.That(t, s.ApplyToWheelPowers(in, 0.995, 0.4), test.ShouldResemble, in)
	})
}

func TestCollisionConfig(t *testing.T) {
	test.That(t, DefaultCollisionConfig().Validate(), test.ShouldBeNil)
	test.That(t, CollisionConfig{}.WithDefaults(), test.ShouldResemble, DefaultCollisionConfig())

	bad := DefaultCollisionConfig()
	bad.SlowDistanceCm = 10
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
	bad = DefaultCollisionConfig()
	bad.MaxSampleInterval = time.Millisecond
	test.That(t, bad.Validate(), test.ShouldNotBeNil)
}
