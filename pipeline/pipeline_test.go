package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/hardware/sim"
	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/reading"
	"github.com/intermode/modal-mecanum/safety"
)

const tickPeriod = 20 * time.Millisecond

type harness struct {
	p     *Pipeline
	plant *sim.Plant
	clk   *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	clk := clock.NewMock()
	plant, err := sim.NewPlant(sim.DefaultConfig(), clk, logger)
	test.That(t, err, test.ShouldBeNil)
	p, err := New(DefaultConfig(), plant.Suite(), clk, logger)
	test.That(t, err, test.ShouldBeNil)
	p.Start(context.Background())
	return &harness{p: p, plant: plant, clk: clk}
}

func (h *harness) step(in Input) Status {
	h.clk.Add(tickPeriod)
	return h.p.Tick(context.Background(), in)
}

func TestNavigateToPoint(t *testing.T) {
	h := newHarness(t)
	h.p.NavigateTo(navigation.Goal{X: 1})

	var st Status
	for i := 0; i < 500; i++ {
		st = h.step(Input{})
		if st.NavState == navigation.StateDone {
			break
		}
		test.That(t, st.Powers.MaxAbs(), test.ShouldBeLessThanOrEqualTo, 0.5+1e-9)
	}
	test.That(t, st.NavState, test.ShouldEqual, navigation.StateDone)
	test.That(t, st.Powers.IsZero(), test.ShouldBeTrue)
	test.That(t, st.HasGoal, test.ShouldBeTrue)

	truth := h.plant.TruePose()
	test.That(t, math.Hypot(1-truth.X, truth.Y), test.ShouldBeLessThan, 0.21)
	test.That(t, math.Abs(truth.Theta), test.ShouldBeLessThan, 0.1)
	test.That(t, st.Pose.X, test.ShouldAlmostEqual, truth.X, 0.005)

	// DONE falls back to the manual intent, here none
	st = h.step(Input{})
	test.That(t, st.NavState, test.ShouldEqual, navigation.StateDone)
	test.That(t, h.plant.Powers().IsZero(), test.ShouldBeTrue)
}

func TestStopNavigation(t *testing.T) {
	h := newHarness(t)
	h.p.NavigateTo(navigation.Goal{X: 3})
	st := h.step(Input{})
	test.That(t, st.NavState, test.ShouldEqual, navigation.StateDriving)
	test.That(t, h.plant.Powers().IsZero(), test.ShouldBeFalse)

	test.That(t, h.p.StopNavigation(context.Background()), test.ShouldBeNil)
	test.That(t, h.p.NavState(), test.ShouldEqual, navigation.StateIdle)
	test.That(t, h.plant.Powers().IsZero(), test.ShouldBeTrue)

	st = h.step(Input{})
	test.That(t, st.HasGoal, test.ShouldBeFalse)
	test.That(t, st.Powers.IsZero(), test.ShouldBeTrue)
}

func TestTiltLimitsManualDrive(t *testing.T) {
	h := newHarness(t)
	h.plant.SetAttitude(30, 2)

	st := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.TiltScale, test.ShouldEqual, 0.4)
	test.That(t, st.TiltZone, test.ShouldEqual, safety.TiltWarning)
	test.That(t, st.SafetyScale, test.ShouldEqual, 0.4)
	test.That(t, st.PitchDeg, test.ShouldEqual, 30)
	test.That(t, st.RollDeg, test.ShouldEqual, 2)
	for _, p := range st.Powers {
		test.That(t, p, test.ShouldAlmostEqual, 0.16)
	}
}

func TestTiltLimitsSaturatedNavigation(t *testing.T) {
	goal := navigation.Goal{X: 3, Y: 3, Theta: 1}

	level := newHarness(t)
	level.p.NavigateTo(goal)
	flat := level.step(Input{})
	test.That(t, flat.Powers.MaxAbs(), test.ShouldAlmostEqual, 0.5)

	tilted := newHarness(t)
	tilted.plant.SetAttitude(30, 0)
	tilted.p.NavigateTo(goal)
	for i := 0; i < 50; i++ {
		st := tilted.step(Input{})
		test.That(t, st.TiltScale, test.ShouldEqual, 0.4)
		test.That(t, st.Powers.MaxAbs(), test.ShouldBeLessThanOrEqualTo, 0.5*0.4+1e-9)
		if i == 0 {
			for w := range st.Powers {
				test.That(t, st.Powers[w], test.ShouldAlmostEqual, flat.Powers[w]*0.4)
			}
		}
	}

	// a saturating manual command is limited the same way
	test.That(t, tilted.p.StopNavigation(context.Background()), test.ShouldBeNil)
	st := tilted.step(Input{Manual: kinematics.VelocityCommand{X: 0.5, Y: 0.5, Omega: 0.5}})
	test.That(t, st.Powers.MaxAbs(), test.ShouldAlmostEqual, 0.2)
}

func TestCollisionOnlyThrottlesForward(t *testing.T) {
	h := newHarness(t)
	h.plant.SetWall(0.3, true)

	st := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.CollisionScale, test.ShouldAlmostEqual, 0.1)
	test.That(t, st.SafetyScale, test.ShouldAlmostEqual, 0.1)
	test.That(t, st.Collision.WarningActive, test.ShouldBeTrue)
	test.That(t, st.Indicator, test.ShouldEqual, hardware.PatternWarning)
	for _, p := range st.Powers {
		test.That(t, p, test.ShouldAlmostEqual, 0.04)
	}

	st = h.step(Input{Manual: kinematics.VelocityCommand{X: -0.4}})
	test.That(t, st.Powers, test.ShouldResemble, kinematics.WheelPowers{-0.4, -0.4, -0.4, -0.4})

	test.That(t, h.p.ToggleCollisionOverride(), test.ShouldBeTrue)
	st = h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.CollisionScale, test.ShouldEqual, 1.0)
	test.That(t, st.Powers, test.ShouldResemble, kinematics.WheelPowers{0.4, 0.4, 0.4, 0.4})
	test.That(t, st.Indicator, test.ShouldEqual, hardware.PatternInRange)
}

func TestEmergencyStopStillSpins(t *testing.T) {
	h := newHarness(t)
	h.plant.SetWall(0.15, true)

	st := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.CollisionScale, test.ShouldEqual, 0.0)
	test.That(t, st.Powers.IsZero(), test.ShouldBeTrue)
	test.That(t, st.Indicator, test.ShouldEqual, hardware.PatternEmergency)
	test.That(t, h.plant.Pattern(), test.ShouldEqual, hardware.PatternEmergency)

	st = h.step(Input{Manual: kinematics.VelocityCommand{Omega: 0.3}})
	test.That(t, st.Powers, test.ShouldResemble, kinematics.WheelPowers{-0.3, 0.3, -0.3, 0.3})
}

func TestManualShaping(t *testing.T) {
	h := newHarness(t)

	st := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.2, Y: 0.2}, SlowMode: true})
	test.That(t, st.Command.X, test.ShouldAlmostEqual, 0.12)
	test.That(t, st.Command.Y, test.ShouldAlmostEqual, 0.132)
	test.That(t, st.Command.Omega, test.ShouldEqual, 0)

	st = h.step(Input{Manual: kinematics.VelocityCommand{X: 0.2, Y: 0.2}})
	test.That(t, st.Command.Y, test.ShouldAlmostEqual, 0.22)
}

func TestVisionAssist(t *testing.T) {
	h := newHarness(t)
	for _, tc := range []struct {
		name     string
		in       Input
		wantTurn float64
	}{
		{"floored", Input{VisionAssist: true, TargetBearingDeg: reading.Of(1.0)}, 0.05},
		{"floored_negative", Input{VisionAssist: true, TargetBearingDeg: reading.Of(-1.0)}, -0.05},
		{"tiny", Input{VisionAssist: true, TargetBearingDeg: reading.Of(0.3)}, 0.006},
		{"proportional", Input{VisionAssist: true, TargetBearingDeg: reading.Of(10.0)}, 0.2},
		{"disabled", Input{TargetBearingDeg: reading.Of(10.0)}, 0},
		{"no_target", Input{VisionAssist: true}, 0},
		{"operator_turning", Input{
			Manual:           kinematics.VelocityCommand{Omega: 0.3},
			VisionAssist:     true,
			TargetBearingDeg: reading.Of(10.0),
		}, 0.3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := h.step(tc.in)
			test.That(t, st.Command.Omega, test.ShouldAlmostEqual, tc.wantTurn)
		})
	}

	st := h.step(Input{VisionAssist: true, TargetBearingDeg: reading.Of(0.0)})
	test.That(t, st.Indicator, test.ShouldEqual, hardware.PatternTargetLocked)
}

func TestSensorFaults(t *testing.T) {
	h := newHarness(t)
	st := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.EncodersOK, test.ShouldBeTrue)
	test.That(t, st.ImuOK, test.ShouldBeTrue)

	fault := errors.New("bus timeout")
	h.plant.SetFaults(fault, fault, fault)
	h.plant.SetAttitude(40, 0)
	frozen := h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, frozen.EncodersOK, test.ShouldBeFalse)
	test.That(t, frozen.ImuOK, test.ShouldBeFalse)
	test.That(t, frozen.TiltScale, test.ShouldEqual, 1.0)
	test.That(t, frozen.TiltZone, test.ShouldEqual, safety.TiltUnavailable)
	test.That(t, frozen.CollisionScale, test.ShouldEqual, 1.0)

	st = h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	test.That(t, st.Pose, test.ShouldResemble, frozen.Pose)
	test.That(t, st.Tick, test.ShouldEqual, frozen.Tick+1)

	// encoders return and the distance travelled meanwhile is picked up
	h.plant.SetFaults(nil, nil, nil)
	st = h.step(Input{})
	test.That(t, st.Pose.X, test.ShouldBeGreaterThan, frozen.Pose.X)
}

func TestMissingDrivetrain(t *testing.T) {
	logger := logging.NewTestLogger(t)
	p, err := New(DefaultConfig(), hardware.Suite{}, clock.NewMock(), logger)
	test.That(t, err, test.ShouldBeNil)

	st := p.Tick(context.Background(), Input{Manual: kinematics.VelocityCommand{X: 0.2}})
	test.That(t, st.EncodersOK, test.ShouldBeFalse)
	test.That(t, st.Pose, test.ShouldResemble, odometry.Pose2D{})
	test.That(t, st.Powers[kinematics.FrontLeft], test.ShouldAlmostEqual, 0.2)
	test.That(t, errors.Is(p.StopNavigation(context.Background()), hardware.ErrUnavailable), test.ShouldBeTrue)
}

func TestResetPose(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.step(Input{Manual: kinematics.VelocityCommand{X: 0.4}})
	}
	test.That(t, h.p.Pose().X, test.ShouldBeGreaterThan, 0)

	h.p.ResetPose(context.Background(), odometry.Pose2D{X: 5, Y: -1})
	st := h.step(Input{})
	test.That(t, st.Pose.X, test.ShouldAlmostEqual, 5, 0.01)
	test.That(t, st.Pose.Y, test.ShouldAlmostEqual, -1)
}

func TestStatusMap(t *testing.T) {
	h := newHarness(t)
	h.plant.SetWall(1, true)
	h.p.NavigateTo(navigation.Goal{X: 2, Theta: math.Pi / 2})
	m := h.step(Input{}).Map()

	test.That(t, m["nav_state"], test.ShouldEqual, "driving")
	test.That(t, m["goal_theta_deg"], test.ShouldAlmostEqual, 90)
	test.That(t, m["distance_cm"], test.ShouldAlmostEqual, 100)
	test.That(t, m["tilt_zone"], test.ShouldEqual, "safe")
	test.That(t, m["tick"], test.ShouldEqual, 1.0)
	test.That(t, m["stop_zone_cm"], test.ShouldEqual, 20.0)
	test.That(t, m["slow_zone_cm"], test.ShouldEqual, 50.0)
	test.That(t, len(m["wheel_powers"].([]interface{})), test.ShouldEqual, 4)
}

func TestConfig(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	test.That(t, Config{}.WithDefaults(), test.ShouldResemble, DefaultConfig())

	cfg := DefaultConfig()
	cfg.MaxWheelPower = 1.5
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = DefaultConfig()
	cfg.Geometry.GearRatio = -1
	_, err := New(cfg, hardware.Suite{}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
