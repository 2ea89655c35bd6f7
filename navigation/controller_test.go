package navigation

import (
	"math"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/odometry"
)

func newTestController(t *testing.T) *Controller {
	return NewController(DefaultConfig(), logging.NewTestLogger(t))
}

func TestIdleAndStop(t *testing.T) {
	c := newTestController(t)
	cmd, st := c.Step(odometry.Pose2D{X: 3})
	test.That(t, cmd.IsZero(), test.ShouldBeTrue)
	test.That(t, st, test.ShouldEqual, StateIdle)
	_, ok := c.Goal()
	test.That(t, ok, test.ShouldBeFalse)

	c.NavigateTo(Goal{X: 5})
	test.That(t, c.State(), test.ShouldEqual, StateDriving)
	c.Stop()
	test.That(t, c.State(), test.ShouldEqual, StateIdle)
	cmd, _ = c.Step(odometry.Pose2D{})
	test.That(t, cmd.IsZero(), test.ShouldBeTrue)
	_, ok = c.Goal()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestImmediateDone(t *testing.T) {
	c := newTestController(t)
	c.NavigateTo(Goal{})
	cmd, st := c.Step(odometry.Pose2D{})
	test.That(t, st, test.ShouldEqual, StateDone)
	test.That(t, cmd, test.ShouldResemble, kinematics.VelocityCommand{})

	// DONE is terminal until a new goal
	cmd, st = c.Step(odometry.Pose2D{X: 4})
	test.That(t, st, test.ShouldEqual, StateDone)
	test.That(t, cmd.IsZero(), test.ShouldBeTrue)
	g, ok := c.Goal()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, g, test.ShouldResemble, Goal{})

	c.NavigateTo(Goal{X: 4, Theta: 2 * math.Pi})
	test.That(t, c.State(), test.ShouldEqual, StateDriving)
	g, _ = c.Goal()
	test.That(t, g.Theta, test.ShouldAlmostEqual, 0)
}

func TestConvergence(t *testing.T) {
	const dt = 1.0 / 50
	c := newTestController(t)
	c.NavigateTo(Goal{X: 1})

	var pose odometry.Pose2D
	ticks := 0
	for ; ticks < 500; ticks++ {
		cmd, st := c.Step(pose)
		if st == StateDone {
			break
		}
		cos, sin := math.Cos(pose.Theta), math.Sin(pose.Theta)
		pose.X += (cmd.X*cos - cmd.Y*sin) * dt
		pose.Y += (cmd.X*sin + cmd.Y*cos) * dt
		pose.Theta = odometry.NormalizeAngle(pose.Theta + cmd.Omega*dt)
	}
	test.That(t, c.State(), test.ShouldEqual, StateDone)
	test.That(t, ticks, test.ShouldBeLessThan, 500)
	test.That(t, math.Hypot(1-pose.X, pose.Y), test.ShouldBeLessThan, 0.20)
	test.That(t, math.Abs(pose.Theta), test.ShouldBeLessThan, 0.1)
}

func TestClampAndBodyFrame(t *testing.T) {
	c := newTestController(t)
	c.NavigateTo(Goal{X: 10, Y: -10, Theta: 3})
	cmd, st := c.Step(odometry.Pose2D{})
	test.That(t, st, test.ShouldEqual, StateDriving)
	test.That(t, cmd, test.ShouldResemble, kinematics.VelocityCommand{X: 0.5, Y: -0.5, Omega: 0.5})

	// facing +Y, a goal straight ahead in the field is straight ahead in the body
	c.NavigateTo(Goal{Y: 0.4, Theta: math.Pi / 2})
	cmd, _ = c.Step(odometry.Pose2D{Theta: math.Pi / 2})
	test.That(t, cmd.X, test.ShouldAlmostEqual, 0.4)
	test.That(t, cmd.Y, test.ShouldAlmostEqual, 0)
	test.That(t, cmd.Omega, test.ShouldAlmostEqual, 0)
}

func TestCreepFloor(t *testing.T) {
	c := newTestController(t)
	c.NavigateTo(Goal{X: 1, Y: 0.005, Theta: 0.5})
	cmd, _ := c.Step(odometry.Pose2D{X: 0.95})
	test.That(t, cmd.X, test.ShouldEqual, 0.1)
	test.That(t, cmd.Y, test.ShouldAlmostEqual, 0.005)
	test.That(t, cmd.Omega, test.ShouldEqual, 0.5)

	c.NavigateTo(Goal{X: 1, Theta: -0.14})
	cmd, _ = c.Step(odometry.Pose2D{X: 1.05})
	test.That(t, cmd.X, test.ShouldEqual, -0.1)
	test.That(t, cmd.Y, test.ShouldEqual, 0)
	test.That(t, cmd.Omega, test.ShouldAlmostEqual, -0.28)

	// no floor outside the creep distance
	c.NavigateTo(Goal{X: 1, Y: 0.05})
	cmd, _ = c.Step(odometry.Pose2D{X: 0.5})
	test.That(t, cmd.Y, test.ShouldAlmostEqual, 0.05)
}

func TestConfig(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	test.That(t, Config{}.WithDefaults(), test.ShouldResemble, DefaultConfig())

	cfg := DefaultConfig()
	cfg.MinSpeed = 0.9
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
	cfg = DefaultConfig()
	cfg.PositionTolerance = 0
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	test.That(t, StateDriving.String(), test.ShouldEqual, "driving")
	test.That(t, State(9).String(), test.ShouldEqual, "State(9)")
}
