// Package main drives the motion pipeline against the simulated mecanum plant.
package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/rdk/logging"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware/sim"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/pipeline"
)

const tickPeriod = 20 * time.Millisecond

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewDebugLogger("mecanumsim"))
}

// Arguments for the command.
type Arguments struct {
	XMm       int  `flag:"x-mm,default=1000,usage=goal x in millimeters"`
	YMm       int  `flag:"y-mm,usage=goal y in millimeters"`
	ThetaDeg  int  `flag:"theta-deg,usage=goal heading in degrees"`
	WallMm    int  `flag:"wall-mm,usage=place a wall at this field x in millimeters"`
	PitchDeg  int  `flag:"pitch-deg,usage=simulated pitch in degrees"`
	MaxTicks  int  `flag:"max-ticks,default=1500,usage=give up after this many ticks"`
	Realtime  bool `flag:"realtime,usage=tick on the wall clock instead of as fast as possible"`
	LogEveryN int  `flag:"log-every,default=25,usage=log status every n ticks"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.MaxTicks <= 0 {
		return errors.New("max-ticks must be positive")
	}

	var clk clock.Clock
	mock := clock.NewMock()
	if argsParsed.Realtime {
		clk = clock.New()
	} else {
		clk = mock
	}

	simCfg := sim.DefaultConfig()
	if argsParsed.WallMm != 0 {
		simCfg.WallX, simCfg.HasWall = float64(argsParsed.WallMm)/1000, true
	}
	plant, err := sim.NewPlant(simCfg, clk, logger)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.DefaultConfig(), plant.Suite(), clk, logger)
	if err != nil {
		return err
	}
	p.Start(ctx)
	// tilt is relative to the attitude at start
	plant.SetAttitude(float64(argsParsed.PitchDeg), 0)

	goal := navigation.Goal{
		X:     float64(argsParsed.XMm) / 1000,
		Y:     float64(argsParsed.YMm) / 1000,
		Theta: rdkutils.DegToRad(float64(argsParsed.ThetaDeg)),
	}
	p.NavigateTo(goal)

	ticker := clk.Ticker(tickPeriod)
	defer ticker.Stop()

	var st pipeline.Status
	for i := 0; i < argsParsed.MaxTicks; i++ {
		if argsParsed.Realtime {
			if !utils.SelectContextOrWaitChan(ctx, ticker.C) {
				return ctx.Err()
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mock.Add(tickPeriod)
		}

		st = p.Tick(ctx, pipeline.Input{})
		if argsParsed.LogEveryN > 0 && st.Tick%uint64(argsParsed.LogEveryN) == 0 {
			logger.Infow("status", "tick", st.Tick, "pose", st.Pose, "state", st.NavState.String(),
				"powers", st.Powers, "safety_scale", st.SafetyScale, "indicator", st.Indicator.String())
		}
		if st.NavState == navigation.StateDone {
			break
		}
	}

	truth := plant.TruePose()
	logger.Infow("finished",
		"ticks", st.Tick,
		"state", st.NavState.String(),
		"estimate", st.Pose,
		"truth", truth,
		"goal", goal)
	if st.NavState != navigation.StateDone {
		return errors.Errorf("goal not reached after %d ticks", st.Tick)
	}
	return p.StopNavigation(ctx)
}
