package mecanumbase

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/kinematics"
	"github.com/intermode/modal-mecanum/navigation"
	"github.com/intermode/modal-mecanum/odometry"
	"github.com/intermode/modal-mecanum/reading"
)

// DoCommand executes additional commands beyond the Base{} interface: navigation goals,
// pose resets, collision override and the manual drive assists.
//
// reset_pose sets x and y in meters and theta_deg. With a movement sensor configured the
// heading follows the sensor yaw, so theta_deg only lasts until the next tick.
func (b *mecanumBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"]
	if !ok {
		return nil, errors.New("missing 'command' value")
	}
	switch name {
	case "navigate_to":
		x, err := floatArg(cmd, "x")
		if err != nil {
			return nil, err
		}
		y, err := floatArg(cmd, "y")
		if err != nil {
			return nil, err
		}
		thetaDeg, err := optionalFloatArg(cmd, "theta_deg", 0)
		if err != nil {
			return nil, err
		}

		b.opMgr.CancelRunning(ctx)
		b.mu.Lock()
		b.replaceGoal()
		b.input.Manual = kinematics.VelocityCommand{}
		b.pipe.NavigateTo(navigation.Goal{X: x, Y: y, Theta: rdkutils.DegToRad(thetaDeg)})
		b.mu.Unlock()
		return map[string]interface{}{"return": "navigate_to command processed"}, nil

	case "stop_navigation":
		b.opMgr.CancelRunning(ctx)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.replaceGoal()
		if err := b.pipe.StopNavigation(ctx); err != nil {
			return nil, err
		}
		return map[string]interface{}{"return": "stop_navigation command processed"}, nil

	case "reset_pose":
		x, err := optionalFloatArg(cmd, "x", 0)
		if err != nil {
			return nil, err
		}
		y, err := optionalFloatArg(cmd, "y", 0)
		if err != nil {
			return nil, err
		}
		thetaDeg, err := optionalFloatArg(cmd, "theta_deg", 0)
		if err != nil {
			return nil, err
		}
		if _, given := cmd["theta_deg"]; given && b.hw.IMU != nil {
			b.logger.Warnw("reset_pose heading is replaced by the movement sensor yaw on the next tick",
				"theta_deg", thetaDeg)
		}
		b.mu.Lock()
		b.pipe.ResetPose(ctx, odometry.Pose2D{X: x, Y: y, Theta: odometry.NormalizeAngle(rdkutils.DegToRad(thetaDeg))})
		b.mu.Unlock()
		return map[string]interface{}{"return": "reset_pose command processed"}, nil

	case "toggle_collision_override":
		b.mu.Lock()
		on := b.pipe.ToggleCollisionOverride()
		b.mu.Unlock()
		return map[string]interface{}{"return": on}, nil

	case "set_obstacle_detected":
		detected, err := boolArg(cmd, "detected")
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.input.ObstacleDetected = detected
		b.mu.Unlock()
		return map[string]interface{}{"return": "set_obstacle_detected command processed"}, nil

	case "set_target_bearing":
		bearing := reading.Missing[float64]()
		if raw, ok := cmd["bearing_deg"]; ok && raw != nil {
			v, ok := raw.(float64)
			if !ok {
				return nil, errors.New("bearing_deg value must be a float or null")
			}
			bearing = reading.Of(v)
		}
		b.mu.Lock()
		b.input.TargetBearingDeg = bearing
		b.mu.Unlock()
		return map[string]interface{}{"return": "set_target_bearing command processed"}, nil

	case "set_vision_assist":
		on, err := boolArg(cmd, "on")
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.input.VisionAssist = on
		b.mu.Unlock()
		return map[string]interface{}{"return": "set_vision_assist command processed"}, nil

	case "set_slow_mode":
		on, err := boolArg(cmd, "on")
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.input.SlowMode = on
		b.mu.Unlock()
		return map[string]interface{}{"return": "set_slow_mode command processed"}, nil

	case "get_telemetry":
		return b.telemetry(), nil

	default:
		return nil, fmt.Errorf("no such command: %s", name)
	}
}

func (b *mecanumBase) telemetry() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.status.Map()
	m["slow_mode"] = b.input.SlowMode
	m["vision_assist"] = b.input.VisionAssist
	m["obstacle_detected"] = b.input.ObstacleDetected
	if br, ok := b.hw.Drivetrain.(batteryReporter); ok {
		if soc, ok := br.StateOfCharge().Get(); ok {
			m["state_of_charge"] = soc
		}
	}
	if wr, ok := b.hw.Drivetrain.(wheelSpeedReporter); ok {
		rpms := wr.WheelRPM()
		wheelRPM := make([]interface{}, len(rpms))
		for i, rpm := range rpms {
			wheelRPM[i] = rpm
		}
		m["wheel_rpm"] = wheelRPM
	}
	return m
}

func floatArg(cmd map[string]interface{}, key string) (float64, error) {
	raw, ok := cmd[key]
	if !ok {
		return 0, errors.Errorf("%s must be set and a float value", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, errors.Errorf("%s value must be a float but is type %T", key, raw)
	}
	return v, nil
}

func optionalFloatArg(cmd map[string]interface{}, key string, def float64) (float64, error) {
	if _, ok := cmd[key]; !ok {
		return def, nil
	}
	return floatArg(cmd, key)
}

func boolArg(cmd map[string]interface{}, key string) (bool, error) {
	raw, ok := cmd[key]
	if !ok {
		return false, errors.Errorf("%s must be set and a boolean value", key)
	}
	v, ok := raw.(bool)
	if !ok {
		return false, errors.Errorf("%s value must be a boolean", key)
	}
	return v, nil
}
