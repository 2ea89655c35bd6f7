package mecanumbase

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/intermode/modal-mecanum/hardware"
)

// orientationSource is the part of a movementsensor.MovementSensor the base reads.
type orientationSource interface {
	Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error)
}

// readingsSource is the part of a sensor.Sensor the base reads.
type readingsSource interface {
	Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error)
}

// movementSensorIMU reports a movement sensor's orientation in degrees.
type movementSensorIMU struct {
	ms orientationSource
}

func (m movementSensorIMU) ReadOrientation(ctx context.Context) (hardware.Orientation, error) {
	o, err := m.ms.Orientation(ctx, nil)
	if err != nil {
		return hardware.Orientation{}, err
	}
	if o == nil {
		return hardware.Orientation{}, hardware.ErrUnavailable
	}
	e := o.EulerAngles()
	return hardware.Orientation{
		PitchDeg: rdkutils.RadToDeg(e.Pitch),
		RollDeg:  rdkutils.RadToDeg(e.Roll),
		YawDeg:   rdkutils.RadToDeg(e.Yaw),
	}, nil
}

// rangeSensor reads the "distance" reading, in meters, of a distance sensor such as the
// ultrasonic component.
type rangeSensor struct {
	s readingsSource
}

func (r rangeSensor) ReadDistanceCm(ctx context.Context) (float64, error) {
	readings, err := r.s.Readings(ctx, nil)
	if err != nil {
		return 0, err
	}
	raw, ok := readings["distance"]
	if !ok {
		return 0, errors.Wrap(hardware.ErrUnavailable, "no distance in readings")
	}
	var meters float64
	switch v := raw.(type) {
	case float64:
		meters = v
	case float32:
		meters = float64(v)
	case int:
		meters = float64(v)
	default:
		return 0, errors.Errorf("distance reading has unexpected type %T", raw)
	}
	if math.IsNaN(meters) || math.IsInf(meters, 0) {
		return 0, errors.Wrap(hardware.ErrUnavailable, "distance out of range")
	}
	return meters * 100, nil
}
