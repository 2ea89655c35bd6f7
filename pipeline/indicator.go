package pipeline

import (
	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/safety"
)

// SelectPattern picks the indicator pattern for this tick. A stop-level collision scale
// wins over a warning, which wins over a locked vision target, which wins over range.
func SelectPattern(collisionScale float64, c safety.CollisionState, targetLocked bool, cfg Config) hardware.Pattern {
	switch {
	case collisionScale <= cfg.Collision.StopScale+0.01:
		return hardware.PatternEmergency
	case c.WarningActive:
		return hardware.PatternWarning
	case targetLocked:
		return hardware.PatternTargetLocked
	}
	if d, ok := c.DistanceCm.Get(); ok && d <= cfg.IndicatorRangeCm {
		return hardware.PatternInRange
	}
	return hardware.PatternIdle
}
