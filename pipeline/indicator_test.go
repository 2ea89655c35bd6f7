package pipeline

import (
	"testing"

	"go.viam.com/test"

	"github.com/intermode/modal-mecanum/hardware"
	"github.com/intermode/modal-mecanum/reading"
	"github.com/intermode/modal-mecanum/safety"
)

func TestSelectPattern(t *testing.T) {
	cfg := DefaultConfig()
	near := safety.CollisionState{DistanceCm: reading.Of(120.0)}
	far := safety.CollisionState{DistanceCm: reading.Of(300.0)}
	warn := safety.CollisionState{DistanceCm: reading.Of(40.0), WarningActive: true}

	for _, tc := range []struct {
		name   string
		scale  float64
		state  safety.CollisionState
		locked bool
		want   hardware.Pattern
	}{
		{"nothing", 1, safety.CollisionState{}, false, hardware.PatternIdle},
		{"far", 1, far, false, hardware.PatternIdle},
		{"in_range", 1, near, false, hardware.PatternInRange},
		{"locked_beats_range", 1, near, true, hardware.PatternTargetLocked},
		{"warning_beats_locked", 0.2, warn, true, hardware.PatternWarning},
		{"stop_beats_warning", 0.005, warn, true, hardware.PatternEmergency},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, SelectPattern(tc.scale, tc.state, tc.locked, cfg), test.ShouldEqual, tc.want)
		})
	}
}
