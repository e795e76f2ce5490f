package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNames(t *testing.T) {
	assert.Equal(t, "BOOT", StateBoot.String())
	assert.Equal(t, "CONFIGURE_PENDING", StateConfigurePending.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestCanTransition(t *testing.T) {
	// IDLE and ERROR are reachable from anywhere.
	for s := StateBoot; s <= StateError; s++ {
		assert.True(t, CanTransition(s, StateIdle), s.String())
		assert.True(t, CanTransition(s, StateError), s.String())
	}

	allowed := []struct{ from, to State }{
		{StateIdle, StateCalibrating},
		{StateIdle, StateTestingSensor},
		{StateIdle, StateConfigureValidate},
		{StateCalibrating, StateCalibrating},
		{StateConfigureValidate, StateConfigurePending},
		{StateConfigurePending, StateTestingActuator},
		{StateConfigurePending, StateRunning},
		{StateRunning, StatePostProcess},
		{StatePostProcess, StateDone},
		{StatePostProcess, StateRunning},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to State }{
		{StateBoot, StateRunning},
		{StateIdle, StateRunning},
		{StateIdle, StateConfigurePending},
		{StateCalibrating, StateRunning},
		{StateRunning, StateDone},
		{StateDone, StateRunning},
		{StateError, StateRunning},
		{StateTestingSensor, StateCalibrating},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
