// Package fsm implements the per-node experiment state machine: command
// dispatch gated by hardware capability, phase transitions through
// calibration/test/run/post-process/done, and abort and error recovery.
// A Manager instance is a single logical actor; message handling must be
// serialized by the caller (the MQTT dispatch loop already is).
package fsm

// State is one experiment phase.
type State int

// Experiment phases. BOOT is initial; IDLE is the safe resting state.
const (
	StateBoot State = iota
	StateIdle
	StateCalibrating
	StateTestingSensor
	StateConfigureValidate
	StateConfigurePending
	StateTestingActuator
	StateRunning
	StatePostProcess
	StateDone
	StateError
)

var stateNames = map[State]string{
	StateBoot:              "BOOT",
	StateIdle:              "IDLE",
	StateCalibrating:       "CALIBRATING",
	StateTestingSensor:     "TESTING_SENSOR",
	StateConfigureValidate: "CONFIGURE_VALIDATE",
	StateConfigurePending:  "CONFIGURE_PENDING",
	StateTestingActuator:   "TESTING_ACTUATOR",
	StateRunning:           "RUNNING",
	StatePostProcess:       "POST_PROCESS",
	StateDone:              "DONE",
	StateError:             "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CanTransition reports whether the transition table allows from→to.
// IDLE and ERROR are additionally reachable from any state (Reset and
// fault paths).
func CanTransition(from, to State) bool {
	if to == StateIdle || to == StateError {
		return true
	}

	switch from {
	case StateBoot:
		return false // only IDLE, covered above
	case StateIdle:
		return to == StateCalibrating || to == StateTestingSensor || to == StateConfigureValidate
	case StateCalibrating:
		// Multi-step accumulation re-enters CALIBRATING.
		return to == StateCalibrating
	case StateTestingSensor:
		return false
	case StateConfigureValidate:
		return to == StateConfigurePending
	case StateConfigurePending:
		return to == StateTestingActuator || to == StateRunning
	case StateTestingActuator:
		return false
	case StateRunning:
		return to == StatePostProcess
	case StatePostProcess:
		return to == StateDone || to == StateRunning
	case StateDone:
		return false
	case StateError:
		return false
	default:
		return false
	}
}
