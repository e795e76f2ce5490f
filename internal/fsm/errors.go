package fsm

import "github.com/pkg/errors"

var (
	// ErrInvalidTransition means a requested transition is not in the
	// transition table for the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMissingCapability means a command requires hardware the node
	// does not have. Forces ERROR, recoverable via Reset.
	ErrMissingCapability = errors.New("node lacks required hardware capability")

	// ErrValidation means a command was malformed or unknown. State is
	// left unchanged.
	ErrValidation = errors.New("invalid command")
)
