package recovery

import "errors"

var (
	// ErrExhausted indicates that the lifetime recovery budget is spent and the
	// process should exit so its supervisor can restart it.
	ErrExhausted = errors.New("recovery: attempts exhausted")

	// ErrInvalidTransition indicates a state change the state machine does not allow.
	ErrInvalidTransition = errors.New("recovery: invalid state transition")

	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("recovery: config is nil")
)
