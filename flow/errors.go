package flow

import "errors"

var (
	// ErrConfig marks a validation failure: the flow does not start.
	ErrConfig = errors.New("invalid flow")
	// ErrBadLoop is returned when task.loop does not render to an array.
	ErrBadLoop = errors.New("loop does not render to an array")
	// ErrUnknownFlow is returned by the trigger for unknown flow names.
	ErrUnknownFlow = errors.New("unknown flow")
)
