package timers

import "errors"

// Sentinel errors for lifecycle operations.
var (
	ErrTaskNotFound      = errors.New("timer task not found")
	ErrInvalidDuration   = errors.New("duration must be between one second and about 292 years")
	ErrInvalidTransition = errors.New("invalid status transition")
)
