package controlplane

import (
	"errors"

	"github.com/fentz26/utimer/internal/timers"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrTaskNotFound      = timers.ErrTaskNotFound
	ErrInvalidDuration   = timers.ErrInvalidDuration
	ErrInvalidTransition = timers.ErrInvalidTransition
)
