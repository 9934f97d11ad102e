package scheduler

import "errors"

// Sentinel errors for the scheduler package.
var (
	ErrKilled            = errors.New("scheduler: killed")
	ErrDuplicateTask     = errors.New("scheduler: task already registered")
	ErrTaskNotRegistered = errors.New("scheduler: task not registered")
	ErrInvalidRate       = errors.New("scheduler: rate must be positive")
	ErrInvalidTask       = errors.New("scheduler: task needs a name and a run function")
)
