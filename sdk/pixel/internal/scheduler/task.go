package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of one task invocation.
type Outcome int

const (
	// Success resets the task's consecutive error count.
	Success Outcome = iota
	// Skip means there was nothing to do; error bookkeeping is untouched.
	Skip
	// Failure increments the error count and evaluates the failure policy.
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skip:
		return "skip"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FailurePolicy decides how the scheduler reacts to a failing task.
type FailurePolicy int

const (
	// Continue logs the failure and keeps scheduling the task.
	Continue FailurePolicy = iota
	// Retry keeps scheduling until RetryThreshold consecutive failures,
	// then kills the whole scheduler.
	Retry
	// StopExecution kills the whole scheduler on the first failure.
	StopExecution
)

// RetryThreshold is the number of consecutive failures a Retry task may
// accumulate before the scheduler is killed.
const RetryThreshold = 3

func (p FailurePolicy) String() string {
	switch p {
	case Continue:
		return "continue"
	case Retry:
		return "retry"
	case StopExecution:
		return "stop"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// TaskFunc is a recurring unit of work. A non-nil error counts as Failure
// whatever outcome is returned.
type TaskFunc func(ctx context.Context) (Outcome, error)

// Task describes a recurring task to register with the scheduler.
type Task struct {
	// Name identifies the task; it must be unique within a scheduler.
	Name string

	// Rate is the maximum invocation frequency in Hz.
	Rate float64

	// Policy applies when the task fails.
	Policy FailurePolicy

	// Run is invoked at most Rate times per second.
	Run TaskFunc
}

// TaskStats is a snapshot of a registered task's bookkeeping.
type TaskStats struct {
	Name     string
	Errors   int
	Runs     int
	LastFire time.Time
	Running  bool
}

// entry is the scheduler's mutable record for a registered task.
type entry struct {
	task     Task
	interval time.Duration
	lastFire time.Time
	fired    bool
	running  bool
	errors   int
	runs     int
}

func newEntry(t Task) *entry {
	return &entry{
		task:     t,
		interval: time.Duration(float64(time.Second) / t.Rate),
	}
}

// due reports whether the task may fire at now.
func (e *entry) due(now time.Time) bool {
	if e.running {
		return false
	}
	if !e.fired {
		return true
	}
	return now.Sub(e.lastFire) >= e.interval
}

func (e *entry) stats() TaskStats {
	return TaskStats{
		Name:     e.task.Name,
		Errors:   e.errors,
		Runs:     e.runs,
		LastFire: e.lastFire,
		Running:  e.running,
	}
}
