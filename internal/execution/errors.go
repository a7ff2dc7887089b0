package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrNilConfig is returned when the configuration is nil.
	ErrNilConfig = errors.New("execution mode config is nil")

	// ErrNilWorkload is returned when no workload is configured.
	ErrNilWorkload = errors.New("workload is nil")

	// ErrNoStages is returned when no stages are defined for ramping modes.
	ErrNoStages = errors.New("no stages defined for ramping mode")

	// ErrNegativeTarget is returned when a stage target is below zero.
	ErrNegativeTarget = errors.New("stage target must not be negative")

	// ErrInvalidStageDuration is returned for negative durations or a zero duration
	// on a stage that is not the last one.
	ErrInvalidStageDuration = errors.New("stage duration must be positive")

	// ErrNegativeGracefulRampDown is returned when gracefulRampDown is below zero.
	ErrNegativeGracefulRampDown = errors.New("graceful ramp down must not be negative")

	// ErrModeAlreadyRunning is returned when trying to start a mode that is already running.
	ErrModeAlreadyRunning = errors.New("execution mode is already running")

	// ErrPoolNotStarted is returned when scaling a pool before Start.
	ErrPoolNotStarted = errors.New("vu pool is not started")

	// ErrPoolStopped is returned when scaling a pool that has been stopped.
	ErrPoolStopped = errors.New("vu pool is stopped")

	// ErrRequestTimeout marks an iteration that exceeded the per-request timeout.
	ErrRequestTimeout = errors.New("request timeout")
)

// WorkloadError wraps a failure raised by the workload during one iteration.
// It is recorded as a failed sample and never stops the worker.
type WorkloadError struct {
	VU        int
	Iteration int64
	Err       error
	Panic     any
}

func (e *WorkloadError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("vu %d iteration %d: workload panic: %v", e.VU, e.Iteration, e.Panic)
	}
	return fmt.Sprintf("vu %d iteration %d: %v", e.VU, e.Iteration, e.Err)
}

func (e *WorkloadError) Unwrap() error {
	return e.Err
}
