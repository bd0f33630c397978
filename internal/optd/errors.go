// Package optd is the optimization job engine daemon: job store, scheduler,
// worker pool, run loop, event broadcasting and the HTTP API.
package optd

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrScenarioNotFound = errors.New("scenario not found")
	ErrAlreadyRunning   = errors.New("scenario already has an active job")
	ErrInvalidState     = errors.New("invalid status transition")
	ErrJobNotTerminal   = errors.New("job is not terminal")
	ErrResultNotReady   = errors.New("results not available")
	ErrJobIDMissing     = errors.New("job_id is required")
)

// Error kinds recorded on failed jobs and returned over the API.
const (
	ErrorKindValidation = "validation"
	ErrorKindObjective  = "objective_evaluation"
	ErrorKindRunner     = "runner_fault"
)

// ValidationError rejects a malformed submission before a job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ObjectiveEvaluationError wraps a failure inside the injected physics model.
// Any single evaluation failure fails the whole job.
type ObjectiveEvaluationError struct {
	Iteration int
	Err       error
}

func (e *ObjectiveEvaluationError) Error() string {
	return fmt.Sprintf("objective evaluation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *ObjectiveEvaluationError) Unwrap() error { return e.Err }

// RunnerFault is an internal engine failure, distinct from a model failure:
// ledger violations, store corruption, algorithm construction errors.
type RunnerFault struct {
	Reason string
	Err    error
}

func (e *RunnerFault) Error() string {
	if e.Err == nil {
		return "runner fault: " + e.Reason
	}
	return fmt.Sprintf("runner fault: %s: %v", e.Reason, e.Err)
}

func (e *RunnerFault) Unwrap() error { return e.Err }
