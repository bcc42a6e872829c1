package scheduler

import "fmt"

// PlanningError is a fatal planning failure: the plan cannot be turned
// into a runnable graph (cycle, unknown dependency). It fails the whole
// task, unlike subtask failures which stay contained in the wave loop.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error: %s", e.Reason)
}

// BackendError wraps a subtask execution failure with the backend that
// produced it.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
