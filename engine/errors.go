package engine

import (
	"errors"
	"fmt"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
)

// IllegalTransitionError indicates that the requested action is not defined
// for the task's current state. Retrying without changing the task will
// never succeed.
type IllegalTransitionError struct {
	State  workflow.State
	Action workflow.Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("no transition for action %q from state %q", e.Action, e.State)
}

// GuardRejectedError indicates that a guard attached to the transition
// rejected it. No partial state change occurred.
type GuardRejectedError struct {
	Reason string

	err error
}

func (e *GuardRejectedError) Error() string {
	return fmt.Sprintf("guard rejected transition: %s", e.Reason)
}

func (e *GuardRejectedError) Unwrap() error {
	return e.err
}

// DependencyUnsatisfiedError indicates that the transition requires all
// blocking tasks to be in a successful terminal state and at least one is
// not.
type DependencyUnsatisfiedError struct {
	Task     core.TaskID
	Blocking []core.TaskID
}

func (e *DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("task %v is blocked by %d unfinished dependencies", e.Task, len(e.Blocking))
}

// IsRetryable reports whether the error is an optimistic-concurrency
// collision that may succeed after re-reading the snapshot, as opposed to a
// validation error that will never succeed unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, backend.ErrSequenceConflict)
}
