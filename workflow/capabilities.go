package workflow

import (
	"context"
	"time"

	"github.com/taskweave/taskweave/core"
)

// GuardContext is the information a guard may base its decision on. It is a
// copy of the snapshot the transition was validated against; mutating it has
// no effect on the task.
type GuardContext struct {
	Task     core.TaskID
	TaskType core.TaskType

	Actor  string
	Action Action
	From   State
	To     State

	Assignees    []string
	Dependencies []core.TaskID
	Payload      core.Metadata
}

// Guard is a predicate that must hold for a transition to be allowed. A nil
// return allows the transition; a non-nil error rejects it with the error's
// message as the reason. Guards must not have side effects, they may run
// again on retry after a sequence conflict.
type Guard interface {
	Evaluate(ctx context.Context, gc *GuardContext) error
}

// GuardFunc adapts a plain function to the Guard interface.
type GuardFunc func(ctx context.Context, gc *GuardContext) error

func (f GuardFunc) Evaluate(ctx context.Context, gc *GuardContext) error {
	return f(ctx, gc)
}

// HookContext describes the committed transition a hook runs after. The
// event is durable by the time any hook sees it.
type HookContext struct {
	Task     core.TaskID
	TaskType core.TaskType

	Actor      string
	Action     Action
	From       State
	To         State
	SequenceID int64
	Timestamp  time.Time

	Payload core.Metadata
}

// Hook is a side effect triggered after a transition commits. Hook failures
// are reported as warnings and never roll back the recorded transition.
type Hook interface {
	// Name identifies the hook in warnings and logs
	Name() string

	Run(ctx context.Context, hc *HookContext) error
}

type hookFunc struct {
	name string
	f    func(ctx context.Context, hc *HookContext) error
}

func (h *hookFunc) Name() string {
	return h.name
}

func (h *hookFunc) Run(ctx context.Context, hc *HookContext) error {
	return h.f(ctx, hc)
}

// HookFunc adapts a named function to the Hook interface.
func HookFunc(name string, f func(ctx context.Context, hc *HookContext) error) Hook {
	return &hookFunc{name: name, f: f}
}

// Notification is what the engine hands to the external notification
// collaborator after an event commits or an SLA breach is detected.
type Notification struct {
	Task     core.TaskID
	TaskType core.TaskType

	// Kind is "event" for committed transitions and "escalation" for SLA
	// breaches.
	Kind string

	State      State
	Action     Action
	Actor      string
	SequenceID int64
	Timestamp  time.Time

	Payload core.Metadata
}

// NotificationChannel is the external notification collaborator. Publishing
// is fire-and-forget from the engine's point of view; delivery mechanics are
// out of scope.
type NotificationChannel interface {
	Publish(ctx context.Context, n *Notification) error
}
