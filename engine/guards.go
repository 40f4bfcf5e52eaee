package engine

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
)

// PermissionChecker is the external RBAC collaborator. Permission-set
// algebra is out of scope; the engine only asks yes/no questions.
type PermissionChecker interface {
	HasPermission(ctx context.Context, actor string, action workflow.Action, task core.TaskID) (bool, error)
}

// PermissionGuard adapts the RBAC collaborator into a guard that can be
// attached to transitions requiring a permission check.
func PermissionGuard(pc PermissionChecker) workflow.Guard {
	return workflow.GuardFunc(func(ctx context.Context, gc *workflow.GuardContext) error {
		ok, err := pc.HasPermission(ctx, gc.Actor, gc.Action, gc.Task)
		if err != nil {
			return fmt.Errorf("permission check failed: %w", err)
		}

		if !ok {
			return fmt.Errorf("actor %q lacks permission for action %q", gc.Actor, gc.Action)
		}

		return nil
	})
}

// AssigneeGuard rejects transitions requested by actors not assigned to the
// task.
func AssigneeGuard() workflow.Guard {
	return workflow.GuardFunc(func(ctx context.Context, gc *workflow.GuardContext) error {
		for _, a := range gc.Assignees {
			if a == gc.Actor {
				return nil
			}
		}

		return fmt.Errorf("actor %q is not assigned to task %v", gc.Actor, gc.Task)
	})
}
