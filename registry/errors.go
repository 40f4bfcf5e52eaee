package registry

import (
	"fmt"

	"github.com/taskweave/taskweave/core"
)

type ErrDefinitionNotFound struct {
	Tenant   core.TenantID
	TaskType core.TaskType

	// Version is 0 when the latest version was requested
	Version int
}

func (e *ErrDefinitionNotFound) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("no definition version %d for task type %q of tenant %q", e.Version, e.TaskType, e.Tenant)
	}

	return fmt.Sprintf("no definition for task type %q of tenant %q", e.TaskType, e.Tenant)
}
