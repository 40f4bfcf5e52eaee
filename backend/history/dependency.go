package history

import "github.com/taskweave/taskweave/core"

type DependencyAddedAttributes struct {
	// DependsOn is the task that blocks the task this event belongs to.
	DependsOn core.TaskID `json:"depends_on,omitempty"`
}

type DependencyRemovedAttributes struct {
	DependsOn core.TaskID `json:"depends_on,omitempty"`
}
