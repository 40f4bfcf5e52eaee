package history

import "github.com/taskweave/taskweave/core"

type TaskCreatedAttributes struct {
	TaskType core.TaskType `json:"task_type,omitempty"`

	// InitialState is the workflow definition's initial state the task
	// starts in.
	InitialState string `json:"initial_state,omitempty"`

	Assignees []string `json:"assignees,omitempty"`

	Metadata core.Metadata `json:"metadata,omitempty"`
}
