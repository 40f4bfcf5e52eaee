package core

import "fmt"

// TenantID identifies the tenant a task and its workflow definitions belong
// to. Task histories from different tenants are fully independent.
type TenantID string

// TaskType selects the workflow definition governing a task's lifecycle.
type TaskType string

// TaskID is the tenant-scoped identity of a task.
type TaskID struct {
	Tenant TenantID `json:"tenant,omitempty"`
	ID     string   `json:"id,omitempty"`
}

func NewTaskID(tenant TenantID, id string) TaskID {
	return TaskID{
		Tenant: tenant,
		ID:     id,
	}
}

func (t TaskID) String() string {
	return fmt.Sprintf("%v/%v", t.Tenant, t.ID)
}
