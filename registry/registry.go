package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
)

// VersionedDefinition is an immutable, registered definition version.
// Versions start at 1 per (tenant, task type) and only ever grow; replacing
// a definition never retroactively alters how already-applied events were
// validated.
type VersionedDefinition struct {
	*workflow.Definition

	Tenant   core.TenantID
	TaskType core.TaskType
	Version  int
}

type definitionKey struct {
	tenant   core.TenantID
	taskType core.TaskType
}

// Registry holds, per task type and tenant, the versioned workflow
// definitions. Reads are lock-free once a version is resolved: resolved
// definitions are immutable values, so a transition in progress keeps using
// the version it resolved even if a concurrent registration completes.
type Registry struct {
	mu sync.RWMutex

	definitions map[definitionKey][]*VersionedDefinition
	liveUpgrade map[core.TenantID]bool
}

type Option func(*Registry)

// WithLiveUpgrade opts the given tenants into live-upgrade resolution:
// in-flight tasks of these tenants are validated against the latest
// registered definition version instead of the version pinned at creation.
func WithLiveUpgrade(tenants ...core.TenantID) Option {
	return func(r *Registry) {
		for _, t := range tenants {
			r.liveUpgrade[t] = true
		}
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		definitions: make(map[definitionKey][]*VersionedDefinition),
		liveUpgrade: make(map[core.TenantID]bool),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register validates the definition and stores it as the next version for
// (tenant, taskType). The definition must not be mutated afterwards.
func (r *Registry) Register(ctx context.Context, tenant core.TenantID, taskType core.TaskType, def *workflow.Definition) (int, error) {
	if err := def.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := definitionKey{tenant: tenant, taskType: taskType}
	version := len(r.definitions[key]) + 1

	r.definitions[key] = append(r.definitions[key], &VersionedDefinition{
		Definition: def,
		Tenant:     tenant,
		TaskType:   taskType,
		Version:    version,
	})

	return version, nil
}

// Resolve returns the latest active definition for (tenant, taskType).
func (r *Registry) Resolve(ctx context.Context, tenant core.TenantID, taskType core.TaskType) (*VersionedDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.definitions[definitionKey{tenant: tenant, taskType: taskType}]
	if len(versions) == 0 {
		return nil, &ErrDefinitionNotFound{Tenant: tenant, TaskType: taskType}
	}

	return versions[len(versions)-1], nil
}

// ResolveVersion returns a specific definition version, as recorded in a
// task's events. Required to replay history exactly as it was decided.
func (r *Registry) ResolveVersion(ctx context.Context, tenant core.TenantID, taskType core.TaskType, version int) (*VersionedDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.definitions[definitionKey{tenant: tenant, taskType: taskType}]
	if version < 1 || version > len(versions) {
		return nil, &ErrDefinitionNotFound{Tenant: tenant, TaskType: taskType, Version: version}
	}

	return versions[version-1], nil
}

// LiveUpgrade reports whether the tenant validates in-flight tasks against
// the latest definition version instead of the pinned one.
func (r *Registry) LiveUpgrade(tenant core.TenantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.liveUpgrade[tenant]
}

func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return fmt.Sprintf("registry with %d definition sets", len(r.definitions))
}
