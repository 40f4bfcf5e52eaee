package metrickeys

const (
	Prefix = "taskweave."

	// Tasks
	TaskCreated   = Prefix + "task.created"
	TaskCompleted = Prefix + "task.completed"

	// Transitions
	TransitionApplied  = Prefix + "transition.applied"
	TransitionRejected = Prefix + "transition.rejected"
	SequenceConflicts  = Prefix + "transition.sequence_conflicts"
	TransitionDuration = Prefix + "transition.duration"

	// Events
	EventsAppended = Prefix + "events.appended"

	// Hooks
	HookInvocations = Prefix + "hook.invocations"
	HookFailures    = Prefix + "hook.failures"

	// Snapshot cache
	SnapshotCacheSize     = Prefix + "snapshot.cache.size"
	SnapshotCacheEviction = Prefix + "snapshot.cache.eviction"

	// SLA monitor
	SLAEvaluations = Prefix + "sla.evaluations"
	SLABreaches    = Prefix + "sla.breaches"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Reason for evicting an entry from the snapshot cache
	EvictionReason = "reason"

	Tenant   = "tenant"
	TaskType = "task_type"
	Action   = "action"
	Rejected = "reason"
	Hook     = "hook"
)
