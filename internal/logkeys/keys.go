package logkeys

const (
	NamespaceKey = "taskweave"

	TaskIDKey   = NamespaceKey + ".task.id"
	TenantKey   = NamespaceKey + ".task.tenant"
	TaskTypeKey = NamespaceKey + ".task.type"

	ActionKey = NamespaceKey + ".transition.action"
	FromKey   = NamespaceKey + ".transition.from"
	ToKey     = NamespaceKey + ".transition.to"
	ActorKey  = NamespaceKey + ".transition.actor"

	SeqIDKey             = NamespaceKey + ".seq_id"
	EventTypeKey         = NamespaceKey + ".event.type"
	EventIDKey           = NamespaceKey + ".event.id"
	DefinitionVersionKey = NamespaceKey + ".definition.version"

	HookKey     = NamespaceKey + ".hook"
	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"

	// NowKey is the evaluation time used by the SLA monitor
	NowKey = NamespaceKey + ".sla.now"
	// ThresholdKey is the SLA threshold configured for the current state
	ThresholdKey = NamespaceKey + ".sla.threshold"
)
