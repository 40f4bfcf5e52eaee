package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/logkeys"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/internal/metrics"
	m "github.com/taskweave/taskweave/metrics"
	"github.com/taskweave/taskweave/projection"
	"github.com/taskweave/taskweave/registry"
	"github.com/taskweave/taskweave/workflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	notifier workflow.NotificationChannel

	hookWait    time.Duration
	hookTimeout time.Duration
	hookRetries uint64

	publishTimeout time.Duration
}

type Option func(*options)

// WithNotificationChannel sets the external notification collaborator
// committed events and escalations are published to.
func WithNotificationChannel(ch workflow.NotificationChannel) Option {
	return func(o *options) {
		o.notifier = ch
	}
}

// WithHookWait bounds how long ApplyTransition waits for hooks before
// returning. Hooks still running keep going in the background and report
// failures through the logger instead of the outcome.
func WithHookWait(d time.Duration) Option {
	return func(o *options) {
		o.hookWait = d
	}
}

// WithHookTimeout bounds the execution of a single hook, including retries.
func WithHookTimeout(d time.Duration) Option {
	return func(o *options) {
		o.hookTimeout = d
	}
}

// WithHookRetries sets how often a failing hook is retried with exponential
// backoff before its failure becomes a warning.
func WithHookRetries(n uint64) Option {
	return func(o *options) {
		o.hookRetries = n
	}
}

// Engine validates and applies requested transitions against the current
// snapshot and the active workflow definition, and appends the resulting
// events. Safe for concurrent use; callers operating on different tasks
// need no coordination, concurrent writers to the same task race on the
// event log's sequence gate.
type Engine struct {
	log       backend.EventLog
	registry  *registry.Registry
	projector *projection.Projector

	logger *slog.Logger
	mc     m.Client
	tracer trace.Tracer
	clock  clock.Clock

	options *options

	wg sync.WaitGroup
}

func New(log backend.EventLog, reg *registry.Registry, proj *projection.Projector, opts ...Option) *Engine {
	o := &options{
		hookWait:       5 * time.Second,
		hookTimeout:    30 * time.Second,
		hookRetries:    3,
		publishTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	lo := log.Options()

	return &Engine{
		log:       log,
		registry:  reg,
		projector: proj,
		logger:    lo.Logger,
		mc:        lo.Metrics,
		tracer:    lo.TracerProvider.Tracer(backend.TracerName),
		clock:     lo.Clock,
		options:   o,
	}
}

// HookWarning reports a hook that failed after the transition had already
// committed. The transition itself succeeded.
type HookWarning struct {
	Hook string
	Err  error
}

type TransitionOutcome struct {
	Task core.TaskID

	From   workflow.State
	To     workflow.State
	Action workflow.Action
	Actor  string

	SequenceID int64

	// Terminal is set when the transition entered a terminal state
	Terminal bool

	Event *history.Event

	HookWarnings []HookWarning
}

// ApplyTransition validates the requested action against the task's current
// snapshot and its workflow definition, appends the resulting event, and
// runs the transition's hooks. The event append is the sole mutation point:
// before it, failing or canceling has no visible effect; after it, the
// transition is durable and hook failures surface only as warnings.
func (e *Engine) ApplyTransition(ctx context.Context, task core.TaskID, action workflow.Action, actor string, payload core.Metadata) (*TransitionOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "ApplyTransition", trace.WithAttributes(
		attribute.String("taskweave.task.id", task.ID),
		attribute.String("taskweave.task.tenant", string(task.Tenant)),
		attribute.String("taskweave.transition.action", string(action)),
	))
	defer span.End()

	timer := metrics.NewTimer(e.mc, metrickeys.TransitionDuration, m.Tags{metrickeys.Tenant: string(task.Tenant)})
	defer timer.Stop()

	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return nil, err
	}

	def, err := e.resolveDefinition(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	t := def.Transition(snapshot.State, action)
	if t == nil {
		e.countRejected(task, action, "illegal")
		return nil, &IllegalTransitionError{State: snapshot.State, Action: action}
	}

	gc := &workflow.GuardContext{
		Task:         task,
		TaskType:     snapshot.TaskType,
		Actor:        actor,
		Action:       action,
		From:         snapshot.State,
		To:           t.Target,
		Assignees:    snapshot.Assignees,
		Dependencies: snapshot.Dependencies,
		Payload:      payload,
	}

	for _, g := range t.Guards {
		if gerr := g.Evaluate(ctx, gc); gerr != nil {
			e.countRejected(task, action, "guard")
			return nil, &GuardRejectedError{Reason: gerr.Error(), err: gerr}
		}
	}

	if t.RequiresDependencies || def.IsTerminal(t.Target) {
		if derr := e.checkDependencies(ctx, task, snapshot.Dependencies); derr != nil {
			e.countRejected(task, action, "dependency")
			return nil, derr
		}
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_TransitionApplied,
		&history.TransitionAppliedAttributes{
			PriorState:     string(snapshot.State),
			Action:         string(action),
			ResultingState: string(t.Target),
			Terminal:       def.IsTerminal(t.Target),
			Failure:        def.IsFailed(t.Target),
			Payload:        payload,
		},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(def.Version),
	)

	if err := e.append(ctx, task, event); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.logger.Debug("applied transition",
		logkeys.TaskIDKey, task.String(),
		logkeys.ActionKey, string(action),
		logkeys.FromKey, string(snapshot.State),
		logkeys.ToKey, string(t.Target),
		logkeys.SeqIDKey, event.SequenceID,
		logkeys.DefinitionVersionKey, def.Version,
	)

	e.mc.Counter(metrickeys.TransitionApplied, m.Tags{
		metrickeys.Tenant:   string(task.Tenant),
		metrickeys.TaskType: string(snapshot.TaskType),
		metrickeys.Action:   string(action),
	}, 1)

	if def.IsTerminal(t.Target) {
		e.mc.Counter(metrickeys.TaskCompleted, m.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)
	}

	outcome := &TransitionOutcome{
		Task:       task,
		From:       snapshot.State,
		To:         t.Target,
		Action:     action,
		Actor:      actor,
		SequenceID: event.SequenceID,
		Terminal:   def.IsTerminal(t.Target),
		Event:      event,
	}

	hc := &workflow.HookContext{
		Task:       task,
		TaskType:   snapshot.TaskType,
		Actor:      actor,
		Action:     action,
		From:       snapshot.State,
		To:         t.Target,
		SequenceID: event.SequenceID,
		Timestamp:  event.Timestamp,
		Payload:    payload,
	}
	outcome.HookWarnings = e.runHooks(ctx, t.Hooks, hc)

	e.publish(ctx, &workflow.Notification{
		Task:       task,
		TaskType:   snapshot.TaskType,
		Kind:       "event",
		State:      t.Target,
		Action:     action,
		Actor:      actor,
		SequenceID: event.SequenceID,
		Timestamp:  event.Timestamp,
		Payload:    payload,
	})

	return outcome, nil
}

type createOptions struct {
	assignees []string
	metadata  core.Metadata
}

type CreateOption func(*createOptions)

func WithAssignees(assignees ...string) CreateOption {
	return func(o *createOptions) {
		o.assignees = append(o.assignees, assignees...)
	}
}

func WithMetadata(md core.Metadata) CreateOption {
	return func(o *createOptions) {
		o.metadata = md
	}
}

// CreateTask records a new task in its workflow definition's initial state.
// The latest definition version for the tenant and task type is pinned to
// the task and governs all later transitions, unless the tenant opted into
// live upgrade.
func (e *Engine) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, actor string, opts ...CreateOption) (*projection.Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "CreateTask", trace.WithAttributes(
		attribute.String("taskweave.task.id", task.ID),
		attribute.String("taskweave.task.tenant", string(task.Tenant)),
		attribute.String("taskweave.task.type", string(taskType)),
	))
	defer span.End()

	o := &createOptions{}
	for _, opt := range opts {
		opt(o)
	}

	def, err := e.registry.Resolve(ctx, task.Tenant, taskType)
	if err != nil {
		return nil, err
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_TaskCreated,
		&history.TaskCreatedAttributes{
			TaskType:     taskType,
			InitialState: string(def.Initial),
			Assignees:    o.assignees,
			Metadata:     o.metadata,
		},
		history.WithActor(actor),
		history.WithSequenceID(1),
		history.WithDefinitionVersion(def.Version),
	)

	if err := e.log.CreateTask(ctx, task, taskType, def.Version, event); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.logger.Debug("created task",
		logkeys.TaskIDKey, task.String(),
		logkeys.TaskTypeKey, string(taskType),
		logkeys.DefinitionVersionKey, def.Version,
	)

	return e.projector.CurrentState(ctx, task)
}

func (e *Engine) resolveDefinition(ctx context.Context, snapshot *projection.Snapshot) (*registry.VersionedDefinition, error) {
	if e.registry.LiveUpgrade(snapshot.Task.Tenant) {
		return e.registry.Resolve(ctx, snapshot.Task.Tenant, snapshot.TaskType)
	}

	return e.registry.ResolveVersion(ctx, snapshot.Task.Tenant, snapshot.TaskType, snapshot.DefinitionVersion)
}

// checkDependencies verifies all blocking tasks are in a successful terminal
// state.
func (e *Engine) checkDependencies(ctx context.Context, task core.TaskID, dependencies []core.TaskID) error {
	var blocking []core.TaskID

	for _, dep := range dependencies {
		ds, err := e.projector.CurrentState(ctx, dep)
		if err != nil {
			if errors.Is(err, backend.ErrTaskNotFound) {
				blocking = append(blocking, dep)
				continue
			}

			return fmt.Errorf("could not load dependency %v: %w", dep, err)
		}

		if !ds.Terminal || ds.Failed {
			blocking = append(blocking, dep)
		}
	}

	if len(blocking) > 0 {
		return &DependencyUnsatisfiedError{Task: task, Blocking: blocking}
	}

	return nil
}

// append writes the event through the log's sequence gate and keeps the
// snapshot cache in sync with the outcome.
func (e *Engine) append(ctx context.Context, task core.TaskID, event *history.Event) error {
	if err := e.log.AppendEvent(ctx, task, event); err != nil {
		if errors.Is(err, backend.ErrSequenceConflict) {
			// Another writer won the race; drop the stale snapshot so a
			// retry re-reads current state instead of replaying stale guard
			// decisions.
			e.projector.Invalidate(task)
			e.mc.Counter(metrickeys.SequenceConflicts, m.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)
		}

		return err
	}

	e.projector.Advance(task, event)

	return nil
}

func (e *Engine) countRejected(task core.TaskID, action workflow.Action, reason string) {
	e.mc.Counter(metrickeys.TransitionRejected, m.Tags{
		metrickeys.Tenant:   string(task.Tenant),
		metrickeys.Action:   string(action),
		metrickeys.Rejected: reason,
	}, 1)
}

// Close waits for background hook and notification work to drain.
func (e *Engine) Close() error {
	e.wg.Wait()
	return nil
}
