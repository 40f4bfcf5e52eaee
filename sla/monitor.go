package sla

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/internal/logkeys"
	"github.com/taskweave/taskweave/internal/metrickeys"
	m "github.com/taskweave/taskweave/metrics"
	"github.com/taskweave/taskweave/projection"
	"github.com/taskweave/taskweave/registry"
	"github.com/taskweave/taskweave/workflow"
)

// SystemActorID is the reserved actor the monitor uses when it invokes the
// transition engine for a definition-configured auto-escalation.
const SystemActorID = "system/sla-monitor"

type options struct {
	calendar Calendar
	notifier workflow.NotificationChannel
	clock    clock.Clock
	logger   *slog.Logger
	metrics  m.Client
}

type Option func(*options)

func WithCalendar(c Calendar) Option {
	return func(o *options) {
		o.calendar = c
	}
}

func WithNotificationChannel(ch workflow.NotificationChannel) Option {
	return func(o *options) {
		o.notifier = ch
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(client m.Client) Option {
	return func(o *options) {
		o.metrics = client
	}
}

// Verdict is the result of evaluating a task's SLA clock.
type Verdict struct {
	Task  core.TaskID
	State workflow.State

	Breached bool

	// Threshold is zero when the current state has no SLA configured
	Threshold time.Duration

	// Elapsed is the accumulated active duration: working time since the
	// task left its initial state, minus paused intervals.
	Elapsed time.Duration

	// Remaining is Threshold - Elapsed; negative once breached.
	Remaining time.Duration

	// Escalated is set when this evaluation crossed into breach and raised
	// an escalation.
	Escalated bool
}

// Monitor is a derived read-model over the event log that computes elapsed
// active time per task and raises breach escalations. It never forces a
// state change itself; auto-escalation only happens through the engine when
// the workflow definition configures one.
type Monitor struct {
	engine    *engine.Engine
	registry  *registry.Registry
	projector *projection.Projector

	options *options

	mu      sync.Mutex
	watched map[string]core.TaskID
}

func NewMonitor(eng *engine.Engine, reg *registry.Registry, proj *projection.Projector, opts ...Option) *Monitor {
	o := &options{
		calendar: FullTime(),
		clock:    clock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Monitor{
		engine:    eng,
		registry:  reg,
		projector: proj,
		options:   o,
		watched:   make(map[string]core.TaskID),
	}
}

// Evaluate computes the task's SLA verdict at the given time. On a breach
// crossing it records an EscalationRaised event, publishes an escalation to
// the notification collaborator exactly once, and applies the definition's
// auto-escalation transition if one is configured for the current state.
func (mo *Monitor) Evaluate(ctx context.Context, task core.TaskID, now time.Time) (*Verdict, error) {
	snapshot, err := mo.projector.CurrentState(ctx, task)
	if err != nil {
		return nil, err
	}

	if mo.options.metrics != nil {
		mo.options.metrics.Counter(metrickeys.SLAEvaluations, m.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)
	}

	verdict := &Verdict{
		Task:  task,
		State: snapshot.State,
	}

	// The clock runs from leaving the initial state until entering any
	// terminal state.
	if snapshot.StartedAt == nil || snapshot.Terminal {
		return verdict, nil
	}

	def, err := mo.registry.ResolveVersion(ctx, task.Tenant, snapshot.TaskType, snapshot.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	threshold, ok := def.SLAs[snapshot.State]
	if !ok {
		return verdict, nil
	}

	paused := snapshot.PausedTotal
	if snapshot.Paused && snapshot.PausedAt != nil {
		paused += now.Sub(*snapshot.PausedAt)
	}

	elapsed := mo.options.calendar.WorkingDuration(task.Tenant, *snapshot.StartedAt, now) - paused
	if elapsed < 0 {
		elapsed = 0
	}

	verdict.Threshold = threshold
	verdict.Elapsed = elapsed
	verdict.Remaining = threshold - elapsed
	verdict.Breached = elapsed > threshold

	if !verdict.Breached {
		return verdict, nil
	}

	// The Escalated flag on the snapshot is reset whenever the task changes
	// state, so each (task, state) breach crossing escalates exactly once
	// even across restarts.
	if snapshot.Escalated {
		return verdict, nil
	}

	if err := mo.escalate(ctx, task, snapshot, def, verdict); err != nil {
		return nil, err
	}

	verdict.Escalated = true

	return verdict, nil
}

func (mo *Monitor) escalate(ctx context.Context, task core.TaskID, snapshot *projection.Snapshot, def *registry.VersionedDefinition, verdict *Verdict) error {
	if err := mo.engine.RaiseEscalation(ctx, task, &history.EscalationRaisedAttributes{
		State:     string(snapshot.State),
		Threshold: verdict.Threshold,
		Elapsed:   verdict.Elapsed,
	}, SystemActorID); err != nil {
		return err
	}

	mo.options.logger.Warn("SLA breached",
		logkeys.TaskIDKey, task.String(),
		logkeys.ThresholdKey, verdict.Threshold.String(),
		logkeys.DurationKey, verdict.Elapsed.Milliseconds(),
	)

	if mo.options.metrics != nil {
		mo.options.metrics.Counter(metrickeys.SLABreaches, m.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)
	}

	if mo.options.notifier != nil {
		if err := mo.options.notifier.Publish(ctx, &workflow.Notification{
			Task:      task,
			TaskType:  snapshot.TaskType,
			Kind:      "escalation",
			State:     snapshot.State,
			Actor:     SystemActorID,
			Timestamp: mo.options.clock.Now(),
			Payload: core.Metadata{
				"threshold": verdict.Threshold.String(),
				"elapsed":   verdict.Elapsed.String(),
			},
		}); err != nil {
			mo.options.logger.Error("could not publish escalation",
				logkeys.TaskIDKey, task.String(),
				"error", err,
			)
		}
	}

	// Escalation is advisory unless the definition configures an
	// auto-escalation action for the breached state.
	if action, ok := def.Escalations[snapshot.State]; ok {
		if _, err := mo.engine.ApplyTransition(ctx, task, action, SystemActorID, core.Metadata{
			"reason": "sla_breach",
		}); err != nil {
			mo.options.logger.Error("auto-escalation transition failed",
				logkeys.TaskIDKey, task.String(),
				logkeys.ActionKey, string(action),
				"error", err,
			)
		}
	}

	return nil
}

// Watch adds a task to the periodic sweep.
func (mo *Monitor) Watch(task core.TaskID) {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	mo.watched[task.String()] = task
}

func (mo *Monitor) Unwatch(task core.TaskID) {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	delete(mo.watched, task.String())
}

// Run evaluates all watched tasks every interval until ctx is canceled.
// Tasks that reached a terminal state are dropped from the watch set.
func (mo *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := mo.options.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			mo.sweep(ctx)
		}
	}
}

func (mo *Monitor) sweep(ctx context.Context) {
	mo.mu.Lock()
	tasks := make([]core.TaskID, 0, len(mo.watched))
	for _, t := range mo.watched {
		tasks = append(tasks, t)
	}
	mo.mu.Unlock()

	now := mo.options.clock.Now()

	for _, task := range tasks {
		if _, err := mo.Evaluate(ctx, task, now); err != nil {
			mo.options.logger.Error("SLA evaluation failed",
				logkeys.TaskIDKey, task.String(),
				"error", err,
			)
			continue
		}

		if snapshot, err := mo.projector.CurrentState(ctx, task); err == nil && snapshot.Terminal {
			mo.Unwatch(task)
		}
	}
}
