package sla

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/backend/memorystore"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/projection"
	"github.com/taskweave/taskweave/registry"
	"github.com/taskweave/taskweave/workflow"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	clock   *clock.Mock
	log     backend.EventLog
	engine  *engine.Engine
	monitor *Monitor
}

func setup(t *testing.T, def *workflow.Definition, opts ...Option) *fixture {
	t.Helper()

	mock := clock.NewMock()

	l := memorystore.NewMemoryLog(backend.WithClock(mock))

	r := registry.New()
	_, err := r.Register(context.Background(), "acme", "ticket", def)
	require.NoError(t, err)

	proj := projection.NewProjector(l)
	eng := engine.New(l, r, proj)

	t.Cleanup(func() {
		require.NoError(t, eng.Close())
		require.NoError(t, l.Close())
	})

	opts = append([]Option{WithClock(mock)}, opts...)

	return &fixture{
		clock:   mock,
		log:     l,
		engine:  eng,
		monitor: NewMonitor(eng, r, proj, opts...),
	}
}

func slaDefinition(t *testing.T) *workflow.Definition {
	t.Helper()

	d := workflow.NewDefinition("Open", "Open", "InProgress", "Review", "Done")
	require.NoError(t, d.AddTransition("Open", "start", "InProgress"))
	require.NoError(t, d.AddTransition("InProgress", "review", "Review"))
	require.NoError(t, d.AddTransition("Review", "finish", "Done"))
	d.MarkTerminal("Done")
	d.WithSLA("InProgress", time.Hour)
	d.WithSLA("Review", 30*time.Minute)

	return d
}

func startedTask(t *testing.T, f *fixture) core.TaskID {
	t.Helper()

	ctx := context.Background()
	task := core.NewTaskID("acme", uuid.NewString())

	_, err := f.engine.CreateTask(ctx, task, "ticket", "alice")
	require.NoError(t, err)

	_, err = f.engine.ApplyTransition(ctx, task, "start", "alice", nil)
	require.NoError(t, err)

	return task
}

func Test_Evaluate_ClockNotStartedInInitialState(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))

	task := core.NewTaskID("acme", uuid.NewString())
	_, err := f.engine.CreateTask(ctx, task, "ticket", "alice")
	require.NoError(t, err)

	f.clock.Add(10 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.False(t, v.Breached)
	require.Zero(t, v.Elapsed)
}

func Test_Evaluate_NoSLAForState(t *testing.T) {
	ctx := context.Background()

	d := slaDefinition(t)
	delete(d.SLAs, "InProgress")

	f := setup(t, d)
	task := startedTask(t, f)

	f.clock.Add(10 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.False(t, v.Breached)
	require.Zero(t, v.Threshold)
}

func Test_Evaluate_WithinThreshold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	f.clock.Add(30 * time.Minute)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.False(t, v.Breached)
	require.Equal(t, 30*time.Minute, v.Elapsed)
	require.Equal(t, 30*time.Minute, v.Remaining)
}

func Test_Evaluate_BreachEscalatesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	f.clock.Add(2 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Breached)
	require.True(t, v.Escalated)
	require.Equal(t, -time.Hour, v.Remaining)

	// A second sweep over the same breach reports it but does not escalate
	// again
	f.clock.Add(time.Hour)
	v, err = f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Breached)
	require.False(t, v.Escalated)

	events, err := f.log.ReadAll(ctx, task)
	require.NoError(t, err)

	var escalations []*history.Event
	for _, e := range events {
		if e.Type == history.EventType_EscalationRaised {
			escalations = append(escalations, e)
		}
	}

	require.Len(t, escalations, 1)
	require.Equal(t, SystemActorID, escalations[0].Actor)

	attr := escalations[0].Attributes.(*history.EscalationRaisedAttributes)
	require.Equal(t, "InProgress", attr.State)
	require.Equal(t, time.Hour, attr.Threshold)
	require.Equal(t, 2*time.Hour, attr.Elapsed)
}

func Test_Evaluate_PausedIntervalsDoNotCount(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	f.clock.Add(30 * time.Minute)
	require.NoError(t, f.engine.PauseClock(ctx, task, "waiting for customer", "alice"))

	// 90 minutes pass while paused
	f.clock.Add(90 * time.Minute)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.False(t, v.Breached, "paused time does not count toward the threshold")
	require.Equal(t, 30*time.Minute, v.Elapsed)

	require.NoError(t, f.engine.ResumeClock(ctx, task, "alice"))

	// 31 more active minutes push the task over the one hour threshold
	f.clock.Add(31 * time.Minute)

	v, err = f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Breached)
	require.Equal(t, 61*time.Minute, v.Elapsed)
}

func Test_Evaluate_BreachRearmsPerState(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	f.clock.Add(2 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Escalated)

	// Entering a new state arms a fresh breach crossing. Review has a 30
	// minute threshold; the clock keeps counting from StartedAt.
	_, err = f.engine.ApplyTransition(ctx, task, "review", "alice", nil)
	require.NoError(t, err)

	f.clock.Add(time.Minute)

	v, err = f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Breached)
	require.True(t, v.Escalated)
}

func Test_Evaluate_TerminalTaskStopsClock(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	_, err := f.engine.ApplyTransition(ctx, task, "review", "alice", nil)
	require.NoError(t, err)
	_, err = f.engine.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)

	f.clock.Add(10 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.False(t, v.Breached)
}

func Test_Evaluate_AutoEscalationTransition(t *testing.T) {
	ctx := context.Background()

	d := workflow.NewDefinition("Open", "Open", "InProgress", "Escalated", "Done")
	require.NoError(t, d.AddTransition("Open", "start", "InProgress"))
	require.NoError(t, d.AddTransition("InProgress", "escalate", "Escalated"))
	require.NoError(t, d.AddTransition("InProgress", "finish", "Done"))
	require.NoError(t, d.AddTransition("Escalated", "finish", "Done"))
	d.MarkTerminal("Done")
	d.WithSLA("InProgress", time.Hour)
	d.WithEscalation("InProgress", "escalate")

	f := setup(t, d)
	task := startedTask(t, f)

	f.clock.Add(2 * time.Hour)

	v, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)
	require.True(t, v.Escalated)

	s, err := f.engine.Snapshot(ctx, task)
	require.NoError(t, err)
	require.Equal(t, workflow.State("Escalated"), s.State)

	// The auto-escalation transition is attributed to the monitor
	events, err := f.log.ReadAll(ctx, task)
	require.NoError(t, err)

	last := events[len(events)-1]
	require.Equal(t, history.EventType_TransitionApplied, last.Type)
	require.Equal(t, SystemActorID, last.Actor)
}

func Test_Evaluate_PublishesEscalationNotification(t *testing.T) {
	ctx := context.Background()
	ch := &captureChannel{}

	f := setup(t, slaDefinition(t), WithNotificationChannel(ch))
	task := startedTask(t, f)

	f.clock.Add(2 * time.Hour)

	_, err := f.monitor.Evaluate(ctx, task, f.clock.Now())
	require.NoError(t, err)

	ns := ch.all()
	require.Len(t, ns, 1)
	require.Equal(t, "escalation", ns[0].Kind)
	require.Equal(t, task, ns[0].Task)
	require.Equal(t, SystemActorID, ns[0].Actor)
}

func Test_Run_SweepsWatchedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	f.monitor.Watch(task)

	done := make(chan error, 1)
	go func() {
		done <- f.monitor.Run(ctx, time.Minute)
	}()

	// Let the run loop install its ticker before advancing the mock clock
	time.Sleep(10 * time.Millisecond)

	f.clock.Add(2 * time.Hour)

	require.Eventually(t, func() bool {
		events, err := f.log.ReadAll(context.Background(), task)
		require.NoError(t, err)

		return events[len(events)-1].Type == history.EventType_EscalationRaised
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func Test_Run_UnwatchesTerminalTasks(t *testing.T) {
	ctx := context.Background()
	f := setup(t, slaDefinition(t))
	task := startedTask(t, f)

	_, err := f.engine.ApplyTransition(ctx, task, "review", "alice", nil)
	require.NoError(t, err)
	_, err = f.engine.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)

	f.monitor.Watch(task)
	f.monitor.sweep(ctx)

	f.monitor.mu.Lock()
	defer f.monitor.mu.Unlock()
	require.Empty(t, f.monitor.watched)
}

type captureChannel struct {
	mu            sync.Mutex
	notifications []*workflow.Notification
}

func (c *captureChannel) Publish(ctx context.Context, n *workflow.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifications = append(c.notifications, n)
	return nil
}

func (c *captureChannel) all() []*workflow.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*workflow.Notification(nil), c.notifications...)
}
