package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/memorystore"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/projection"
	"github.com/taskweave/taskweave/registry"
	"github.com/taskweave/taskweave/workflow"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ticketDefinition(t *testing.T, opts ...func(*workflow.Definition)) *workflow.Definition {
	t.Helper()

	d := workflow.NewDefinition("Open", "Open", "InProgress", "Done", "Canceled")
	require.NoError(t, d.AddTransition("Open", "start", "InProgress"))
	require.NoError(t, d.AddTransition("InProgress", "finish", "Done"))
	require.NoError(t, d.AddTransition("Open", "cancel", "Canceled"))
	require.NoError(t, d.AddTransition("InProgress", "cancel", "Canceled"))
	d.MarkTerminal("Done", "Canceled")
	d.MarkFailed("Canceled")

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func setup(t *testing.T, def *workflow.Definition, opts ...Option) (*Engine, backend.EventLog) {
	t.Helper()

	l := memorystore.NewMemoryLog()

	r := registry.New()
	_, err := r.Register(context.Background(), "acme", "bug", def)
	require.NoError(t, err)

	e := New(l, r, projection.NewProjector(l), opts...)

	t.Cleanup(func() {
		require.NoError(t, e.Close())
		require.NoError(t, l.Close())
	})

	return e, l
}

func newTask() core.TaskID {
	return core.NewTaskID("acme", uuid.NewString())
}

func Test_CreateTask(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	s, err := e.CreateTask(ctx, task, "bug", "alice", WithAssignees("alice"))
	require.NoError(t, err)

	require.Equal(t, workflow.State("Open"), s.State)
	require.Equal(t, 1, s.DefinitionVersion)
	require.Equal(t, []string{"alice"}, s.Assignees)
	require.Equal(t, int64(1), s.LastSequenceID)

	_, err = e.CreateTask(ctx, task, "bug", "alice")
	require.ErrorIs(t, err, backend.ErrTaskAlreadyExists)
}

func Test_CreateTask_UnknownTaskType(t *testing.T) {
	e, _ := setup(t, ticketDefinition(t))

	_, err := e.CreateTask(context.Background(), newTask(), "unknown", "alice")

	var nf *registry.ErrDefinitionNotFound
	require.ErrorAs(t, err, &nf)
}

func Test_ApplyTransition(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	outcome, err := e.ApplyTransition(ctx, task, "start", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, workflow.State("Open"), outcome.From)
	require.Equal(t, workflow.State("InProgress"), outcome.To)
	require.Equal(t, int64(2), outcome.SequenceID)
	require.False(t, outcome.Terminal)
	require.Empty(t, outcome.HookWarnings)

	outcome, err = e.ApplyTransition(ctx, task, "finish", "alice", core.Metadata{"resolution": "fixed"})
	require.NoError(t, err)
	require.True(t, outcome.Terminal)

	s, err := e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.Equal(t, workflow.State("Done"), s.State)
	require.True(t, s.Terminal)
	require.False(t, s.Failed)
	require.NotNil(t, s.StartedAt)
	require.NotNil(t, s.CompletedAt)
}

func Test_ApplyTransition_IllegalAction(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)

	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	require.Equal(t, workflow.State("Open"), ite.State)
	require.False(t, IsRetryable(err))

	// Rejected transitions leave no trace in the history
	s, err := e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.Equal(t, int64(1), s.LastSequenceID)
}

func Test_ApplyTransition_NoTransitionsFromTerminalState(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "cancel", "alice", nil)
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "start", "alice", nil)

	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
}

func Test_ApplyTransition_GuardRejects(t *testing.T) {
	ctx := context.Background()

	guard := workflow.GuardFunc(func(ctx context.Context, gc *workflow.GuardContext) error {
		if gc.Payload.Get("approved") != "true" {
			return errors.New("missing approval")
		}

		return nil
	})

	def := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, def.AddTransition("Open", "finish", "Done", workflow.WithGuards(guard)))
	def.MarkTerminal("Done")

	e, _ := setup(t, def)

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)

	var gre *GuardRejectedError
	require.ErrorAs(t, err, &gre)
	require.Contains(t, gre.Reason, "missing approval")

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", core.Metadata{"approved": "true"})
	require.NoError(t, err)
}

func Test_ApplyTransition_AssigneeGuard(t *testing.T) {
	ctx := context.Background()

	def := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, def.AddTransition("Open", "finish", "Done", workflow.WithGuards(AssigneeGuard())))
	def.MarkTerminal("Done")

	e, _ := setup(t, def)

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice", WithAssignees("alice"))
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "finish", "mallory", nil)
	var gre *GuardRejectedError
	require.ErrorAs(t, err, &gre)

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)
}

func Test_ApplyTransition_DependencyGate(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	blocker := newTask()

	for _, tid := range []core.TaskID{task, blocker} {
		_, err := e.CreateTask(ctx, tid, "bug", "alice")
		require.NoError(t, err)
	}

	require.NoError(t, e.AddDependency(ctx, task, blocker, "alice"))

	_, err := e.ApplyTransition(ctx, task, "start", "alice", nil)
	require.NoError(t, err)

	// Transitions into a terminal state check dependencies
	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)
	var due *DependencyUnsatisfiedError
	require.ErrorAs(t, err, &due)
	require.Equal(t, []core.TaskID{blocker}, due.Blocking)

	// A failed terminal dependency still blocks
	_, err = e.ApplyTransition(ctx, blocker, "cancel", "alice", nil)
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.ErrorAs(t, err, &due)
}

func Test_ApplyTransition_DependencySatisfied(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	blocker := newTask()

	for _, tid := range []core.TaskID{task, blocker} {
		_, err := e.CreateTask(ctx, tid, "bug", "alice")
		require.NoError(t, err)
	}

	require.NoError(t, e.AddDependency(ctx, task, blocker, "alice"))

	_, err := e.ApplyTransition(ctx, blocker, "start", "alice", nil)
	require.NoError(t, err)
	_, err = e.ApplyTransition(ctx, blocker, "finish", "alice", nil)
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "start", "alice", nil)
	require.NoError(t, err)
	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)
}

func Test_ApplyTransition_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	e, l := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	const writers = 8

	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.ApplyTransition(ctx, task, "start", "alice", nil)
		}()
	}

	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}

		// Losers either hit the sequence gate or saw the already-advanced
		// snapshot, where "start" is no longer legal
		var ite *IllegalTransitionError
		if !IsRetryable(err) {
			require.ErrorAs(t, err, &ite)
		}
	}

	require.Equal(t, 1, winners)

	events, err := l.ReadAll(ctx, task)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func Test_ApplyTransition_VersionPinning(t *testing.T) {
	ctx := context.Background()

	l := memorystore.NewMemoryLog()
	r := registry.New(registry.WithLiveUpgrade("globex"))

	for _, tenant := range []core.TenantID{"acme", "globex"} {
		_, err := r.Register(ctx, tenant, "bug", ticketDefinition(t))
		require.NoError(t, err)
	}

	e := New(l, r, projection.NewProjector(l))
	t.Cleanup(func() {
		require.NoError(t, e.Close())
		require.NoError(t, l.Close())
	})

	pinned := core.NewTaskID("acme", uuid.NewString())
	live := core.NewTaskID("globex", uuid.NewString())

	for _, task := range []core.TaskID{pinned, live} {
		_, err := e.CreateTask(ctx, task, "bug", "alice")
		require.NoError(t, err)
	}

	// v2 adds an expedite transition after both tasks exist
	for _, tenant := range []core.TenantID{"acme", "globex"} {
		v2 := ticketDefinition(t)
		require.NoError(t, v2.AddTransition("Open", "expedite", "Done"))
		_, err := r.Register(ctx, tenant, "bug", v2)
		require.NoError(t, err)
	}

	// The pinned task keeps validating against v1
	_, err := e.ApplyTransition(ctx, pinned, "expedite", "alice", nil)
	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)

	// The live-upgrade tenant resolves the latest version
	outcome, err := e.ApplyTransition(ctx, live, "expedite", "alice", nil)
	require.NoError(t, err)
	require.Equal(t, workflow.State("Done"), outcome.To)
	require.Equal(t, 2, outcome.Event.DefinitionVersion)
}

func Test_ApplyTransition_HookWarnings(t *testing.T) {
	ctx := context.Background()

	var ran sync.Map

	good := workflow.HookFunc("notify", func(ctx context.Context, hc *workflow.HookContext) error {
		ran.Store("notify", true)
		return nil
	})
	bad := workflow.HookFunc("webhook", func(ctx context.Context, hc *workflow.HookContext) error {
		return errors.New("upstream unavailable")
	})

	def := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, def.AddTransition("Open", "finish", "Done", workflow.WithHooks(good, bad)))
	def.MarkTerminal("Done")

	e, l := setup(t, def, WithHookRetries(0))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	outcome, err := e.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)

	require.Len(t, outcome.HookWarnings, 1)
	require.Equal(t, "webhook", outcome.HookWarnings[0].Hook)
	require.ErrorContains(t, outcome.HookWarnings[0].Err, "upstream unavailable")

	_, ok := ran.Load("notify")
	require.True(t, ok)

	// The hook failure did not roll back the committed transition
	events, err := l.ReadAll(ctx, task)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func Test_ApplyTransition_HookPanicIsIsolated(t *testing.T) {
	ctx := context.Background()

	panicky := workflow.HookFunc("panicky", func(ctx context.Context, hc *workflow.HookContext) error {
		panic("boom")
	})

	def := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, def.AddTransition("Open", "finish", "Done", workflow.WithHooks(panicky)))
	def.MarkTerminal("Done")

	e, _ := setup(t, def)

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	outcome, err := e.ApplyTransition(ctx, task, "finish", "alice", nil)
	require.NoError(t, err)
	require.Len(t, outcome.HookWarnings, 1)
	require.ErrorContains(t, outcome.HookWarnings[0].Err, "boom")
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

func Test_ApplyTransition_PublishesNotification(t *testing.T) {
	ctx := context.Background()
	ch := &captureChannel{}

	l := memorystore.NewMemoryLog()
	r := registry.New()
	_, err := r.Register(ctx, "acme", "bug", ticketDefinition(t))
	require.NoError(t, err)

	e := New(l, r, projection.NewProjector(l), WithNotificationChannel(ch))

	task := newTask()
	_, err = e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "start", "alice", nil)
	require.NoError(t, err)

	// Close drains the fire-and-forget publisher
	require.NoError(t, e.Close())
	require.NoError(t, l.Close())

	ns := ch.all()
	require.Len(t, ns, 1)
	require.Equal(t, "event", ns[0].Kind)
	require.Equal(t, workflow.State("InProgress"), ns[0].State)
	require.Equal(t, task, ns[0].Task)
}

func Test_Reassign(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice", WithAssignees("alice"))
	require.NoError(t, err)

	require.NoError(t, e.Reassign(ctx, task, []string{"bob"}, []string{"alice"}, "manager"))

	s, err := e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, s.Assignees)
}

func Test_PauseResumeClock(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	require.Error(t, e.ResumeClock(ctx, task, "alice"))

	require.NoError(t, e.PauseClock(ctx, task, "waiting for customer", "alice"))
	require.Error(t, e.PauseClock(ctx, task, "again", "alice"))

	s, err := e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.True(t, s.Paused)

	require.NoError(t, e.ResumeClock(ctx, task, "alice"))

	s, err = e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.False(t, s.Paused)
}

func Test_PauseClock_RejectsTerminalTask(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "cancel", "alice", nil)
	require.NoError(t, err)

	require.Error(t, e.PauseClock(ctx, task, "too late", "alice"))
}

func Test_AddDependency_Rejections(t *testing.T) {
	ctx := context.Background()
	e, _ := setup(t, ticketDefinition(t))

	a := newTask()
	b := newTask()
	c := newTask()

	for _, tid := range []core.TaskID{a, b, c} {
		_, err := e.CreateTask(ctx, tid, "bug", "alice")
		require.NoError(t, err)
	}

	require.ErrorContains(t, e.AddDependency(ctx, a, a, "alice"), "cannot depend on itself")

	err := e.AddDependency(ctx, a, core.NewTaskID("acme", "missing"), "alice")
	require.ErrorIs(t, err, backend.ErrTaskNotFound)

	// a -> b -> c, then c -> a closes the loop
	require.NoError(t, e.AddDependency(ctx, a, b, "alice"))
	require.NoError(t, e.AddDependency(ctx, b, c, "alice"))
	require.ErrorContains(t, e.AddDependency(ctx, c, a, "alice"), "cycle")

	require.NoError(t, e.RemoveDependency(ctx, a, b, "alice"))
	require.NoError(t, e.AddDependency(ctx, c, a, "alice"))
}

func Test_Comment(t *testing.T) {
	ctx := context.Background()
	e, l := setup(t, ticketDefinition(t))

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	require.NoError(t, e.Comment(ctx, task, "looking into it", "alice"))

	events, err := l.ReadAll(ctx, task)
	require.NoError(t, err)
	require.Len(t, events, 2)

	s, err := e.Snapshot(ctx, task)
	require.NoError(t, err)
	require.Equal(t, workflow.State("Open"), s.State, "comments do not change state")
}

func Test_PermissionGuard(t *testing.T) {
	ctx := context.Background()

	pc := permissionCheckerFunc(func(ctx context.Context, actor string, action workflow.Action, task core.TaskID) (bool, error) {
		return actor == "manager", nil
	})

	def := workflow.NewDefinition("Open", "Open", "Done")
	require.NoError(t, def.AddTransition("Open", "finish", "Done", workflow.WithGuards(PermissionGuard(pc))))
	def.MarkTerminal("Done")

	e, _ := setup(t, def)

	task := newTask()
	_, err := e.CreateTask(ctx, task, "bug", "alice")
	require.NoError(t, err)

	_, err = e.ApplyTransition(ctx, task, "finish", "alice", nil)
	var gre *GuardRejectedError
	require.ErrorAs(t, err, &gre)

	_, err = e.ApplyTransition(ctx, task, "finish", "manager", nil)
	require.NoError(t, err)
}

type permissionCheckerFunc func(ctx context.Context, actor string, action workflow.Action, task core.TaskID) (bool, error)

func (f permissionCheckerFunc) HasPermission(ctx context.Context, actor string, action workflow.Action, task core.TaskID) (bool, error) {
	return f(ctx, actor, action, task)
}
