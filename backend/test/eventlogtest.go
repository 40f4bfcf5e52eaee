package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
)

const testTenant = core.TenantID("acme")

// EventLogTest runs the conformance suite every event log implementation
// has to pass.
func EventLogTest(t *testing.T, setup func() backend.EventLog, teardown func(l backend.EventLog)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, l backend.EventLog)
	}{
		{
			name: "CreateTask_DoesNotError",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := core.NewTaskID(testTenant, uuid.NewString())

				err := l.CreateTask(ctx, task, "bug", 1, createdEvent(time.Now()))
				require.NoError(t, err)
			},
		},
		{
			name: "CreateTask_SameTaskIDErrors",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := core.NewTaskID(testTenant, uuid.NewString())

				err := l.CreateTask(ctx, task, "bug", 1, createdEvent(time.Now()))
				require.NoError(t, err)

				err = l.CreateTask(ctx, task, "bug", 1, createdEvent(time.Now()))
				require.ErrorIs(t, err, backend.ErrTaskAlreadyExists)
			},
		},
		{
			name: "AppendEvent_UnknownTaskErrors",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := core.NewTaskID(testTenant, uuid.NewString())

				err := l.AppendEvent(ctx, task, transitionEvent(2, time.Now()))
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "AppendEvent_RejectsSequenceGap",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				err := l.AppendEvent(ctx, task, transitionEvent(3, time.Now()))
				require.ErrorIs(t, err, backend.ErrSequenceConflict)
			},
		},
		{
			name: "AppendEvent_RejectsDuplicateSequence",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(2, time.Now())))

				err := l.AppendEvent(ctx, task, transitionEvent(2, time.Now()))
				require.ErrorIs(t, err, backend.ErrSequenceConflict)
			},
		},
		{
			name: "ReadAll_ReturnsEventsInOrder",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				now := time.Now()
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(2, now)))
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(3, now.Add(time.Second))))

				events, err := l.ReadAll(ctx, task)
				require.NoError(t, err)
				require.Len(t, events, 3)

				for i, e := range events {
					require.Equal(t, int64(i+1), e.SequenceID)
				}

				require.Equal(t, history.EventType_TaskCreated, events[0].Type)
				require.IsType(t, &history.TaskCreatedAttributes{}, events[0].Attributes)
				require.IsType(t, &history.TransitionAppliedAttributes{}, events[1].Attributes)
			},
		},
		{
			name: "ReadAll_UnknownTaskErrors",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := core.NewTaskID(testTenant, uuid.NewString())

				_, err := l.ReadAll(ctx, task)
				require.ErrorIs(t, err, backend.ErrTaskNotFound)
			},
		},
		{
			name: "ReadAsOf_BoundIsInclusive",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

				task := core.NewTaskID(testTenant, uuid.NewString())
				require.NoError(t, l.CreateTask(ctx, task, "bug", 1, createdEvent(base)))

				cut := base.Add(time.Minute)
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(2, cut)))
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(3, base.Add(2*time.Minute))))

				events, err := l.ReadAsOf(ctx, task, cut)
				require.NoError(t, err)
				require.Len(t, events, 2)
				require.Equal(t, int64(2), events[1].SequenceID)
			},
		},
		{
			name: "ReadAfter_ReturnsOnlyNewerEvents",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				now := time.Now()
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(2, now)))
				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(3, now)))

				events, err := l.ReadAfter(ctx, task, 1)
				require.NoError(t, err)
				require.Len(t, events, 2)
				require.Equal(t, int64(2), events[0].SequenceID)
				require.Equal(t, int64(3), events[1].SequenceID)
			},
		},
		{
			name: "TaskInfo_TracksLastSequence",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				info, err := l.TaskInfo(ctx, task)
				require.NoError(t, err)
				require.Equal(t, core.TaskType("bug"), info.TaskType)
				require.Equal(t, 1, info.DefinitionVersion)
				require.Equal(t, int64(1), info.LastSequenceID)

				require.NoError(t, l.AppendEvent(ctx, task, transitionEvent(2, time.Now())))

				info, err = l.TaskInfo(ctx, task)
				require.NoError(t, err)
				require.Equal(t, int64(2), info.LastSequenceID)
			},
		},
		{
			name: "ConcurrentAppend_SingleWinnerPerSequence",
			f: func(t *testing.T, ctx context.Context, l backend.EventLog) {
				task := createTask(t, ctx, l)

				const writers = 8

				var wg sync.WaitGroup
				errs := make([]error, writers)

				for i := 0; i < writers; i++ {
					i := i
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs[i] = l.AppendEvent(ctx, task, transitionEvent(2, time.Now()))
					}()
				}

				wg.Wait()

				winners := 0
				for _, err := range errs {
					if err == nil {
						winners++
					} else {
						require.ErrorIs(t, err, backend.ErrSequenceConflict)
					}
				}

				require.Equal(t, 1, winners)

				// The log must end up gapless with no duplicate sequence
				// numbers
				events, err := l.ReadAll(ctx, task)
				require.NoError(t, err)
				require.Len(t, events, 2)
				for i, e := range events {
					require.Equal(t, int64(i+1), e.SequenceID)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := setup()

			t.Cleanup(func() {
				if teardown != nil {
					teardown(l)
				} else {
					l.Close()
				}
			})

			tt.f(t, context.Background(), l)
		})
	}
}

func createTask(t *testing.T, ctx context.Context, l backend.EventLog) core.TaskID {
	t.Helper()

	task := core.NewTaskID(testTenant, uuid.NewString())
	require.NoError(t, l.CreateTask(ctx, task, "bug", 1, createdEvent(time.Now())))

	return task
}

func createdEvent(ts time.Time) *history.Event {
	return history.NewEvent(ts, history.EventType_TaskCreated, &history.TaskCreatedAttributes{
		TaskType:     "bug",
		InitialState: "Open",
	}, history.WithSequenceID(1), history.WithActor("tester"), history.WithDefinitionVersion(1))
}

func transitionEvent(sequenceID int64, ts time.Time) *history.Event {
	return history.NewEvent(ts, history.EventType_TransitionApplied, &history.TransitionAppliedAttributes{
		PriorState:     "Open",
		Action:         "start",
		ResultingState: "InProgress",
	}, history.WithSequenceID(sequenceID), history.WithActor("tester"), history.WithDefinitionVersion(1))
}
