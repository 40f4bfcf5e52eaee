package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/metrics"
)

// NewMemoryLog returns an in-memory event log. Intended for tests and
// samples; nothing is persisted beyond the process.
func NewMemoryLog(opts ...backend.BackendOption) backend.EventLog {
	return &memoryLog{
		options: backend.ApplyOptions(opts...),
		tasks:   make(map[string]*taskHistory),
	}
}

type taskHistory struct {
	info   backend.TaskInfo
	events []*history.Event
}

type memoryLog struct {
	mu      sync.Mutex
	options *backend.Options
	tasks   map[string]*taskHistory
}

var _ backend.EventLog = (*memoryLog)(nil)

func (ml *memoryLog) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, definitionVersion int, created *history.Event) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	key := task.String()
	if _, ok := ml.tasks[key]; ok {
		return backend.ErrTaskAlreadyExists
	}

	ml.tasks[key] = &taskHistory{
		info: backend.TaskInfo{
			Task:              task,
			TaskType:          taskType,
			DefinitionVersion: definitionVersion,
			LastSequenceID:    created.SequenceID,
		},
		events: []*history.Event{created},
	}

	ml.options.Metrics.Counter(metrickeys.TaskCreated, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (ml *memoryLog) AppendEvent(ctx context.Context, task core.TaskID, event *history.Event) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	th, ok := ml.tasks[task.String()]
	if !ok {
		return backend.ErrTaskNotFound
	}

	if event.SequenceID != th.info.LastSequenceID+1 {
		return backend.ErrSequenceConflict
	}

	th.events = append(th.events, event)
	th.info.LastSequenceID = event.SequenceID

	ml.options.Metrics.Counter(metrickeys.EventsAppended, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (ml *memoryLog) ReadAll(ctx context.Context, task core.TaskID) ([]*history.Event, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	th, ok := ml.tasks[task.String()]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	events := make([]*history.Event, len(th.events))
	copy(events, th.events)

	return events, nil
}

func (ml *memoryLog) ReadAsOf(ctx context.Context, task core.TaskID, asOf time.Time) ([]*history.Event, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	th, ok := ml.tasks[task.String()]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	events := make([]*history.Event, 0, len(th.events))
	for _, e := range th.events {
		if e.Timestamp.After(asOf) {
			break
		}

		events = append(events, e)
	}

	return events, nil
}

func (ml *memoryLog) ReadAfter(ctx context.Context, task core.TaskID, lastSequenceID int64) ([]*history.Event, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	th, ok := ml.tasks[task.String()]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	events := make([]*history.Event, 0)
	for _, e := range th.events {
		if e.SequenceID > lastSequenceID {
			events = append(events, e)
		}
	}

	return events, nil
}

func (ml *memoryLog) TaskInfo(ctx context.Context, task core.TaskID) (*backend.TaskInfo, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	th, ok := ml.tasks[task.String()]
	if !ok {
		return nil, backend.ErrTaskNotFound
	}

	info := th.info

	return &info, nil
}

func (ml *memoryLog) Options() *backend.Options {
	return ml.options
}

func (ml *memoryLog) Close() error {
	return nil
}
