package backend

import (
	"context"
	"errors"
	"time"

	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")

	// ErrSequenceConflict indicates that the proposed sequence number was not
	// exactly one past the last appended event for the task. Another writer
	// won the race; the caller may retry after re-reading the snapshot.
	ErrSequenceConflict = errors.New("event sequence conflict")
)

const TracerName = "taskweave"

// TaskInfo is the bookkeeping an event log keeps per task in addition to the
// task's history.
type TaskInfo struct {
	Task core.TaskID

	TaskType core.TaskType

	// DefinitionVersion is the workflow definition version pinned at task
	// creation.
	DefinitionVersion int

	LastSequenceID int64
}

// EventLog is the append-only, ordered record of every state change of every
// task. It is the sole source of truth; snapshots are derived, disposable
// caches.
type EventLog interface {
	// CreateTask records a new task together with its TaskCreated event at
	// sequence 1. Fails with ErrTaskAlreadyExists for a duplicate id.
	CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, definitionVersion int, created *history.Event) error

	// AppendEvent appends a single event to the task's history. The event's
	// SequenceID must be exactly the last appended sequence plus one,
	// otherwise AppendEvent fails with ErrSequenceConflict. The append is
	// atomic per task: either the event is durably recorded and the task's
	// last sequence advanced, or neither happens.
	AppendEvent(ctx context.Context, task core.TaskID, event *history.Event) error

	// ReadAll returns the task's full history, oldest first.
	ReadAll(ctx context.Context, task core.TaskID) ([]*history.Event, error)

	// ReadAsOf returns the prefix of the task's history with event
	// timestamps <= asOf.
	ReadAsOf(ctx context.Context, task core.TaskID, asOf time.Time) ([]*history.Event, error)

	// ReadAfter returns the events with sequence numbers greater than
	// lastSequenceID, oldest first. Used for incremental snapshot updates.
	ReadAfter(ctx context.Context, task core.TaskID, lastSequenceID int64) ([]*history.Event, error)

	// TaskInfo returns the task's bookkeeping record or ErrTaskNotFound.
	TaskInfo(ctx context.Context, task core.TaskID) (*TaskInfo, error)

	// Options returns the configured options for the event log
	Options() *Options

	// Close closes any underlying resources
	Close() error
}
