package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/metrics"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryLog creates an event log backed by an in-memory SQLite
// database. Intended for tests.
func NewInMemoryLog(opts ...backend.BackendOption) backend.EventLog {
	l := newSqliteLog("file::memory:", opts...)

	l.db.SetMaxOpenConns(1)

	return l
}

// NewSqliteLog creates an event log backed by a SQLite database at the given
// path.
func NewSqliteLog(path string, opts ...backend.BackendOption) backend.EventLog {
	return newSqliteLog(fmt.Sprintf("file:%v", path), opts...)
}

func newSqliteLog(dsn string, opts ...backend.BackendOption) *sqliteLog {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	// Initialize database
	if _, err := db.Exec(schema); err != nil {
		panic(err)
	}

	return &sqliteLog{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}
}

type sqliteLog struct {
	db      *sql.DB
	options *backend.Options
}

var _ backend.EventLog = (*sqliteLog)(nil)

func (sl *sqliteLog) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, definitionVersion int, created *history.Event) error {
	tx, err := sl.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `tasks` (tenant, task_id, task_type, definition_version, last_sequence_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(task.Tenant),
		task.ID,
		string(taskType),
		definitionVersion,
		created.SequenceID,
		created.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("could not insert task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrTaskAlreadyExists
	}

	if err := insertEvent(ctx, tx, task, created); err != nil {
		return fmt.Errorf("could not insert created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not create task: %w", err)
	}

	sl.options.Metrics.Counter(metrickeys.TaskCreated, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (sl *sqliteLog) AppendEvent(ctx context.Context, task core.TaskID, event *history.Event) error {
	tx, err := sl.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(
		ctx, "SELECT last_sequence_id FROM `tasks` WHERE tenant = ? AND task_id = ?", string(task.Tenant), task.ID)

	var lastSequenceID int64
	if err := row.Scan(&lastSequenceID); err != nil {
		if err == sql.ErrNoRows {
			return backend.ErrTaskNotFound
		}

		return fmt.Errorf("could not read task: %w", err)
	}

	if event.SequenceID != lastSequenceID+1 {
		return backend.ErrSequenceConflict
	}

	if _, err := tx.ExecContext(
		ctx,
		"UPDATE `tasks` SET last_sequence_id = ? WHERE tenant = ? AND task_id = ?",
		event.SequenceID, string(task.Tenant), task.ID,
	); err != nil {
		return fmt.Errorf("could not advance sequence: %w", err)
	}

	if err := insertEvent(ctx, tx, task, event); err != nil {
		return fmt.Errorf("could not insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not append event: %w", err)
	}

	sl.options.Metrics.Counter(metrickeys.EventsAppended, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (sl *sqliteLog) ReadAll(ctx context.Context, task core.TaskID) ([]*history.Event, error) {
	if _, err := sl.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, sl.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? ORDER BY sequence_id",
		string(task.Tenant), task.ID,
	)
}

func (sl *sqliteLog) ReadAsOf(ctx context.Context, task core.TaskID, asOf time.Time) ([]*history.Event, error) {
	if _, err := sl.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, sl.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? AND timestamp <= ? ORDER BY sequence_id",
		string(task.Tenant), task.ID, asOf.UnixNano(),
	)
}

func (sl *sqliteLog) ReadAfter(ctx context.Context, task core.TaskID, lastSequenceID int64) ([]*history.Event, error) {
	if _, err := sl.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, sl.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? AND sequence_id > ? ORDER BY sequence_id",
		string(task.Tenant), task.ID, lastSequenceID,
	)
}

func (sl *sqliteLog) TaskInfo(ctx context.Context, task core.TaskID) (*backend.TaskInfo, error) {
	row := sl.db.QueryRowContext(
		ctx,
		"SELECT task_type, definition_version, last_sequence_id FROM `tasks` WHERE tenant = ? AND task_id = ?",
		string(task.Tenant), task.ID,
	)

	info := backend.TaskInfo{Task: task}

	var taskType string
	if err := row.Scan(&taskType, &info.DefinitionVersion, &info.LastSequenceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, backend.ErrTaskNotFound
		}

		return nil, fmt.Errorf("could not read task: %w", err)
	}

	info.TaskType = core.TaskType(taskType)

	return &info, nil
}

func (sl *sqliteLog) Options() *backend.Options {
	return sl.options
}

func (sl *sqliteLog) Close() error {
	return sl.db.Close()
}
