package mysqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/metrics"

	_ "github.com/go-sql-driver/mysql"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMysqlLog creates an event log backed by a MySQL database, applying
// schema migrations on startup.
func NewMysqlLog(host string, port int, user, password, database string, opts ...backend.BackendOption) (backend.EventLog, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true&multiStatements=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := migrateDB(db, database); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return &mysqlLog{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}, nil
}

func migrateDB(db *sql.DB, database string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{DatabaseName: database})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, database, driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

type mysqlLog struct {
	db      *sql.DB
	options *backend.Options
}

var _ backend.EventLog = (*mysqlLog)(nil)

func (ml *mysqlLog) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, definitionVersion int, created *history.Event) error {
	tx, err := ml.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		"INSERT IGNORE INTO `tasks` (tenant, task_id, task_type, definition_version, last_sequence_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
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

	ml.options.Metrics.Counter(metrickeys.TaskCreated, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (ml *mysqlLog) AppendEvent(ctx context.Context, task core.TaskID, event *history.Event) error {
	tx, err := ml.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the task row so concurrent appends serialize on the sequence
	// check
	row := tx.QueryRowContext(
		ctx,
		"SELECT last_sequence_id FROM `tasks` WHERE tenant = ? AND task_id = ? FOR UPDATE",
		string(task.Tenant), task.ID,
	)

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

	ml.options.Metrics.Counter(metrickeys.EventsAppended, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (ml *mysqlLog) ReadAll(ctx context.Context, task core.TaskID) ([]*history.Event, error) {
	if _, err := ml.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, ml.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? ORDER BY sequence_id",
		string(task.Tenant), task.ID,
	)
}

func (ml *mysqlLog) ReadAsOf(ctx context.Context, task core.TaskID, asOf time.Time) ([]*history.Event, error) {
	if _, err := ml.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, ml.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? AND timestamp <= ? ORDER BY sequence_id",
		string(task.Tenant), task.ID, asOf.UnixNano(),
	)
}

func (ml *mysqlLog) ReadAfter(ctx context.Context, task core.TaskID, lastSequenceID int64) ([]*history.Event, error) {
	if _, err := ml.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	return queryEvents(
		ctx, ml.db,
		"SELECT id, sequence_id, event_type, timestamp, actor, definition_version, attributes FROM `events` WHERE tenant = ? AND task_id = ? AND sequence_id > ? ORDER BY sequence_id",
		string(task.Tenant), task.ID, lastSequenceID,
	)
}

func (ml *mysqlLog) TaskInfo(ctx context.Context, task core.TaskID) (*backend.TaskInfo, error) {
	row := ml.db.QueryRowContext(
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

func (ml *mysqlLog) Options() *backend.Options {
	return ml.options
}

func (ml *mysqlLog) Close() error {
	return ml.db.Close()
}
