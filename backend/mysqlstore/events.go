package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
)

func insertEvent(ctx context.Context, tx *sql.Tx, task core.TaskID, event *history.Event) error {
	attributes, err := history.SerializeAttributes(event.Attributes)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(
		ctx,
		"INSERT INTO `events` (id, tenant, task_id, sequence_id, event_type, timestamp, actor, definition_version, attributes) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		event.ID,
		string(task.Tenant),
		task.ID,
		event.SequenceID,
		int(event.Type),
		event.Timestamp.UnixNano(),
		event.Actor,
		event.DefinitionVersion,
		attributes,
	)

	return err
}

func queryEvents(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*history.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query events: %w", err)
	}
	defer rows.Close()

	events := make([]*history.Event, 0)

	for rows.Next() {
		var eventType int
		var timestamp int64
		var attributes []byte

		event := &history.Event{}

		if err := rows.Scan(&event.ID, &event.SequenceID, &eventType, &timestamp, &event.Actor, &event.DefinitionVersion, &attributes); err != nil {
			return nil, fmt.Errorf("could not scan event: %w", err)
		}

		event.Type = history.EventType(eventType)
		event.Timestamp = time.Unix(0, timestamp).UTC()

		a, err := history.DeserializeAttributes(event.Type, attributes)
		if err != nil {
			return nil, fmt.Errorf("could not deserialize attributes: %w", err)
		}

		event.Attributes = a

		events = append(events, event)
	}

	return events, rows.Err()
}
