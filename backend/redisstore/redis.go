package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/internal/metrickeys"
	"github.com/taskweave/taskweave/metrics"
)

type RedisOptions struct {
	*backend.Options

	KeyPrefix string
}

type RedisOption func(*RedisOptions)

func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = prefix
	}
}

func WithBackendOptions(opts ...backend.BackendOption) RedisOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

// NewRedisLog creates an event log on the given redis client. Appends use
// WATCH on the task key as the optimistic concurrency gate, so two
// concurrent transition attempts on the same task race to append and the
// loser receives ErrSequenceConflict.
func NewRedisLog(rdb redis.UniversalClient, opts ...RedisOption) backend.EventLog {
	options := &RedisOptions{
		Options:   backend.ApplyOptions(),
		KeyPrefix: "taskweave:",
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisLog{
		rdb:     rdb,
		options: options,
	}
}

type redisLog struct {
	rdb     redis.UniversalClient
	options *RedisOptions
}

var _ backend.EventLog = (*redisLog)(nil)

func (rl *redisLog) CreateTask(ctx context.Context, task core.TaskID, taskType core.TaskType, definitionVersion int, created *history.Event) error {
	tk := taskKey(rl.options.KeyPrefix, task)
	ek := eventsKey(rl.options.KeyPrefix, task)

	eventData, err := json.Marshal(created)
	if err != nil {
		return err
	}

	err = rl.rdb.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, tk).Result()
		if err != nil {
			return err
		}

		if exists > 0 {
			return backend.ErrTaskAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, tk, map[string]interface{}{
				"task_type":          string(taskType),
				"definition_version": definitionVersion,
				"last_sequence_id":   created.SequenceID,
				"created_at":         created.Timestamp.UnixNano(),
			})
			p.RPush(ctx, ek, eventData)
			return nil
		})

		return err
	}, tk)

	if errors.Is(err, redis.TxFailedErr) {
		// Lost the race against a concurrent create
		return backend.ErrTaskAlreadyExists
	}
	if err != nil {
		return err
	}

	rl.options.Metrics.Counter(metrickeys.TaskCreated, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (rl *redisLog) AppendEvent(ctx context.Context, task core.TaskID, event *history.Event) error {
	tk := taskKey(rl.options.KeyPrefix, task)
	ek := eventsKey(rl.options.KeyPrefix, task)

	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = rl.rdb.Watch(ctx, func(tx *redis.Tx) error {
		lastSequenceID, err := tx.HGet(ctx, tk, "last_sequence_id").Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return backend.ErrTaskNotFound
			}

			return err
		}

		if event.SequenceID != lastSequenceID+1 {
			return backend.ErrSequenceConflict
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, ek, eventData)
			p.HSet(ctx, tk, "last_sequence_id", event.SequenceID)
			return nil
		})

		return err
	}, tk)

	if errors.Is(err, redis.TxFailedErr) {
		// Another writer appended between the read and the commit
		return backend.ErrSequenceConflict
	}
	if err != nil {
		return err
	}

	rl.options.Metrics.Counter(metrickeys.EventsAppended, metrics.Tags{metrickeys.Tenant: string(task.Tenant)}, 1)

	return nil
}

func (rl *redisLog) ReadAll(ctx context.Context, task core.TaskID) ([]*history.Event, error) {
	return rl.readRange(ctx, task, 0)
}

func (rl *redisLog) ReadAsOf(ctx context.Context, task core.TaskID, asOf time.Time) ([]*history.Event, error) {
	events, err := rl.readRange(ctx, task, 0)
	if err != nil {
		return nil, err
	}

	prefix := make([]*history.Event, 0, len(events))
	for _, e := range events {
		if e.Timestamp.After(asOf) {
			break
		}

		prefix = append(prefix, e)
	}

	return prefix, nil
}

func (rl *redisLog) ReadAfter(ctx context.Context, task core.TaskID, lastSequenceID int64) ([]*history.Event, error) {
	return rl.readRange(ctx, task, lastSequenceID)
}

func (rl *redisLog) readRange(ctx context.Context, task core.TaskID, start int64) ([]*history.Event, error) {
	if _, err := rl.TaskInfo(ctx, task); err != nil {
		return nil, err
	}

	data, err := rl.rdb.LRange(ctx, eventsKey(rl.options.KeyPrefix, task), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("could not read events: %w", err)
	}

	events := make([]*history.Event, 0, len(data))
	for _, d := range data {
		event := &history.Event{}
		if err := json.Unmarshal([]byte(d), event); err != nil {
			return nil, fmt.Errorf("could not unmarshal event: %w", err)
		}

		events = append(events, event)
	}

	return events, nil
}

func (rl *redisLog) TaskInfo(ctx context.Context, task core.TaskID) (*backend.TaskInfo, error) {
	fields, err := rl.rdb.HGetAll(ctx, taskKey(rl.options.KeyPrefix, task)).Result()
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, backend.ErrTaskNotFound
	}

	definitionVersion, err := strconv.Atoi(fields["definition_version"])
	if err != nil {
		return nil, fmt.Errorf("could not parse definition version: %w", err)
	}

	lastSequenceID, err := strconv.ParseInt(fields["last_sequence_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("could not parse last sequence id: %w", err)
	}

	return &backend.TaskInfo{
		Task:              task,
		TaskType:          core.TaskType(fields["task_type"]),
		DefinitionVersion: definitionVersion,
		LastSequenceID:    lastSequenceID,
	}, nil
}

func (rl *redisLog) Options() *backend.Options {
	return rl.options.Options
}

func (rl *redisLog) Close() error {
	return rl.rdb.Close()
}
