package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskweave/taskweave/backend"
	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/projection"
)

// AddDependency records that task is blocked by dependsOn. The dependency
// graph holds identity references only and must never cycle.
func (e *Engine) AddDependency(ctx context.Context, task core.TaskID, dependsOn core.TaskID, actor string) error {
	if task == dependsOn {
		return fmt.Errorf("task %v cannot depend on itself", task)
	}

	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	if _, err := e.log.TaskInfo(ctx, dependsOn); err != nil {
		return fmt.Errorf("dependency %v: %w", dependsOn, err)
	}

	cycle, err := e.wouldCycle(ctx, task, dependsOn)
	if err != nil {
		return err
	}
	if cycle {
		return fmt.Errorf("dependency %v -> %v would create a cycle", task, dependsOn)
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_DependencyAdded,
		&history.DependencyAddedAttributes{DependsOn: dependsOn},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

func (e *Engine) RemoveDependency(ctx context.Context, task core.TaskID, dependsOn core.TaskID, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_DependencyRemoved,
		&history.DependencyRemovedAttributes{DependsOn: dependsOn},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

// Reassign adds and removes assignees in a single event.
func (e *Engine) Reassign(ctx context.Context, task core.TaskID, add, remove []string, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_AssigneesChanged,
		&history.AssigneesChangedAttributes{Added: add, Removed: remove},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

// PauseClock records the start of a non-working interval for the task's SLA
// clock.
func (e *Engine) PauseClock(ctx context.Context, task core.TaskID, reason string, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	if snapshot.Paused {
		return fmt.Errorf("task %v clock is already paused", task)
	}

	if snapshot.Terminal {
		return fmt.Errorf("task %v is already in a terminal state", task)
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_ClockPaused,
		&history.ClockPausedAttributes{Reason: reason},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

func (e *Engine) ResumeClock(ctx context.Context, task core.TaskID, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	if !snapshot.Paused {
		return fmt.Errorf("task %v clock is not paused", task)
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_ClockResumed,
		&history.ClockResumedAttributes{},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

// Comment appends free-form text to the task's history.
func (e *Engine) Comment(ctx context.Context, task core.TaskID, text string, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_CommentAdded,
		&history.CommentAddedAttributes{Text: text},
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

// RaiseEscalation records that an SLA breach was detected for the task. Used
// by the SLA monitor; advisory only, it does not change the task's state.
func (e *Engine) RaiseEscalation(ctx context.Context, task core.TaskID, attrs *history.EscalationRaisedAttributes, actor string) error {
	snapshot, err := e.projector.CurrentState(ctx, task)
	if err != nil {
		return err
	}

	event := history.NewEvent(
		e.clock.Now(),
		history.EventType_EscalationRaised,
		attrs,
		history.WithActor(actor),
		history.WithSequenceID(snapshot.LastSequenceID+1),
		history.WithDefinitionVersion(snapshot.DefinitionVersion),
	)

	return e.append(ctx, task, event)
}

// wouldCycle walks the dependency graph starting at dependsOn and reports
// whether it can reach task.
func (e *Engine) wouldCycle(ctx context.Context, task core.TaskID, dependsOn core.TaskID) (bool, error) {
	visited := map[core.TaskID]bool{}

	var visit func(t core.TaskID) (bool, error)
	visit = func(t core.TaskID) (bool, error) {
		if t == task {
			return true, nil
		}

		if visited[t] {
			return false, nil
		}
		visited[t] = true

		s, err := e.projector.CurrentState(ctx, t)
		if err != nil {
			if errors.Is(err, backend.ErrTaskNotFound) {
				return false, nil
			}

			return false, err
		}

		for _, dep := range s.Dependencies {
			cycle, err := visit(dep)
			if err != nil || cycle {
				return cycle, err
			}
		}

		return false, nil
	}

	return visit(dependsOn)
}

// Snapshot of the task's current state, via the projector.
func (e *Engine) Snapshot(ctx context.Context, task core.TaskID) (*projection.Snapshot, error) {
	return e.projector.CurrentState(ctx, task)
}
