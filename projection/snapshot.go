package projection

import (
	"fmt"
	"time"

	"github.com/taskweave/taskweave/backend/history"
	"github.com/taskweave/taskweave/core"
	"github.com/taskweave/taskweave/workflow"
)

// Snapshot is a point-in-time fold of a task's events. It is derived and
// disposable; the event log remains the sole source of truth and any
// snapshot can be recomputed from it.
type Snapshot struct {
	Task     core.TaskID
	TaskType core.TaskType

	// DefinitionVersion pinned at task creation
	DefinitionVersion int

	InitialState workflow.State
	State        workflow.State

	// Terminal and Failed mirror the flags recorded on the transition that
	// entered the current state.
	Terminal bool
	Failed   bool

	Assignees    []string
	Dependencies []core.TaskID

	CreatedAt  time.Time
	ModifiedAt time.Time

	// StartedAt is set when the task first leaves its initial state; the
	// SLA clock starts here.
	StartedAt *time.Time

	// CompletedAt is set when the task enters a terminal state; the SLA
	// clock stops here.
	CompletedAt *time.Time

	// SLA clock pause bookkeeping
	Paused      bool
	PausedAt    *time.Time
	PausedTotal time.Duration

	Escalated bool

	LastSequenceID int64
}

// Fold folds the given ordered events into a snapshot. Folding is a pure
// function of the event sequence: replaying the same prefix always yields
// the same snapshot. Incremental application via Apply must produce the
// identical result.
func Fold(task core.TaskID, events []*history.Event) (*Snapshot, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events for task %v", task)
	}

	s := &Snapshot{Task: task}
	for _, e := range events {
		if err := s.Apply(e); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Apply advances the snapshot by a single event. Events must be applied in
// sequence order.
func (s *Snapshot) Apply(e *history.Event) error {
	if e.SequenceID != s.LastSequenceID+1 {
		return fmt.Errorf("event %v out of order: got sequence %d, expected %d", e.ID, e.SequenceID, s.LastSequenceID+1)
	}

	switch a := e.Attributes.(type) {
	case *history.TaskCreatedAttributes:
		s.TaskType = a.TaskType
		s.DefinitionVersion = e.DefinitionVersion
		s.InitialState = workflow.State(a.InitialState)
		s.State = workflow.State(a.InitialState)
		s.Assignees = append([]string(nil), a.Assignees...)
		s.CreatedAt = e.Timestamp

	case *history.TransitionAppliedAttributes:
		s.State = workflow.State(a.ResultingState)
		s.Terminal = a.Terminal
		s.Failed = a.Failure

		// entering a new state arms a new SLA breach crossing
		s.Escalated = false

		if s.StartedAt == nil && workflow.State(a.PriorState) == s.InitialState {
			t := e.Timestamp
			s.StartedAt = &t
		}

		if a.Terminal && s.CompletedAt == nil {
			t := e.Timestamp
			s.CompletedAt = &t
		}

	case *history.AssigneesChangedAttributes:
		for _, added := range a.Added {
			if !contains(s.Assignees, added) {
				s.Assignees = append(s.Assignees, added)
			}
		}

		for _, removed := range a.Removed {
			s.Assignees = remove(s.Assignees, removed)
		}

	case *history.DependencyAddedAttributes:
		if !containsTask(s.Dependencies, a.DependsOn) {
			s.Dependencies = append(s.Dependencies, a.DependsOn)
		}

	case *history.DependencyRemovedAttributes:
		s.Dependencies = removeTask(s.Dependencies, a.DependsOn)

	case *history.ClockPausedAttributes:
		if !s.Paused {
			t := e.Timestamp
			s.Paused = true
			s.PausedAt = &t
		}

	case *history.ClockResumedAttributes:
		if s.Paused {
			s.PausedTotal += e.Timestamp.Sub(*s.PausedAt)
			s.Paused = false
			s.PausedAt = nil
		}

	case *history.CommentAddedAttributes:
		// comments only contribute to the modification timestamp

	case *history.EscalationRaisedAttributes:
		s.Escalated = true

	default:
		return fmt.Errorf("unknown attributes %T on event %v", e.Attributes, e.ID)
	}

	s.ModifiedAt = e.Timestamp
	s.LastSequenceID = e.SequenceID

	return nil
}

func (s *Snapshot) Clone() *Snapshot {
	c := *s

	c.Assignees = append([]string(nil), s.Assignees...)
	c.Dependencies = append([]core.TaskID(nil), s.Dependencies...)

	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		c.PausedAt = &t
	}

	return &c
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}

	return false
}

func remove(ss []string, s string) []string {
	r := ss[:0]
	for _, v := range ss {
		if v != s {
			r = append(r, v)
		}
	}

	return r
}

func containsTask(ts []core.TaskID, t core.TaskID) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}

	return false
}

func removeTask(ts []core.TaskID, t core.TaskID) []core.TaskID {
	r := ts[:0]
	for _, v := range ts {
		if v != t {
			r = append(r, v)
		}
	}

	return r
}
