package history

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type EventType uint

const (
	_ EventType = iota

	EventType_TaskCreated
	EventType_TransitionApplied

	EventType_AssigneesChanged
	EventType_DependencyAdded
	EventType_DependencyRemoved

	EventType_ClockPaused
	EventType_ClockResumed

	EventType_CommentAdded

	EventType_EscalationRaised
)

func (et EventType) String() string {
	switch et {
	case EventType_TaskCreated:
		return "TaskCreated"
	case EventType_TransitionApplied:
		return "TransitionApplied"

	case EventType_AssigneesChanged:
		return "AssigneesChanged"
	case EventType_DependencyAdded:
		return "DependencyAdded"
	case EventType_DependencyRemoved:
		return "DependencyRemoved"

	case EventType_ClockPaused:
		return "ClockPaused"
	case EventType_ClockResumed:
		return "ClockResumed"

	case EventType_CommentAdded:
		return "CommentAdded"

	case EventType_EscalationRaised:
		return "EscalationRaised"
	default:
		return "Unknown"
	}
}

// Event is an immutable record of one applied change to a task. Events are
// owned exclusively by the event log; once appended they are never mutated
// or deleted, corrections are modeled as new compensating events.
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id,omitempty"`

	Type EventType `json:"type,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`

	// SequenceID is monotonically increasing and scoped to a task, starting
	// at 1 with the TaskCreated event.
	SequenceID int64 `json:"sequence_id,omitempty"`

	// Actor is the id of the caller that requested the change
	Actor string `json:"actor,omitempty"`

	// DefinitionVersion is the workflow definition version this event was
	// validated against. Recorded so replaying history reproduces historical
	// decisions even after the definition is replaced.
	DefinitionVersion int `json:"definition_version,omitempty"`

	// Attributes are event type specific attributes
	Attributes interface{} `json:"attr,omitempty"`
}

func (e *Event) String() string {
	return strconv.Itoa(int(e.Type))
}

type EventOption func(e *Event)

func WithActor(actor string) EventOption {
	return func(e *Event) {
		e.Actor = actor
	}
}

func WithSequenceID(sequenceID int64) EventOption {
	return func(e *Event) {
		e.SequenceID = sequenceID
	}
}

func WithDefinitionVersion(version int) EventOption {
	return func(e *Event) {
		e.DefinitionVersion = version
	}
}

func NewEvent(timestamp time.Time, eventType EventType, attributes interface{}, opts ...EventOption) *Event {
	e := &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  timestamp,
		Attributes: attributes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
