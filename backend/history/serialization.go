package history

import (
	"encoding/json"
	"fmt"
)

func (e *Event) UnmarshalJSON(data []byte) error {
	type Aevent Event
	a := &struct {
		// Attributes allows us to defer unmarshaling the events. Has to match the struct tag in Event
		Attributes json.RawMessage `json:"attr,omitempty"`
		*Aevent
	}{
		Aevent: (*Aevent)(e),
	}

	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*e = *(*Event)(a.Aevent)
	attributes, err := DeserializeAttributes(e.Type, a.Attributes)
	if err != nil {
		return err
	}

	e.Attributes = attributes

	return nil
}

func SerializeAttributes(attributes interface{}) ([]byte, error) {
	return json.Marshal(attributes)
}

func DeserializeAttributes(eventType EventType, attributes []byte) (attr interface{}, err error) {
	switch eventType {
	case EventType_TaskCreated:
		attr = &TaskCreatedAttributes{}
	case EventType_TransitionApplied:
		attr = &TransitionAppliedAttributes{}

	case EventType_AssigneesChanged:
		attr = &AssigneesChangedAttributes{}
	case EventType_DependencyAdded:
		attr = &DependencyAddedAttributes{}
	case EventType_DependencyRemoved:
		attr = &DependencyRemovedAttributes{}

	case EventType_ClockPaused:
		attr = &ClockPausedAttributes{}
	case EventType_ClockResumed:
		attr = &ClockResumedAttributes{}

	case EventType_CommentAdded:
		attr = &CommentAddedAttributes{}

	case EventType_EscalationRaised:
		attr = &EscalationRaisedAttributes{}

	default:
		return nil, fmt.Errorf("unknown event type %v when deserializing attributes", eventType)
	}

	err = json.Unmarshal(attributes, &attr)
	return attr, err
}
