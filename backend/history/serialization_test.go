package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Event_RoundTripPreservesAttributeType(t *testing.T) {
	e := NewEvent(time.Now().UTC(), EventType_TransitionApplied, &TransitionAppliedAttributes{
		PriorState:     "Open",
		Action:         "start",
		ResultingState: "InProgress",
	}, WithSequenceID(2), WithActor("alice"), WithDefinitionVersion(3))

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(b, &got))

	require.Equal(t, e.ID, got.ID)
	require.Equal(t, EventType_TransitionApplied, got.Type)
	require.Equal(t, int64(2), got.SequenceID)
	require.Equal(t, "alice", got.Actor)
	require.Equal(t, 3, got.DefinitionVersion)

	attr, ok := got.Attributes.(*TransitionAppliedAttributes)
	require.True(t, ok, "attributes should deserialize to the concrete type")
	require.Equal(t, "start", attr.Action)
	require.Equal(t, "InProgress", attr.ResultingState)
}

func Test_DeserializeAttributes_UnknownType(t *testing.T) {
	_, err := DeserializeAttributes(EventType(42), []byte(`{}`))
	require.Error(t, err)
}

func Test_DeserializeAttributes_AllTypes(t *testing.T) {
	types := []EventType{
		EventType_TaskCreated,
		EventType_TransitionApplied,
		EventType_AssigneesChanged,
		EventType_DependencyAdded,
		EventType_DependencyRemoved,
		EventType_ClockPaused,
		EventType_ClockResumed,
		EventType_CommentAdded,
		EventType_EscalationRaised,
	}

	for _, et := range types {
		t.Run(et.String(), func(t *testing.T) {
			attr, err := DeserializeAttributes(et, []byte(`{}`))
			require.NoError(t, err)
			require.NotNil(t, attr)
		})
	}
}
