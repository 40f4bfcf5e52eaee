package history

import "github.com/taskweave/taskweave/core"

type TransitionAppliedAttributes struct {
	PriorState string `json:"prior_state,omitempty"`

	Action string `json:"action,omitempty"`

	ResultingState string `json:"resulting_state,omitempty"`

	// Terminal records whether the resulting state was terminal under the
	// definition version the transition was validated against.
	Terminal bool `json:"terminal,omitempty"`

	// Failure records whether the resulting state counts as an unsuccessful
	// completion. Only meaningful when Terminal is set.
	Failure bool `json:"failure,omitempty"`

	Payload core.Metadata `json:"payload,omitempty"`
}
