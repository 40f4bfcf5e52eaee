package history

import "time"

type EscalationRaisedAttributes struct {
	State string `json:"state,omitempty"`

	Threshold time.Duration `json:"threshold,omitempty"`

	Elapsed time.Duration `json:"elapsed,omitempty"`
}
