package history

type ClockPausedAttributes struct {
	Reason string `json:"reason,omitempty"`
}

type ClockResumedAttributes struct {
}
