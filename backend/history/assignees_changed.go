package history

type AssigneesChangedAttributes struct {
	Added []string `json:"added,omitempty"`

	Removed []string `json:"removed,omitempty"`
}
