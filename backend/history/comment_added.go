package history

type CommentAddedAttributes struct {
	Text string `json:"text,omitempty"`
}
