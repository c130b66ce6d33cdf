package backend

// StreamEvent is the JSON envelope carried on event-stream data lines while
// an assistant reply is being generated. delta and error never appear
// together; done terminates a successful stream and carries the identifier
// the backend persisted the assistant message under.
type StreamEvent struct {
	Delta     string `json:"delta,omitempty"`
	Error     string `json:"error,omitempty"`
	Done      bool   `json:"done,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}
