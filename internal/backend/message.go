package backend

// Message represents a persisted chat message
type Message struct {
	ID        string `json:"id"`
	ThreadID  string `json:"threadId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// MessagesResponse represents the response from GET /api/threads/{id}/messages
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// PostMessageRequest represents the request body for
// POST /api/threads/{id}/messages
type PostMessageRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream"`
}

// MessagePairResponse represents the non-streaming response from
// POST /api/threads/{id}/messages: the persisted user message and the
// assistant's full reply.
type MessagePairResponse struct {
	UserMessage      Message `json:"userMessage"`
	AssistantMessage Message `json:"assistantMessage"`
}
