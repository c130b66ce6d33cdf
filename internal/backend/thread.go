package backend

// Thread represents a persisted conversation session
type Thread struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	UserID    string `json:"userId"`
	AgentID   string `json:"agentId"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// ThreadsResponse represents the response from GET /api/threads/
type ThreadsResponse struct {
	Threads []Thread `json:"threads"`
}

// ThreadResponse represents the response from POST /api/threads/ and
// PATCH /api/threads/{id}
type ThreadResponse struct {
	Thread Thread `json:"thread"`
}

// CreateThreadRequest represents the request body for POST /api/threads/
type CreateThreadRequest struct {
	AgentID string `json:"agentId"`
	Title   string `json:"title"`
}

// UpdateThreadRequest represents the request body for PATCH /api/threads/{id}
type UpdateThreadRequest struct {
	Title string `json:"title"`
}
