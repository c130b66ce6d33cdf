// Package backend defines the wire types for the Future-Compass API. Field
// names follow the backend's camelCase JSON convention.
package backend

// Agent represents a configured responder on the backend
type Agent struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenantId"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	CreatedAt    string   `json:"createdAt"`
}

// AgentsResponse represents the response from GET /api/agents/
type AgentsResponse struct {
	Agents []Agent `json:"agents"`
}

// HealthResponse represents the response from GET /health
type HealthResponse struct {
	OK bool `json:"ok"`
}
