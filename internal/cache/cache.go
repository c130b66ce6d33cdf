package cache

import (
	"sync"
	"time"

	"CompassChat/internal/backend"
)

// DefaultAgentTTL bounds how long a fetched agent list is reused before the
// next session creation re-asks the backend.
const DefaultAgentTTL = 5 * time.Minute

// Agents caches the result of GET /api/agents/ so repeated session creation
// does not pay a round trip for a list that rarely changes.
type Agents struct {
	mu        sync.Mutex
	ttl       time.Duration
	agents    []backend.Agent
	fetchedAt time.Time
}

// NewAgents creates an agent cache. A non-positive ttl falls back to
// DefaultAgentTTL.
func NewAgents(ttl time.Duration) *Agents {
	if ttl <= 0 {
		ttl = DefaultAgentTTL
	}
	return &Agents{ttl: ttl}
}

// Get returns the cached agent list, or false when empty or expired.
func (c *Agents) Get() ([]backend.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.agents) == 0 || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	out := make([]backend.Agent, len(c.agents))
	copy(out, c.agents)
	return out, true
}

// Put stores a freshly fetched agent list.
func (c *Agents) Put(agents []backend.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = append([]backend.Agent(nil), agents...)
	c.fetchedAt = time.Now()
}

// Invalidate drops the cached list.
func (c *Agents) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents = nil
}
