package agent

import "sync"

// Registry tracks live agents by call ID so transport handlers can route
// media frames to the right call.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Insert registers an agent under its call ID, replacing any prior entry.
func (r *Registry) Insert(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID()] = a
}

// Lookup returns the agent for a call ID, or nil when none is registered.
func (r *Registry) Lookup(callID string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[callID]
}

// Remove drops the entry for a call ID. Removing an unknown ID is a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, callID)
}

// Len reports the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Each calls fn for every registered agent.
func (r *Registry) Each(fn func(*Agent)) {
	r.mu.RLock()
	snapshot := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		snapshot = append(snapshot, a)
	}
	r.mu.RUnlock()
	for _, a := range snapshot {
		fn(a)
	}
}
