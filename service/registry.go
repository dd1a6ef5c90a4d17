package service

import (
	"sort"
	"sync"

	"hamlet/api/model"
)

// AgentRegistry is the live collection of spawned agents, keyed by agent URL.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]model.SpawnEvent
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]model.SpawnEvent)}
}

func (r *AgentRegistry) Has(agentURL string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentURL]
	return ok
}

// Add records the agent and reports false when it was already present.
func (r *AgentRegistry) Add(ev model.SpawnEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[ev.AgentURL]; ok {
		return false
	}
	r.agents[ev.AgentURL] = ev
	return true
}

func (r *AgentRegistry) Get(agentURL string) (model.SpawnEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.agents[agentURL]
	return ev, ok
}

// List returns the spawned agents in spawn order.
func (r *AgentRegistry) List() []model.SpawnEvent {
	r.mu.RLock()
	out := make([]model.SpawnEvent, 0, len(r.agents))
	for _, ev := range r.agents {
		out = append(out, ev)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SpawnedAt.Equal(out[j].SpawnedAt) {
			return out[i].SpawnedAt.Before(out[j].SpawnedAt)
		}
		return out[i].AgentURL < out[j].AgentURL
	})
	return out
}

func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
