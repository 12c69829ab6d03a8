package agents

import (
	"sync"

	"github.com/salonflow/controlplane/pkg/contracts"
)

// Registry is a static, thread-safe map from agent name to implementation,
// satisfying pipeline.AgentRegistry. Agents are registered once at startup.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]contracts.Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]contracts.Agent)}
}

// Register adds an agent under its own Name().
func (r *Registry) Register(agent contracts.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.Name()] = agent
}

// Get resolves an agent by name.
func (r *Registry) Get(name string) (contracts.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// List returns the names of every registered agent.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}
