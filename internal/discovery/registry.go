package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/opsmesh/opsmesh/internal/a2a"
)

// Descriptor is the registry's record of one agent: its published card plus
// the liveness state the discovery service maintains for it.
type Descriptor struct {
	a2a.AgentCard
	Status        a2a.AgentStatus `json:"status"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
}

// Registry holds the current known set of agents. It is owned by the
// Service; all mutation goes through serialized Service operations.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Descriptor)}
}

// Get returns a copy of the descriptor for an agent, if present.
func (r *Registry) Get(agentID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.agents[agentID]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// List returns copies of all descriptors sorted by agent id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.agents))
	for _, d := range r.agents {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) put(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[d.AgentID] = d
}

func (r *Registry) delete(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

func (r *Registry) get(agentID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.agents[agentID]
	return d, ok
}

// update applies fn to the live descriptor under the write lock.
func (r *Registry) update(agentID string, fn func(*Descriptor)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.agents[agentID]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// byCapability returns copies of non-UNREACHABLE agents declaring the
// capability, ordered most-idle first: ACTIVE before BUSY, then most recent
// heartbeat.
func (r *Registry) byCapability(name string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, d := range r.agents {
		if d.Status == a2a.StatusUnreachable {
			continue
		}
		if d.HasCapability(name) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == a2a.StatusActive
		}
		return out[i].LastHeartbeat.After(out[j].LastHeartbeat)
	})
	return out
}
