// Package balancer selects an endpoint from a candidate set for a new
// request. Strategies only ever see the healthy subset; when nothing is
// healthy, selection returns nil and the caller decides how to degrade.
package balancer

import (
	"sync"

	"github.com/a2z2k25/connmgr/internal/model"
)

// Criteria narrows the candidate set before the strategy runs.
type Criteria struct {
	// Type, when set, restricts candidates to one endpoint type.
	Type model.EndpointType
}

// Strategy picks one endpoint from a non-empty healthy subset.
type Strategy interface {
	Pick(healthy []*model.Endpoint) *model.Endpoint
}

// Balancer applies health filtering and criteria, then delegates to the
// configured strategy.
type Balancer struct {
	strategy Strategy
}

// New creates a balancer. A nil strategy falls back to round-robin.
func New(strategy Strategy) *Balancer {
	if strategy == nil {
		strategy = NewRoundRobin()
	}
	return &Balancer{strategy: strategy}
}

// Select returns one healthy endpoint matching the criteria, or nil when none
// qualifies.
func (b *Balancer) Select(endpoints []*model.Endpoint, crit Criteria) *model.Endpoint {
	healthy := make([]*model.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep == nil || !ep.Healthy() {
			continue
		}
		if crit.Type != "" && ep.Type != crit.Type {
			continue
		}
		healthy = append(healthy, ep)
	}
	if len(healthy) == 0 {
		return nil
	}
	return b.strategy.Pick(healthy)
}

// RoundRobin cycles through the healthy subset. The cursor is monotonic and
// never reset between calls, so distribution stays approximately even over
// time even as the healthy subset changes.
type RoundRobin struct {
	mu     sync.Mutex
	cursor uint64
}

// NewRoundRobin creates the default strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the endpoint at the current cursor position.
func (r *RoundRobin) Pick(healthy []*model.Endpoint) *model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := healthy[r.cursor%uint64(len(healthy))]
	r.cursor++
	return ep
}

// Weighted implements smooth weighted round-robin: each pick raises every
// endpoint's running weight by its configured weight, selects the highest,
// and debits the winner by the weight total. Endpoints with no configured
// weight count as weight 1.
type Weighted struct {
	mu      sync.Mutex
	current map[string]int
}

// NewWeighted creates a weighted strategy.
func NewWeighted() *Weighted {
	return &Weighted{current: make(map[string]int)}
}

// Pick returns the endpoint with the highest running weight.
func (w *Weighted) Pick(healthy []*model.Endpoint) *model.Endpoint {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := 0
	var best *model.Endpoint
	for _, ep := range healthy {
		weight := ep.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
		w.current[ep.ID] += weight
		if best == nil || w.current[ep.ID] > w.current[best.ID] {
			best = ep
		}
	}
	w.current[best.ID] -= total
	return best
}

// Priority restricts selection to the best (lowest) priority value present in
// the healthy subset, then round-robins within that group.
type Priority struct {
	rr RoundRobin
}

// NewPriority creates a priority-first strategy.
func NewPriority() *Priority {
	return &Priority{}
}

// Pick returns an endpoint from the best priority group.
func (p *Priority) Pick(healthy []*model.Endpoint) *model.Endpoint {
	best := healthy[0].Priority
	for _, ep := range healthy[1:] {
		if ep.Priority < best {
			best = ep.Priority
		}
	}
	group := make([]*model.Endpoint, 0, len(healthy))
	for _, ep := range healthy {
		if ep.Priority == best {
			group = append(group, ep)
		}
	}
	return p.rr.Pick(group)
}
