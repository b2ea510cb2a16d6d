package node

import (
	"sort"
	"sync"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// ClientRegistry maps a venue to its data and execution client factories.
type ClientRegistry struct {
	mu   sync.RWMutex
	data map[model.Venue]venue.DataClientFactory
	exec map[model.Venue]venue.ExecClientFactory
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		data: make(map[model.Venue]venue.DataClientFactory),
		exec: make(map[model.Venue]venue.ExecClientFactory),
	}
}

// RegisterData adds or replaces the data client factory for v.
func (r *ClientRegistry) RegisterData(v model.Venue, f venue.DataClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[v] = f
}

// RegisterExec adds or replaces the execution client factory for v.
func (r *ClientRegistry) RegisterExec(v model.Venue, f venue.ExecClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec[v] = f
}

// registrySnapshot is the frozen view build() resolves against.
type registrySnapshot struct {
	data map[model.Venue]venue.DataClientFactory
	exec map[model.Venue]venue.ExecClientFactory
}

func (r *ClientRegistry) snapshot() registrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := registrySnapshot{
		data: make(map[model.Venue]venue.DataClientFactory, len(r.data)),
		exec: make(map[model.Venue]venue.ExecClientFactory, len(r.exec)),
	}
	for v, f := range r.data {
		s.data[v] = f
	}
	for v, f := range r.exec {
		s.exec[v] = f
	}
	return s
}

// Venues returns every venue with at least one registered factory.
func (r *ClientRegistry) Venues() []model.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[model.Venue]struct{})
	for v := range r.data {
		seen[v] = struct{}{}
	}
	for v := range r.exec {
		seen[v] = struct{}{}
	}
	return sortedVenues(seen)
}

func sortedVenues[T any](m map[model.Venue]T) []model.Venue {
	out := make([]model.Venue, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
