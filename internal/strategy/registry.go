package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// Registry manages a named collection of strategies that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds s under its own name, replacing any previous entry.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Select builds a Chain of the named strategies in the order given.
func (r *Registry) Select(names []string) (Chain, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("strategy: no strategies selected")
	}
	chain := make(Chain, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}
