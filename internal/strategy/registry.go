package strategy

import (
	"github.com/quantarc/portsim/pkg/errors"
)

// Registry holds the strategies available to a portfolio, keyed by name.
type Registry struct {
	strategies map[string]Strategy
	order      []string
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		order:      nil,
	}
}

// Register adds a strategy. Registering the same name twice is an error.
func (r *Registry) Register(s Strategy) error {
	if _, exists := r.strategies[s.Name()]; exists {
		return errors.Newf(errors.ErrCodeStrategyAlreadyExists, "strategy %q already registered", s.Name())
	}

	r.strategies[s.Name()] = s
	r.order = append(r.order, s.Name())

	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "no strategy %q registered", name)
	}

	return s, nil
}

// Names returns the registered names in registration order. Iteration order
// matters to the engine's determinism guarantee, so callers must use this
// instead of ranging over an internal map.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)

	return names
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	return len(r.order)
}
