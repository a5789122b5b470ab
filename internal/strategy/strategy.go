// Package strategy provides signal-generating strategies for the fund engine.
package strategy

import (
	"fmt"
	"sync"

	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/internal/portfolio"
	"go.uber.org/zap"
)

// Factory builds a strategy bound to one portfolio and the shared event
// queue. Parameters are strategy-specific.
type Factory func(logger *zap.Logger, queue *fund.Queue, p *portfolio.Portfolio, params map[string]any) (fund.Strategy, error)

// Registry manages available strategies by name.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}
	r.Register("sma_crossover", NewSMACrossover)
	return r
}

// Register adds a strategy factory under a name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a registered strategy.
func (r *Registry) Create(name string, logger *zap.Logger, queue *fund.Queue, p *portfolio.Portfolio, params map[string]any) (fund.Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(logger, queue, p, params)
}

// List returns the registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
