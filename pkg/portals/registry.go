package portals

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Registry maps portal targets to strategies. Unknown targets get the generic
// strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		fallback:   NewGeneric(logger),
		logger:     logger.With("module", "portal_registry"),
	}
}

// DefaultRegistry returns a registry with the built-in carrier strategies.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("fedex", NewFedEx(logger))
	r.Register("ups", NewUPS(logger))
	r.Register("usps", NewUSPS(logger))

	return r
}

func (r *Registry) Register(target string, strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies[normalize(target)] = strategy
	r.logger.Debug("registered portal strategy", "target", target)
}

// Get returns the strategy for target, or the generic one.
func (r *Registry) Get(target string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strategy, ok := r.strategies[normalize(target)]; ok {
		return strategy
	}

	return r.fallback
}

// Targets lists the targets with a dedicated strategy.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.strategies))
}

func normalize(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
