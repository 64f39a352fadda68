// Package registry maps node types to their handlers and validates workflow
// definitions against them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/go-playground/validator/v10"
)

var ErrNodeTypeNotRegistered = errors.New("node type not registered")

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	handlers  map[models.NodeType]protocol.NodeHandler
	validator *validator.Validate
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		handlers:  make(map[models.NodeType]protocol.NodeHandler),
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterNode adds or replaces the handler for its node type.
func (r *Registry) RegisterNode(handler protocol.NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[handler.Type()] = handler
	r.logger.Debug("registered node handler", "type", handler.Type())
}

func (r *Registry) Get(nodeType models.NodeType) (protocol.NodeHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeNotRegistered, nodeType)
	}

	return handler, nil
}

// Handlers returns every registered handler ordered by type.
func (r *Registry) Handlers() []protocol.NodeHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]protocol.NodeHandler, 0, len(r.handlers))
	for _, handler := range r.handlers {
		handlers = append(handlers, handler)
	}

	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].Type() < handlers[j].Type()
	})

	return handlers
}

// HealthCheck reports whether any node handlers are registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.handlers) == 0 {
		return "No node handlers registered", false
	}

	return fmt.Sprintf("%d node handlers registered", len(r.handlers)), true
}

// Execute dispatches to the handler for the node's type. A panicking handler
// is reported as a NodeActionError.
func (r *Registry) Execute(ctx context.Context, input protocol.NodeInput) (result protocol.Result, err error) {
	handler, err := r.Get(input.Node.Type)
	if err != nil {
		return protocol.Result{}, protocol.NewNodeActionError(input, err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "node handler panicked",
				"node_id", input.Node.ID, "node_type", input.Node.Type, "panic", rec)

			result, err = protocol.Result{}, protocol.NewNodeActionError(input, fmt.Errorf("handler panicked: %v", rec))
		}
	}()

	result, err = handler.Execute(ctx, input)
	if err != nil {
		var actionErr *protocol.NodeActionError
		if !errors.As(err, &actionErr) {
			err = protocol.NewNodeActionError(input, err)
		}

		return protocol.Result{}, err
	}

	if result.Output == nil {
		result.Output = map[string]any{}
	}

	return result, nil
}
