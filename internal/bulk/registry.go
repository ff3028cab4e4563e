package bulk

import (
	"fmt"
	"sync"
)

// Registry maps action kinds to mutation functions. Kinds are registered
// once at startup; the manager resolves a kind at operation creation and
// carries the function on the operation record, so dispatch never consults
// the registry per item.
type Registry struct {
	mu      sync.RWMutex
	actions map[ActionKind]MutationFunc
	order   []ActionKind // registration order
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[ActionKind]MutationFunc),
		order:   make([]ActionKind, 0),
	}
}

// Register adds an action kind to the registry.
func (r *Registry) Register(kind ActionKind, fn MutationFunc) error {
	if kind == "" {
		return fmt.Errorf("action kind cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("cannot register nil mutation function for %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[kind]; exists {
		return fmt.Errorf("action kind %s already registered", kind)
	}

	r.actions[kind] = fn
	r.order = append(r.order, kind)
	return nil
}

// Resolve returns the mutation function for a kind.
func (r *Registry) Resolve(kind ActionKind) (MutationFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, exists := r.actions[kind]
	if !exists {
		return nil, NewValidationError(fmt.Sprintf("unknown action kind: %s", kind))
	}
	return fn, nil
}

// Has checks whether a kind is registered.
func (r *Registry) Has(kind ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.actions[kind]
	return exists
}

// Kinds returns all registered action kinds in registration order.
func (r *Registry) Kinds() []ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]ActionKind, len(r.order))
	copy(kinds, r.order)
	return kinds
}

// Count returns the number of registered action kinds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
