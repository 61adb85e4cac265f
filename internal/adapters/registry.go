package adapters

import (
	"fmt"
	"sync"
)

// Factory creates adapter instances for one destination kind. Factories
// are stateless; each rule gets a fresh adapter instance.
type Factory interface {
	Create(deps *Deps) Adapter
	GetType() string
}

// Registry maps adapter type strings to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(adapterType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[adapterType] = factory
}

func (r *Registry) Create(adapterType string, deps *Deps) (Adapter, error) {
	r.mu.RLock()
	factory, exists := r.factories[adapterType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("adapter type %s not registered", adapterType)
	}

	return factory.Create(deps), nil
}

func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for adapterType := range r.factories {
		types = append(types, adapterType)
	}
	return types
}

var DefaultRegistry = NewRegistry()

func Register(adapterType string, factory Factory) {
	DefaultRegistry.Register(adapterType, factory)
}

func Create(adapterType string, deps *Deps) (Adapter, error) {
	return DefaultRegistry.Create(adapterType, deps)
}
