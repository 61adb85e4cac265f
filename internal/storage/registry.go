package storage

import (
	"fmt"
	"sync"
)

// Factory creates a connected Storage for one backend type.
type Factory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// Registry maps backend type strings to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(storageType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[storageType] = factory
}

func (r *Registry) Create(storageType string, config StorageConfig) (Storage, error) {
	r.mu.RLock()
	factory, exists := r.factories[storageType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("storage type %s not registered", storageType)
	}

	return factory.Create(config)
}

func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for storageType := range r.factories {
		types = append(types, storageType)
	}
	return types
}

var DefaultRegistry = NewRegistry()

func Register(storageType string, factory Factory) {
	DefaultRegistry.Register(storageType, factory)
}

func Create(storageType string, config StorageConfig) (Storage, error) {
	return DefaultRegistry.Create(storageType, config)
}
