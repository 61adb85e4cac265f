package postgres

import (
	"fmt"

	"content-router/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	pgConfig, ok := config.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config type for PostgreSQL factory")
	}
	return NewAdapter(pgConfig)
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
