package mcptool

import "content-router/internal/adapters"

type Factory struct{}

func (f *Factory) Create(deps *adapters.Deps) adapters.Adapter {
	return &Adapter{deps: deps, logger: deps.Logger}
}

func (f *Factory) GetType() string {
	return AdapterType
}

func init() {
	adapters.Register(AdapterType, &Factory{})
}
