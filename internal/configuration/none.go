package configuration

import (
	"context"

	"github.com/anvil-platform/strata/internal/module"
)

// NoneProvider accepts watchers and never notifies them.
type NoneProvider struct {
	module.ProviderBase
}

func NewNoneProvider() module.Provider { return &NoneProvider{} }

func (p *NoneProvider) Name() string              { return "none" }
func (p *NoneProvider) Module() string            { return ModuleName }
func (p *NoneProvider) Config() any               { return nil }
func (p *NoneProvider) RequiredModules() []string { return nil }

func (p *NoneProvider) Prepare(ctx context.Context) error {
	return module.Register[DynamicConfigurationService](p, NewWatcherRegister(nil, p.Logger(ctx)))
}

func (p *NoneProvider) Start(ctx context.Context) error                { return nil }
func (p *NoneProvider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Register adds the configuration module and its none provider to c.
func Register(c *module.Catalog) {
	c.Define(Definition()).Provide(NewNoneProvider)
}
