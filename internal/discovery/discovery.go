// Package discovery is the configuration-discovery module. It serves each
// service's agent configuration, taken from a dynamic setting, over the
// receiver gRPC server.
package discovery

import (
	"context"

	"github.com/anvil-platform/strata/internal/configuration"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/server"
	"github.com/anvil-platform/strata/internal/sharing"
)

const ModuleName = "configuration-discovery"

func Definition() module.Definition {
	return module.NewDefinition(ModuleName, module.ServiceType[*Watcher]())
}

type Config struct {
	// DisableMessageDigest sends the configuration on every fetch, even to
	// agents that already applied it.
	DisableMessageDigest bool `mapstructure:"disableMessageDigest"`
}

type Provider struct {
	module.ProviderBase

	config  *Config
	watcher *Watcher
}

func NewProvider() module.Provider {
	return &Provider{config: &Config{}}
}

func (p *Provider) Name() string   { return "default" }
func (p *Provider) Module() string { return ModuleName }
func (p *Provider) Config() any    { return p.config }

func (p *Provider) RequiredModules() []string {
	return []string{configuration.ModuleName, sharing.ModuleName}
}

func (p *Provider) Prepare(ctx context.Context) error {
	key := configuration.WatcherKey(ModuleName, p.Name(), ItemAgentConfigurations)
	p.watcher = NewWatcher(key, p.Logger(ctx).WithName("agent-configurations"))
	return module.Register(p, p.watcher)
}

func (p *Provider) Start(ctx context.Context) error {
	m := p.Manager()
	dyn, err := module.Lookup[configuration.DynamicConfigurationService](m, configuration.ModuleName)
	if err != nil {
		return err
	}
	if err := dyn.RegisterWatcher(p.watcher); err != nil {
		return err
	}

	reg, err := module.Lookup[server.GRPCHandlerRegister](m, sharing.ModuleName)
	if err != nil {
		return err
	}
	RegisterDiscovery(reg, p.watcher, p.config.DisableMessageDigest)
	p.Logger(ctx).Info("configuration discovery registered", "disableMessageDigest", p.config.DisableMessageDigest)
	return nil
}

func (p *Provider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Register adds the module and its default provider to c.
func Register(c *module.Catalog) {
	c.Define(Definition()).Provide(NewProvider)
}
