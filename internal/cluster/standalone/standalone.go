// Package standalone is the single-node cluster backend. It keeps the
// registered instance in memory and never talks to the network.
package standalone

import (
	"context"
	"sync/atomic"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/module"
)

type Coordinator struct {
	self atomic.Pointer[cluster.Instance]
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

func (c *Coordinator) RegisterRemote(ctx context.Context, instance cluster.Instance) error {
	instance.Address.Self = true
	c.self.Store(&instance)
	return nil
}

func (c *Coordinator) QueryRemoteNodes(ctx context.Context) ([]cluster.Instance, error) {
	self := c.self.Load()
	if self == nil {
		return []cluster.Instance{}, nil
	}
	return []cluster.Instance{*self}, nil
}

type Provider struct {
	module.ProviderBase
}

func NewProvider() module.Provider { return &Provider{} }

func (p *Provider) Name() string              { return "standalone" }
func (p *Provider) Module() string            { return cluster.ModuleName }
func (p *Provider) Config() any               { return nil }
func (p *Provider) RequiredModules() []string { return nil }

func (p *Provider) Prepare(ctx context.Context) error {
	c := NewCoordinator()
	if err := module.Register[cluster.Register](p, c); err != nil {
		return err
	}
	if err := module.Register[cluster.NodesQuery](p, c); err != nil {
		return err
	}
	return module.Register(p, cluster.NewNodeChecker())
}

func (p *Provider) Start(ctx context.Context) error                { return nil }
func (p *Provider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Register adds the standalone provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}
