// Package sharing is the receiver-sharing-server module. Receivers register
// their gRPC services on it; it either serves them on its own port or hands
// them to the core server.
package sharing

import (
	"context"

	"github.com/anvil-platform/strata/internal/core"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/server"
)

const ModuleName = "receiver-sharing-server"

func Definition() module.Definition {
	return module.NewDefinition(ModuleName, module.ServiceType[server.GRPCHandlerRegister]())
}

type Config struct {
	GRPCHost string `mapstructure:"gRPCHost"`
	// GRPCPort 0 shares the core server.
	GRPCPort                      int    `mapstructure:"gRPCPort"`
	GRPCSSLEnabled                bool   `mapstructure:"gRPCSslEnabled"`
	GRPCSSLCertChainPath          string `mapstructure:"gRPCSslCertChainPath"`
	GRPCSSLKeyPath                string `mapstructure:"gRPCSslKeyPath"`
	GRPCMaxConcurrentCallsPerConn uint32 `mapstructure:"maxConcurrentCallsPerConnection"`
	GRPCMaxMessageSize            int    `mapstructure:"maxMessageSize"`
	// Authentication is the token receivers must send. Empty disables the
	// check.
	Authentication string `mapstructure:"authentication"`
}

type Provider struct {
	module.ProviderBase

	config     *Config
	own        *server.GRPCServer
	delegating *server.DelegatingRegister
}

func NewProvider() module.Provider {
	return &Provider{config: &Config{GRPCHost: "0.0.0.0"}}
}

func (p *Provider) Name() string              { return "default" }
func (p *Provider) Module() string            { return ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return []string{core.ModuleName} }

func (p *Provider) register() server.GRPCHandlerRegister {
	if p.own != nil {
		return p.own
	}
	return p.delegating
}

func (p *Provider) Prepare(ctx context.Context) error {
	if p.config.GRPCPort != 0 {
		cfg := server.GRPCConfig{
			Host:                 p.config.GRPCHost,
			Port:                 p.config.GRPCPort,
			MaxConcurrentStreams: p.config.GRPCMaxConcurrentCallsPerConn,
			MaxRecvMsgSize:       p.config.GRPCMaxMessageSize,
		}
		if p.config.GRPCSSLEnabled {
			cfg.CertFile, cfg.KeyFile = p.config.GRPCSSLCertChainPath, p.config.GRPCSSLKeyPath
		}
		p.own = server.NewGRPCServer(cfg, p.Logger(ctx).WithName("grpc"))
	} else {
		p.delegating = server.NewDelegatingRegister()
	}
	if p.config.Authentication != "" {
		p.register().AddUnaryInterceptor(server.TokenInterceptor(p.config.Authentication))
	}
	return module.Register(p, p.register())
}

func (p *Provider) Start(ctx context.Context) error {
	logger := p.Logger(ctx)
	m := p.Manager()
	if p.delegating != nil {
		target, err := module.Lookup[server.GRPCHandlerRegister](m, core.ModuleName)
		if err != nil {
			return err
		}
		p.delegating.Bind(target)
		logger.Info("sharing the core gRPC server")
	} else {
		if err := p.own.Listen(); err != nil {
			return err
		}
		logger.Info("receiver gRPC server bound", "address", p.own.Addr().String())
	}

	sender, err := module.Lookup[*remote.Sender](m, core.ModuleName)
	if err != nil {
		return err
	}
	RegisterReceiver(p.register(), sender)
	return nil
}

func (p *Provider) NotifyAfterCompleted(ctx context.Context) error {
	if p.own == nil {
		return nil
	}
	p.RunBackground("grpc-server", func(ctx context.Context) {
		if err := p.own.Serve(ctx); err != nil {
			p.Logger(ctx).Error(err, "receiver gRPC server failed")
		}
	})
	return nil
}

// Addr returns the address of the dedicated server. It is empty when the
// core server is shared.
func (p *Provider) Addr() string {
	if p.own == nil || p.own.Addr() == nil {
		return ""
	}
	return p.own.Addr().String()
}

// Register adds the module and its default provider to c.
func Register(c *module.Catalog) {
	c.Define(Definition()).Provide(NewProvider)
}
