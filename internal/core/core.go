// Package core is the module every node runs. It owns the gRPC server, the
// pool of channels to peers and the retention of stored data.
package core

import (
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/server"
	"github.com/anvil-platform/strata/internal/storage"
)

const ModuleName = "core"

func Definition() module.Definition {
	return module.NewDefinition(ModuleName,
		module.ServiceType[server.GRPCHandlerRegister](),
		module.ServiceType[*remote.Manager](),
		module.ServiceType[*remote.Sender](),
		module.ServiceType[*remote.WorkerRegistry](),
		module.ServiceType[storage.ModelManager](),
	)
}

// Register adds the core module and its default provider to c.
func Register(c *module.Catalog) {
	c.Define(Definition()).Provide(NewProvider)
}
