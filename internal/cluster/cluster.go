// Package cluster defines how a node publishes its own address and learns
// the addresses of its peers. Backends live in sub-packages.
package cluster

import (
	"context"
	"fmt"

	"github.com/anvil-platform/strata/internal/module"
)

const ModuleName = "cluster"

// Register publishes this node's address to the coordination backend.
// Implementations serialize concurrent calls.
type Register interface {
	RegisterRemote(ctx context.Context, instance Instance) error
}

// NodesQuery returns the current members, with Address.Self set on the
// member this node registered.
type NodesQuery interface {
	QueryRemoteNodes(ctx context.Context) ([]Instance, error)
}

func Definition() module.Definition {
	return module.NewDefinition(ModuleName,
		module.ServiceType[Register](),
		module.ServiceType[NodesQuery](),
		module.ServiceType[*NodeChecker](),
	)
}

// RegistrationError is returned when this node could not publish itself.
type RegistrationError struct {
	Address Address
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %v", e.Address, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// QueryError is returned when the member list could not be read or failed
// the node check.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query cluster nodes: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Define adds the cluster module definition to c. Backends add their
// providers separately.
func Define(c *module.Catalog) {
	c.Define(Definition())
}
