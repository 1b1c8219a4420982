// Package catalog lists every module and provider compiled into the strata
// binaries.
package catalog

import (
	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/cluster/kubernetes"
	"github.com/anvil-platform/strata/internal/cluster/redis"
	"github.com/anvil-platform/strata/internal/cluster/standalone"
	"github.com/anvil-platform/strata/internal/configuration"
	"github.com/anvil-platform/strata/internal/configuration/file"
	"github.com/anvil-platform/strata/internal/core"
	"github.com/anvil-platform/strata/internal/discovery"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/sharing"
	"github.com/anvil-platform/strata/internal/storage"
	"github.com/anvil-platform/strata/internal/storage/badger"
	"github.com/anvil-platform/strata/internal/telemetry"
	"github.com/anvil-platform/strata/internal/telemetry/prometheus"
)

// Default returns a catalog with every built-in module and provider.
func Default() *module.Catalog {
	c := module.NewCatalog()
	telemetry.Register(c)
	prometheus.Register(c)

	configuration.Register(c)
	file.Register(c)

	cluster.Define(c)
	standalone.Register(c)
	kubernetes.Register(c)
	redis.Register(c)

	storage.Register(c)
	badger.Register(c)

	core.Register(c)
	sharing.Register(c)
	discovery.Register(c)
	return c
}
