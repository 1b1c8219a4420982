package core

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/configuration"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/server"
	"github.com/anvil-platform/strata/internal/storage"
	"github.com/anvil-platform/strata/internal/telemetry"
)

type Provider struct {
	module.ProviderBase

	config  *Config
	role    cluster.Role
	grpc    *server.GRPCServer
	workers *remote.WorkerRegistry
	models  *storage.ModelRegistry
	remotes *remote.Manager
	keeper  *DataTTLKeeper
	self    cluster.Address
}

func NewProvider() module.Provider {
	return &Provider{config: defaultConfig()}
}

func (p *Provider) Name() string   { return "default" }
func (p *Provider) Module() string { return ModuleName }
func (p *Provider) Config() any    { return p.config }

func (p *Provider) RequiredModules() []string {
	return []string{telemetry.ModuleName, configuration.ModuleName, cluster.ModuleName}
}

// nodesQuery resolves the cluster capability on first use, since it cannot
// be looked up during Prepare.
type nodesQuery struct {
	resolve func() (cluster.NodesQuery, error)
}

func lazyNodesQuery(m *module.Manager) *nodesQuery {
	return &nodesQuery{resolve: sync.OnceValues(func() (cluster.NodesQuery, error) {
		return module.Lookup[cluster.NodesQuery](m, cluster.ModuleName)
	})}
}

func (q *nodesQuery) QueryRemoteNodes(ctx context.Context) ([]cluster.Instance, error) {
	nq, err := q.resolve()
	if err != nil {
		return nil, err
	}
	return nq.QueryRemoteNodes(ctx)
}

func (p *Provider) Prepare(ctx context.Context) error {
	logger := p.Logger(ctx)
	if err := p.config.Validate(); err != nil {
		return err
	}
	p.role, _ = cluster.ParseRole(p.config.Role)

	grpcCfg := server.GRPCConfig{
		Host:                 p.config.GRPCHost,
		Port:                 p.config.GRPCPort,
		MaxConcurrentStreams: p.config.GRPCMaxConcurrentCallsPerConn,
		MaxRecvMsgSize:       p.config.GRPCMaxMessageSize,
	}
	if p.config.GRPCSSLEnabled {
		grpcCfg.CertFile, grpcCfg.KeyFile = p.config.GRPCSSLCertChainPath, p.config.GRPCSSLKeyPath
	}
	p.grpc = server.NewGRPCServer(grpcCfg, logger.WithName("grpc"))
	p.workers = remote.NewWorkerRegistry()

	p.models = storage.NewModelRegistry()
	for _, name := range p.config.RecordModels {
		if err := p.models.AddModel(storage.Model{Name: name, Record: true, TimeSeries: true}); err != nil {
			return err
		}
	}
	for _, name := range p.config.MetricsModels {
		if err := p.models.AddModel(storage.Model{Name: name, TimeSeries: true}); err != nil {
			return err
		}
	}

	clientOpts := remote.GRPCClientOptions{Timeout: p.config.RemoteTimeout}
	if p.config.GRPCSSLEnabled {
		clientOpts.CAFile = p.config.GRPCSSLTrustedCAPath
	}
	p.remotes = remote.NewManager(lazyNodesQuery(p.Manager()), remote.ManagerOptions{
		RefreshInterval: p.config.RemoteRefreshInterval,
		Factory:         remote.DefaultClientFactory(p.workers, clientOpts),
		Logger:          logger.WithName("remote-clients"),
	})

	if err := module.Register[server.GRPCHandlerRegister](p, p.grpc); err != nil {
		return err
	}
	if err := module.Register(p, p.remotes); err != nil {
		return err
	}
	if err := module.Register(p, remote.NewSender(p.remotes)); err != nil {
		return err
	}
	if err := module.Register(p, p.workers); err != nil {
		return err
	}
	return module.Register[storage.ModelManager](p, p.models)
}

func (p *Provider) Start(ctx context.Context) error {
	logger := p.Logger(ctx)
	m := p.Manager()

	creator, err := module.Lookup[telemetry.MetricsCreator](m, telemetry.ModuleName)
	if err != nil {
		return err
	}
	p.remotes.Instrument(creator.CreateGauge("cluster_size", "Cluster size of current node", nil))

	remote.RegisterService(p.grpc, p.workers)
	if m.Has(storage.ModuleName) {
		if err := p.startStorage(logger); err != nil {
			return err
		}
	} else {
		logger.Info("storage module not loaded, records and data retention disabled")
	}

	checker, err := module.Lookup[*cluster.NodeChecker](m, cluster.ModuleName)
	if err != nil {
		return err
	}
	if err := checker.Configure(p.role, p.config.VersionConstraint); err != nil {
		return err
	}

	if err := p.grpc.Listen(); err != nil {
		return err
	}
	if err := p.watchTTL(logger); err != nil {
		return err
	}

	p.self = cluster.NewAddress(advertisedHost(p.config.GRPCHost), p.grpc.Addr().(*net.TCPAddr).Port)
	p.self.Self = true
	if p.role.RegistersSelf() {
		reg, err := module.Lookup[cluster.Register](m, cluster.ModuleName)
		if err != nil {
			return err
		}
		instance := cluster.Instance{
			Address: p.self,
			Props: map[string]string{
				cluster.PropVersion: p.config.ProtocolVersion,
				cluster.PropRole:    string(p.role),
			},
		}
		if err := reg.RegisterRemote(ctx, instance); err != nil {
			return err
		}
	}
	p.RunBackground("remote-clients", p.remotes.Start)
	logger.Info("core started", "role", p.role, "address", p.self.String())
	return nil
}

// advertisedHost replaces a wildcard bind host with the host name.
func advertisedHost(host string) string {
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return host
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return host
}

func (p *Provider) startStorage(logger logr.Logger) error {
	m := p.Manager()
	records, err := module.Lookup[storage.RecordDAO](m, storage.ModuleName)
	if err != nil {
		return err
	}
	if err := p.workers.Register(RecordWorkerName, NewRecordWorker(records, p.models)); err != nil {
		return err
	}
	history, err := module.Lookup[storage.HistoryDeleteDAO](m, storage.ModuleName)
	if err != nil {
		return err
	}
	nodes, err := module.Lookup[cluster.NodesQuery](m, cluster.ModuleName)
	if err != nil {
		return err
	}
	p.keeper = NewDataTTLKeeper(nodes, history, p.models, p.config.RecordDataTTL, p.config.MetricsDataTTL, logger.WithName("data-ttl-keeper"))
	return nil
}

func (p *Provider) watchTTL(logger logr.Logger) error {
	dyn, err := module.Lookup[configuration.DynamicConfigurationService](p.Manager(), configuration.ModuleName)
	if err != nil {
		return err
	}
	for _, item := range []struct {
		name    string
		initial int
		apply   func(days int)
	}{
		{"recordDataTTL", p.config.RecordDataTTL, func(days int) { p.setTTL(days, 0) }},
		{"metricsDataTTL", p.config.MetricsDataTTL, func(days int) { p.setTTL(0, days) }},
	} {
		key := configuration.WatcherKey(ModuleName, p.Name(), item.name)
		w := configuration.NewValueWatcher(key, strconv.Itoa(item.initial), func(e configuration.Event) {
			days := item.initial
			if e.Type != configuration.EventDelete {
				parsed, err := strconv.Atoi(e.NewValue)
				if err != nil || parsed < minTTLDays {
					logger.Info("ignoring invalid dynamic TTL", "key", key, "value", e.NewValue)
					return
				}
				days = parsed
			}
			item.apply(days)
		})
		if err := dyn.RegisterWatcher(w); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) setTTL(recordTTL, metricsTTL int) {
	if p.keeper != nil {
		p.keeper.SetTTL(recordTTL, metricsTTL)
	}
}

func (p *Provider) NotifyAfterCompleted(ctx context.Context) error {
	logger := p.Logger(ctx)
	p.RunBackground("grpc-server", func(ctx context.Context) {
		if err := p.grpc.Serve(ctx); err != nil {
			log.FromContext(ctx).Error(err, "grpc server failed")
		}
	})

	if !p.config.EnableDataKeeperExecutor || p.keeper == nil {
		return nil
	}
	logger.Info("data keeper scheduled", "period", p.config.DataKeeperExecutePeriod)
	p.RunBackground("data-ttl-keeper", func(ctx context.Context) {
		p.keeper.Run(ctx, p.config.DataKeeperExecutePeriod)
	})
	return nil
}

// Stop closes every remote client.
func (p *Provider) Stop(ctx context.Context) error {
	if p.remotes == nil {
		return nil
	}
	return p.remotes.Close()
}

// Keeper returns the retention keeper, or nil when storage is not loaded.
func (p *Provider) Keeper() *DataTTLKeeper { return p.keeper }

// Self returns the address this node serves and registers.
func (p *Provider) Self() cluster.Address { return p.self }
