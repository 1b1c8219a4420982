package remote

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/telemetry"
)

// Snapshot is an immutable, address-ordered view of the client pool.
type Snapshot struct {
	clients []Client
}

var emptySnapshot = &Snapshot{}

// Clients returns a copy of the pool.
func (s *Snapshot) Clients() []Client {
	out := make([]Client, len(s.clients))
	copy(out, s.clients)
	return out
}

func (s *Snapshot) Len() int { return len(s.clients) }

func (s *Snapshot) At(i int) Client { return s.clients[i] }

// Addresses returns the addresses of the pool in order.
func (s *Snapshot) Addresses() []cluster.Address {
	out := make([]cluster.Address, len(s.clients))
	for i, c := range s.clients {
		out[i] = c.Address()
	}
	return out
}

// ClientFactory builds a client for a member that is not yet in the pool.
type ClientFactory func(addr cluster.Address) Client

// DefaultClientFactory builds a SelfClient for this node and a GRPCClient for
// every other member.
func DefaultClientFactory(d Dispatcher, opts GRPCClientOptions) ClientFactory {
	return func(addr cluster.Address) Client {
		if addr.Self {
			return NewSelfClient(addr, d)
		}
		return NewGRPCClient(addr, opts)
	}
}

type ManagerOptions struct {
	// RefreshInterval is the delay between two refresh cycles.
	RefreshInterval time.Duration
	Factory         ClientFactory
	// ClusterSize is set to the pool size after every cycle.
	ClusterSize telemetry.Gauge
	Logger      logr.Logger
}

// Manager reconciles the client pool against the cluster member list.
// Readers take the current Snapshot without locking; only Refresh replaces it.
type Manager struct {
	query cluster.NodesQuery
	opts  ManagerOptions

	// mu serializes Refresh.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func NewManager(query cluster.NodesQuery, opts ManagerOptions) *Manager {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}
	if opts.ClusterSize == nil {
		opts.ClusterSize = telemetry.NoopCreator{}.CreateGauge("", "", nil)
	}
	m := &Manager{query: query, opts: opts}
	m.current.Store(emptySnapshot)
	return m
}

// Instrument replaces the cluster size gauge. It must be called before
// Start.
func (m *Manager) Instrument(clusterSize telemetry.Gauge) {
	m.opts.ClusterSize = clusterSize
}

// Start refreshes immediately and then every RefreshInterval until ctx is
// done.
func (m *Manager) Start(ctx context.Context) {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		_ = m.Refresh(ctx)
	}, m.opts.RefreshInterval)
}

// RemoteClients returns the current pool.
func (m *Manager) RemoteClients() *Snapshot {
	return m.current.Load()
}

type action int

const (
	actionClose action = iota
	actionUnchanged
	actionCreate
)

type classified struct {
	addr   cluster.Address
	client Client
	action action
}

// Refresh queries the member list and brings the pool in line with it. A
// failed query leaves the pool untouched. The returned error aggregates
// query and close failures and is informational only.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	instances, err := m.query.QueryRemoteNodes(ctx)
	if err != nil {
		m.opts.Logger.Error(err, "failed to query cluster members, keeping current pool")
		return err
	}
	instances = cluster.Distinct(instances)
	cluster.SortInstances(instances)

	old := m.current.Load()
	if sameAddresses(old, instances) {
		m.opts.Logger.V(1).Info("cluster members unchanged", "size", old.Len())
		m.opts.ClusterSize.Set(float64(old.Len()))
		return nil
	}

	plan := classify(old, instances)
	var created []*classified
	for _, c := range plan {
		if c.action == actionCreate {
			c.client = m.opts.Factory(c.addr)
			created = append(created, c)
		}
	}
	m.connect(ctx, created)

	// plan is ordered by address, so next is too.
	next := make([]Client, 0, len(instances))
	var closing []Client
	for _, c := range plan {
		switch c.action {
		case actionUnchanged, actionCreate:
			next = append(next, c.client)
		case actionClose:
			if !c.client.Address().Self {
				closing = append(closing, c.client)
			}
		}
	}
	snapshot := &Snapshot{clients: next}
	m.current.Store(snapshot)

	var closeErr error
	for _, c := range closing {
		closeErr = multierr.Append(closeErr, c.Close())
	}
	if closeErr != nil {
		m.opts.Logger.Error(closeErr, "failed to close removed clients")
	}

	m.opts.ClusterSize.Set(float64(snapshot.Len()))
	m.opts.Logger.Info("rebuilt remote clients",
		"size", snapshot.Len(), "created", len(created), "closed", len(closing))
	return closeErr
}

// connect runs Connect on every created client in parallel. A failing client
// stays in the pool; its channel keeps retrying in the background.
func (m *Manager) connect(ctx context.Context, created []*classified) {
	var g errgroup.Group
	for _, c := range created {
		g.Go(func() error {
			if err := c.client.Connect(ctx); err != nil {
				m.opts.Logger.Error(err, "failed to connect remote client", "address", c.addr.String())
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close releases every client in the pool and leaves an empty pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.current.Swap(emptySnapshot)
	var err error
	for _, c := range old.clients {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func sameAddresses(s *Snapshot, instances []cluster.Instance) bool {
	if s.Len() != len(instances) {
		return false
	}
	for i, inst := range instances {
		if !s.At(i).Address().Equal(inst.Address) {
			return false
		}
	}
	return true
}

// classify assigns every address of the old pool and the new member list
// exactly one action. The result is ordered by address.
func classify(old *Snapshot, instances []cluster.Instance) []*classified {
	byKey := make(map[string]*classified, old.Len()+len(instances))
	var order []*classified
	for _, c := range old.clients {
		entry := &classified{addr: c.Address(), client: c, action: actionClose}
		byKey[c.Address().Key()] = entry
		order = append(order, entry)
	}
	for _, inst := range instances {
		if entry, ok := byKey[inst.Address.Key()]; ok {
			entry.action = actionUnchanged
			continue
		}
		entry := &classified{addr: inst.Address, action: actionCreate}
		byKey[inst.Address.Key()] = entry
		order = append(order, entry)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].addr.Compare(order[j].addr) < 0
	})
	return order
}
