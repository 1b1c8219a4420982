package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/strata/internal/catalog"
	"github.com/anvil-platform/strata/internal/core"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/storage"
)

type node struct {
	mgr     *module.Manager
	remotes *remote.Manager
	sender  *remote.Sender
	records storage.RecordDAO
}

func startNode(t *testing.T, redisAddr string) *node {
	t.Helper()
	cfg := module.NewApplicationConfiguration()
	cfg.AddModule("telemetry").AddProvider("none", nil)
	cfg.AddModule("configuration").AddProvider("none", nil)
	cfg.AddModule("cluster").AddProvider("redis", module.Properties{
		"address":           redisAddr,
		"keyPrefix":         "e2e",
		"leaseDuration":     "10s",
		"heartbeatInterval": "1s",
	})
	cfg.AddModule("storage").AddProvider("badger", module.Properties{"inMemory": true})
	cfg.AddModule("core").AddProvider("default", module.Properties{
		"gRPCHost":              "127.0.0.1",
		"gRPCPort":              0,
		"remoteRefreshInterval": "100ms",
	})

	mgr := module.NewManager(catalog.Default())
	require.NoError(t, mgr.Init(context.Background(), cfg))

	n := &node{mgr: mgr}
	var err error
	n.remotes, err = module.Lookup[*remote.Manager](mgr, core.ModuleName)
	require.NoError(t, err)
	n.sender, err = module.Lookup[*remote.Sender](mgr, core.ModuleName)
	require.NoError(t, err)
	n.records, err = module.Lookup[storage.RecordDAO](mgr, storage.ModuleName)
	require.NoError(t, err)
	return n
}

func (n *node) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.mgr.Shutdown(ctx))
}

func (n *node) selfCount() int {
	selves := 0
	for _, c := range n.remotes.RemoteClients().Clients() {
		if c.Address().Self {
			selves++
		}
	}
	return selves
}

func (n *node) stored(t *testing.T) int {
	t.Helper()
	count, err := n.records.Count(context.Background(), "segment")
	require.NoError(t, err)
	return count
}

func TestTwoNodeCluster(t *testing.T) {
	s := miniredis.RunT(t)
	a := startNode(t, s.Addr())
	b := startNode(t, s.Addr())
	bStopped := false
	t.Cleanup(func() {
		if !bStopped {
			b.stop(t)
		}
		a.stop(t)
	})

	require.Eventually(t, func() bool {
		return a.remotes.RemoteClients().Len() == 2 && b.remotes.RemoteClients().Len() == 2
	}, 10*time.Second, 50*time.Millisecond, "nodes never saw each other")
	require.Equal(t, 1, a.selfCount())
	require.Equal(t, 1, b.selfCount())
	require.Equal(t, a.remotes.RemoteClients().Addresses()[0].Key(), b.remotes.RemoteClients().Addresses()[0].Key(),
		"both nodes must order the pool the same way")

	const records = 40
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("trace-%d", i)
		payload := []byte(fmt.Sprintf(`{"model":"segment","timeBucket":%d,"id":%q,"value":%d}`, storage.TimeBucket(time.Now()), id, i))
		require.NoError(t, a.sender.Send(ctx, core.RecordWorkerName, id, payload, remote.HashCode))
	}
	onA, onB := a.stored(t), b.stored(t)
	require.Equal(t, records, onA+onB)
	require.NotZero(t, onA, "hash routing kept every record on the peer")
	require.NotZero(t, onB, "hash routing never reached the peer")

	b.stop(t)
	bStopped = true
	require.Eventually(t, func() bool {
		return a.remotes.RemoteClients().Len() == 1 && a.selfCount() == 1
	}, 10*time.Second, 50*time.Millisecond, "stopped node was not dropped from the pool")
}
