package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/telemetry"
)

// recordingCreator hands out fakeHealth checkers and remembers them by name.
type recordingCreator struct {
	telemetry.NoopCreator
	checkers map[string]*fakeHealth
}

func (c *recordingCreator) CreateHealthChecker(name string, _ telemetry.Labels) telemetry.HealthChecker {
	h := &fakeHealth{}
	c.checkers[name] = h
	return h
}

type recordingTelemetry struct {
	module.ProviderBase
	creator *recordingCreator
}

func (p *recordingTelemetry) Name() string              { return "recording" }
func (p *recordingTelemetry) Module() string            { return telemetry.ModuleName }
func (p *recordingTelemetry) Config() any               { return nil }
func (p *recordingTelemetry) RequiredModules() []string { return nil }

func (p *recordingTelemetry) Prepare(ctx context.Context) error {
	return module.Register[telemetry.MetricsCreator](p, p.creator)
}

func (p *recordingTelemetry) Start(ctx context.Context) error                { return nil }
func (p *recordingTelemetry) NotifyAfterCompleted(ctx context.Context) error { return nil }

func newManager(creator *recordingCreator) *module.Manager {
	c := module.NewCatalog()
	c.Define(telemetry.Definition()).Provide(func() module.Provider {
		return &recordingTelemetry{creator: creator}
	})
	cluster.Define(c)
	Register(c)
	return module.NewManager(c)
}

func redisConfig(props module.Properties) *module.ApplicationConfiguration {
	cfg := module.NewApplicationConfiguration()
	cfg.AddModule(telemetry.ModuleName).AddProvider("recording", nil)
	cfg.AddModule(cluster.ModuleName).AddProvider("redis", props)
	return cfg
}

func TestProvider_UnreachableAddressFailsPrepare(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	m := newManager(&recordingCreator{checkers: map[string]*fakeHealth{}})
	err := m.Init(context.Background(), redisConfig(module.Properties{
		"address":          addr,
		"operationTimeout": "500ms",
	}))

	var phase *module.PhaseError
	require.True(t, errors.As(err, &phase), "got %v", err)
	require.Equal(t, "prepare", phase.Phase)
	require.Equal(t, "redis", phase.Provider)
}

func TestProvider_HeartbeatMustBeShorterThanLease(t *testing.T) {
	s := miniredis.RunT(t)

	m := newManager(&recordingCreator{checkers: map[string]*fakeHealth{}})
	err := m.Init(context.Background(), redisConfig(module.Properties{
		"address":           s.Addr(),
		"leaseDuration":     "5s",
		"heartbeatInterval": "5s",
	}))

	var phase *module.PhaseError
	require.True(t, errors.As(err, &phase), "got %v", err)
	require.Equal(t, "prepare", phase.Phase)
	require.ErrorContains(t, err, "heartbeatInterval")
}

func TestProvider_StartAndStop(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	creator := &recordingCreator{checkers: map[string]*fakeHealth{}}

	m := newManager(creator)
	require.NoError(t, m.Init(ctx, redisConfig(module.Properties{
		"address":           s.Addr(),
		"keyPrefix":         "provider",
		"leaseDuration":     "10s",
		"heartbeatInterval": "1s",
	})))

	health, ok := creator.checkers["cluster_redis"]
	require.True(t, ok, "cluster_redis health checker not created")

	reg, err := module.Lookup[cluster.Register](m, cluster.ModuleName)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterRemote(ctx, instanceAt("10.0.0.1", 11800)))
	require.True(t, health.healthy)

	require.Len(t, s.Keys(), 1)

	loaded, err := m.Find(cluster.ModuleName)
	require.NoError(t, err)
	p := loaded.Provider().(*Provider)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(stopCtx))

	require.Empty(t, s.Keys())
	conn := p.pool.Get()
	defer conn.Close()
	require.Error(t, conn.Err(), "pool should be closed after Stop")
}
