package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/strata/internal/module"
)

type recordingGauge struct {
	value float64
	sets  int
}

func (g *recordingGauge) Set(v float64) { g.value = v; g.sets++ }
func (g *recordingGauge) Inc()          { g.value++ }
func (g *recordingGauge) Dec()          { g.value-- }
func (g *recordingGauge) Add(v float64) { g.value += v }

func TestGaugeHealthChecker_Transitions(t *testing.T) {
	gauge := &recordingGauge{}
	h := NewGaugeHealthChecker(gauge, logr.Discard())

	healthy, known, reason := h.Status()
	require.False(t, known)
	require.False(t, healthy)
	require.Empty(t, reason)
	require.Zero(t, gauge.sets)

	h.Healthy()
	healthy, known, _ = h.Status()
	require.True(t, known)
	require.True(t, healthy)
	require.Equal(t, 0.0, gauge.value)

	h.Unhealthy(errors.New("redis unreachable"))
	healthy, known, reason = h.Status()
	require.True(t, known)
	require.False(t, healthy)
	require.Equal(t, "redis unreachable", reason)
	require.Equal(t, 1.0, gauge.value)

	h.Healthy()
	healthy, _, reason = h.Status()
	require.True(t, healthy)
	require.Empty(t, reason)
	require.Equal(t, 0.0, gauge.value)
	require.Equal(t, 3, gauge.sets)
}

func TestGaugeHealthChecker_UnhealthyWithoutError(t *testing.T) {
	gauge := &recordingGauge{}
	h := NewGaugeHealthChecker(gauge, logr.Discard())

	h.Unhealthy(errors.New("first"))
	h.Unhealthy(nil)
	healthy, known, reason := h.Status()
	require.True(t, known)
	require.False(t, healthy)
	require.Equal(t, "first", reason)
	require.Equal(t, 1.0, gauge.value)
}

func TestNoopCreator(t *testing.T) {
	var c MetricsCreator = NoopCreator{}

	g := c.CreateGauge("cluster_size", "", Labels{"node": "a"})
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Add(2)
	c.CreateCounter("records", "", nil).Add(1)
	c.CreateHistogram("latency", "", []float64{0.1, 1}, nil).Observe(0.5)

	h := c.CreateHealthChecker("cluster", nil)
	require.NotNil(t, h)
	h.Healthy()
	h.Unhealthy(errors.New("ignored"))
}

func TestNoneProvider_RegistersNoopCreator(t *testing.T) {
	catalog := module.NewCatalog()
	Register(catalog)

	cfg := module.NewApplicationConfiguration()
	cfg.AddModule(ModuleName).AddProvider("none", nil)

	m := module.NewManager(catalog)
	require.NoError(t, m.Init(context.Background(), cfg))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	creator, err := module.Lookup[MetricsCreator](m, ModuleName)
	require.NoError(t, err)
	require.IsType(t, NoopCreator{}, creator)
}
