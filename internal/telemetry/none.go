package telemetry

import (
	"context"

	"github.com/anvil-platform/strata/internal/module"
)

type noopMetric struct{}

func (noopMetric) Set(float64)     {}
func (noopMetric) Inc()            {}
func (noopMetric) Dec()            {}
func (noopMetric) Add(float64)     {}
func (noopMetric) Observe(float64) {}
func (noopMetric) Healthy()        {}
func (noopMetric) Unhealthy(error) {}

// NoopCreator discards every metric.
type NoopCreator struct{}

func (NoopCreator) CreateGauge(string, string, Labels) Gauge                    { return noopMetric{} }
func (NoopCreator) CreateCounter(string, string, Labels) Counter                { return noopMetric{} }
func (NoopCreator) CreateHistogram(string, string, []float64, Labels) Histogram { return noopMetric{} }
func (NoopCreator) CreateHealthChecker(string, Labels) HealthChecker            { return noopMetric{} }

// NoneProvider is the telemetry provider named "none".
type NoneProvider struct {
	module.ProviderBase
}

func NewNoneProvider() module.Provider { return &NoneProvider{} }

func (p *NoneProvider) Name() string              { return "none" }
func (p *NoneProvider) Module() string            { return ModuleName }
func (p *NoneProvider) Config() any               { return nil }
func (p *NoneProvider) RequiredModules() []string { return nil }

func (p *NoneProvider) Prepare(ctx context.Context) error {
	return module.Register[MetricsCreator](p, NoopCreator{})
}

func (p *NoneProvider) Start(ctx context.Context) error                { return nil }
func (p *NoneProvider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Register adds the telemetry module and its none provider to c.
func Register(c *module.Catalog) {
	c.Define(Definition()).Provide(NewNoneProvider)
}
