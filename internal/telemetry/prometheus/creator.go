// Package prometheus is the telemetry provider that exports metrics in the
// Prometheus text format.
package prometheus

import (
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/anvil-platform/strata/internal/telemetry"
)

// Creator implements telemetry.MetricsCreator on top of a registry. Creating
// a metric that already exists returns the registered one.
type Creator struct {
	registry *prometheus.Registry
	logger   logr.Logger
}

func NewCreator(registry *prometheus.Registry, logger logr.Logger) *Creator {
	return &Creator{registry: registry, logger: logger}
}

func (c *Creator) CreateGauge(name, help string, labels telemetry.Labels) telemetry.Gauge {
	return register[prometheus.Gauge](c, prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels(labels),
	}))
}

func (c *Creator) CreateCounter(name, help string, labels telemetry.Labels) telemetry.Counter {
	return register[prometheus.Counter](c, prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels(labels),
	}))
}

func (c *Creator) CreateHistogram(name, help string, buckets []float64, labels telemetry.Labels) telemetry.Histogram {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return register[prometheus.Histogram](c, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: prometheus.Labels(labels),
	}))
}

func (c *Creator) CreateHealthChecker(name string, labels telemetry.Labels) telemetry.HealthChecker {
	gauge := c.CreateGauge(telemetry.HealthMetricPrefix+name, "Health of "+name+": 0 is healthy, 1 is unhealthy.", labels)
	return telemetry.NewGaugeHealthChecker(gauge, c.logger.WithValues("component", name))
}

func register[T prometheus.Collector](c *Creator, col T) T {
	err := c.registry.Register(col)
	if err == nil {
		return col
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	// The metric still works, it is just not exported.
	c.logger.Error(err, "metric not registered")
	return col
}
