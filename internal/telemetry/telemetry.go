// Package telemetry defines the metrics capability every module uses to
// publish gauges, counters, histograms and health signals.
package telemetry

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/strata/internal/module"
)

const ModuleName = "telemetry"

// HealthMetricPrefix is prepended to the name of every health gauge.
const HealthMetricPrefix = "health_check_"

type Gauge interface {
	Set(v float64)
	Inc()
	Dec()
	Add(v float64)
}

type Counter interface {
	Inc()
	Add(v float64)
}

type Histogram interface {
	Observe(v float64)
}

// Labels are constant label pairs attached to a metric.
type Labels map[string]string

// HealthChecker publishes a boolean health state. The gauge reads 0 while
// healthy and 1 while unhealthy.
type HealthChecker interface {
	Healthy()
	Unhealthy(err error)
}

// MetricsCreator is the capability registered by every telemetry provider.
type MetricsCreator interface {
	CreateGauge(name, help string, labels Labels) Gauge
	CreateCounter(name, help string, labels Labels) Counter
	CreateHistogram(name, help string, buckets []float64, labels Labels) Histogram
	CreateHealthChecker(name string, labels Labels) HealthChecker
}

func Definition() module.Definition {
	return module.NewDefinition(ModuleName, module.ServiceType[MetricsCreator]())
}

// GaugeHealthChecker drives a HealthChecker from a gauge and logs state
// transitions.
type GaugeHealthChecker struct {
	gauge  Gauge
	logger logr.Logger

	mu      sync.Mutex
	healthy bool
	known   bool
	reason  string
}

func NewGaugeHealthChecker(gauge Gauge, logger logr.Logger) *GaugeHealthChecker {
	return &GaugeHealthChecker{gauge: gauge, logger: logger}
}

func (h *GaugeHealthChecker) Healthy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gauge.Set(0)
	if h.known && !h.healthy {
		h.logger.Info("health recovered")
	}
	h.healthy, h.known, h.reason = true, true, ""
}

func (h *GaugeHealthChecker) Unhealthy(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gauge.Set(1)
	h.logger.Error(err, "health check failed")
	h.healthy, h.known = false, true
	if err != nil {
		h.reason = err.Error()
	}
}

// Status returns the last reported state. known is false until the first
// report.
func (h *GaugeHealthChecker) Status() (healthy, known bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy, h.known, h.reason
}
