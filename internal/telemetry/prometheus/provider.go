package prometheus

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/telemetry"
)

type Config struct {
	Host string `mapstructure:"host"`
	// Port 0 picks a free port.
	Port int `mapstructure:"port"`
}

type Provider struct {
	module.ProviderBase

	config   *Config
	registry *prometheus.Registry
	listener net.Listener
}

func NewProvider() module.Provider {
	return &Provider{config: &Config{Host: "0.0.0.0", Port: 1234}}
}

func (p *Provider) Name() string              { return "prometheus" }
func (p *Provider) Module() string            { return telemetry.ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return nil }

func (p *Provider) Prepare(ctx context.Context) error {
	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return module.Register[telemetry.MetricsCreator](p, NewCreator(p.registry, p.Logger(ctx)))
}

func (p *Provider) Start(ctx context.Context) error {
	addr := net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	p.listener = lis
	p.Logger(ctx).Info("serving metrics", "addr", lis.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	p.RunBackground("http", func(ctx context.Context) {
		logger := log.FromContext(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve(lis) }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error(err, "metrics server shutdown")
			}
			<-errCh
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "metrics server stopped")
			}
		}
	})
	return nil
}

func (p *Provider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Addr returns the address the metrics endpoint listens on once started.
func (p *Provider) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Register adds the prometheus provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}
