package kubernetes

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	strataapi "github.com/anvil-platform/strata/api/v1alpha1"
	"github.com/anvil-platform/strata/controllers"
	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/telemetry"
)

type Config struct {
	Namespace   string `mapstructure:"namespace"`
	ClusterName string `mapstructure:"clusterName"`
	// Kubeconfig is optional; the in-cluster config or $KUBECONFIG is used
	// when empty.
	Kubeconfig        string        `mapstructure:"kubeconfig"`
	InternalComHost   string        `mapstructure:"internalComHost"`
	InternalComPort   int           `mapstructure:"internalComPort"`
	LeaseDuration     time.Duration `mapstructure:"leaseDuration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	GracePeriod       time.Duration `mapstructure:"gracePeriod"`
	OperationTimeout  time.Duration `mapstructure:"operationTimeout"`
	CacheSyncTimeout  time.Duration `mapstructure:"cacheSyncTimeout"`
	EnableReaper      bool          `mapstructure:"enableReaper"`
}

type Provider struct {
	module.ProviderBase

	config      *Config
	coordinator *Coordinator
}

func NewProvider() module.Provider {
	return &Provider{
		config: &Config{
			Namespace:         "default",
			ClusterName:       "strata",
			LeaseDuration:     30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			GracePeriod:       30 * time.Second,
			OperationTimeout:  3 * time.Second,
			CacheSyncTimeout:  60 * time.Second,
			EnableReaper:      true,
		},
	}
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}

func (p *Provider) Name() string              { return "kubernetes" }
func (p *Provider) Module() string            { return cluster.ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return []string{telemetry.ModuleName} }

// Prepare connects to the API server and blocks until the member cache has
// synced.
func (p *Provider) Prepare(ctx context.Context) error {
	logger := p.Logger(ctx)
	if p.config.HeartbeatInterval >= p.config.LeaseDuration {
		return errors.Newf("heartbeatInterval %s must be shorter than leaseDuration %s", p.config.HeartbeatInterval, p.config.LeaseDuration)
	}

	restCfg, err := restConfig(p.config.Kubeconfig)
	if err != nil {
		return errors.Wrap(err, "load kubernetes config")
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(strataapi.AddToScheme(scheme))

	mgr, err := ctrl.NewManager(restCfg, ctrl.Options{
		Scheme: scheme,
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{p.config.Namespace: {}},
		},
		Metrics:                metricsserver.Options{BindAddress: "0"},
		HealthProbeBindAddress: "0",
	})
	if err != nil {
		return errors.Wrap(err, "create controller manager")
	}

	if p.config.EnableReaper {
		reaper := &controllers.ClusterMemberReconciler{
			Client:      mgr.GetClient(),
			Scheme:      mgr.GetScheme(),
			GracePeriod: p.config.GracePeriod,
		}
		if err := reaper.SetupWithManager(mgr); err != nil {
			return errors.Wrap(err, "set up member reaper")
		}
	}
	if _, err := mgr.GetCache().GetInformer(ctx, &strataapi.ClusterMember{}); err != nil {
		return errors.Wrap(err, "register member informer")
	}

	p.RunBackground("controller-manager", func(ctx context.Context) {
		if err := mgr.Start(ctx); err != nil {
			log.FromContext(ctx).Error(err, "controller manager stopped")
		}
	})

	syncCtx, cancel := context.WithTimeout(ctx, p.config.CacheSyncTimeout)
	defer cancel()
	if !mgr.GetCache().WaitForCacheSync(syncCtx) {
		return errors.Newf("member cache did not sync within %s", p.config.CacheSyncTimeout)
	}
	logger.Info("member cache synced", "namespace", p.config.Namespace, "cluster", p.config.ClusterName)

	return p.register(mgr.GetClient())
}

func (p *Provider) register(c client.Client) error {
	p.coordinator = NewCoordinator(c, cluster.NewNodeChecker(), Options{
		Namespace:        p.config.Namespace,
		ClusterName:      p.config.ClusterName,
		InternalComHost:  p.config.InternalComHost,
		InternalComPort:  p.config.InternalComPort,
		LeaseDuration:    p.config.LeaseDuration,
		OperationTimeout: p.config.OperationTimeout,
	})
	if err := module.Register[cluster.Register](p, p.coordinator); err != nil {
		return err
	}
	if err := module.Register[cluster.NodesQuery](p, p.coordinator); err != nil {
		return err
	}
	return module.Register(p, p.coordinator.checker)
}

func (p *Provider) Start(ctx context.Context) error {
	creator, err := module.Lookup[telemetry.MetricsCreator](p.Manager(), telemetry.ModuleName)
	if err != nil {
		return err
	}
	p.coordinator.SetHealthChecker(creator.CreateHealthChecker("cluster_kubernetes", nil))
	p.coordinator.SetLogger(p.Logger(ctx))

	p.RunBackground("heartbeat", func(ctx context.Context) {
		logger := log.FromContext(ctx)
		wait.UntilWithContext(ctx, func(ctx context.Context) {
			if err := p.coordinator.Renew(ctx); err != nil {
				logger.Error(err, "failed to renew cluster membership")
			}
		}, p.config.HeartbeatInterval)
	})
	return nil
}

func (p *Provider) NotifyAfterCompleted(ctx context.Context) error { return nil }

// Stop removes this node's member record so peers drop it without waiting
// for the lease to lapse.
func (p *Provider) Stop(ctx context.Context) error {
	if p.coordinator == nil {
		return nil
	}
	return p.coordinator.Deregister(ctx)
}

// Register adds the kubernetes provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}
