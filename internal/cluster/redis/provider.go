package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gomodule/redigo/redis"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/telemetry"
)

type Config struct {
	Address           string        `mapstructure:"address"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Database          int           `mapstructure:"database"`
	KeyPrefix         string        `mapstructure:"keyPrefix"`
	InternalComHost   string        `mapstructure:"internalComHost"`
	InternalComPort   int           `mapstructure:"internalComPort"`
	LeaseDuration     time.Duration `mapstructure:"leaseDuration"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	OperationTimeout  time.Duration `mapstructure:"operationTimeout"`
	MaxIdle           int           `mapstructure:"maxIdle"`
}

type Provider struct {
	module.ProviderBase

	config      *Config
	pool        *redis.Pool
	coordinator *Coordinator
}

func NewProvider() module.Provider {
	return &Provider{
		config: &Config{
			Address:           "localhost:6379",
			KeyPrefix:         "strata",
			LeaseDuration:     30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			OperationTimeout:  3 * time.Second,
			MaxIdle:           4,
		},
	}
}

func (p *Provider) Name() string              { return "redis" }
func (p *Provider) Module() string            { return cluster.ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return []string{telemetry.ModuleName} }

func newPool(cfg *Config) *redis.Pool {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(cfg.OperationTimeout),
		redis.DialDatabase(cfg.Database),
	}
	if cfg.Username != "" {
		opts = append(opts, redis.DialUsername(cfg.Username))
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	return &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Address, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Prepare dials redis once so a wrong address fails bootstrap.
func (p *Provider) Prepare(ctx context.Context) error {
	if p.config.HeartbeatInterval >= p.config.LeaseDuration {
		return errors.Newf("heartbeatInterval %s must be shorter than leaseDuration %s", p.config.HeartbeatInterval, p.config.LeaseDuration)
	}
	p.pool = newPool(p.config)
	p.coordinator = NewCoordinator(p.pool, cluster.NewNodeChecker(), Options{
		KeyPrefix:        p.config.KeyPrefix,
		InternalComHost:  p.config.InternalComHost,
		InternalComPort:  p.config.InternalComPort,
		LeaseDuration:    p.config.LeaseDuration,
		OperationTimeout: p.config.OperationTimeout,
	})
	if _, err := p.coordinator.do(ctx, "PING"); err != nil {
		return errors.Wrapf(err, "connect to redis at %s", p.config.Address)
	}
	p.Logger(ctx).Info("connected to redis", "address", p.config.Address, "keyPrefix", p.config.KeyPrefix)

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
	p.coordinator.SetHealthChecker(creator.CreateHealthChecker("cluster_redis", nil))
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

func (p *Provider) Stop(ctx context.Context) error {
	if p.coordinator == nil {
		return nil
	}
	err := p.coordinator.Deregister(ctx)
	if cerr := p.pool.Close(); err == nil {
		err = cerr
	}
	return err
}

// Register adds the redis provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}
