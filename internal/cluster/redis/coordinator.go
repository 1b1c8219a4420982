// Package redis is the cluster backend that keeps one expiring key per
// member in a shared redis instance.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/telemetry"
)

// scanCount is the COUNT hint passed to SCAN.
const scanCount = 100

type Options struct {
	KeyPrefix        string
	InternalComHost  string
	InternalComPort  int
	LeaseDuration    time.Duration
	OperationTimeout time.Duration
}

// member is the JSON value stored under every member key.
type member struct {
	Host  string            `json:"host"`
	Port  int               `json:"port"`
	Props map[string]string `json:"props,omitempty"`
}

type Coordinator struct {
	pool    *redis.Pool
	opts    Options
	checker *cluster.NodeChecker
	health  telemetry.HealthChecker
	logger  logr.Logger

	mu         sync.Mutex
	key        string
	registered []byte
	self       atomic.Pointer[cluster.Address]
}

func NewCoordinator(pool *redis.Pool, checker *cluster.NodeChecker, opts Options) *Coordinator {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "strata"
	}
	if opts.LeaseDuration < time.Second {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 3 * time.Second
	}
	return &Coordinator{
		pool:    pool,
		opts:    opts,
		checker: checker,
		health:  telemetry.NoopCreator{}.CreateHealthChecker("", nil),
		logger:  logr.Discard(),
	}
}

func (c *Coordinator) SetHealthChecker(h telemetry.HealthChecker) { c.health = h }
func (c *Coordinator) SetLogger(l logr.Logger)                    { c.logger = l }

func (c *Coordinator) memberPattern() string { return c.opts.KeyPrefix + ":members:*" }

func (c *Coordinator) do(ctx context.Context, cmd string, args ...any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

func (c *Coordinator) setMember(ctx context.Context, key string, value []byte) error {
	ttl := int64(c.opts.LeaseDuration / time.Second)
	_, err := redis.String(c.do(ctx, "SET", key, value, "EX", ttl))
	return err
}

func (c *Coordinator) RegisterRemote(ctx context.Context, instance cluster.Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := instance.Address
	if c.opts.InternalComHost != "" && c.opts.InternalComPort > 0 {
		addr = cluster.NewAddress(c.opts.InternalComHost, c.opts.InternalComPort)
	}
	value, err := json.Marshal(member{Host: addr.Host, Port: addr.Port, Props: instance.Props})
	if err != nil {
		return &cluster.RegistrationError{Address: addr, Err: err}
	}

	key := c.opts.KeyPrefix + ":members:" + uuid.NewString()
	if err := c.setMember(ctx, key, value); err != nil {
		c.health.Unhealthy(err)
		return &cluster.RegistrationError{Address: addr, Err: err}
	}
	if c.key != "" {
		if _, err := c.do(ctx, "DEL", c.key); err != nil {
			c.logger.Error(err, "failed to delete previous registration", "key", c.key)
		}
	}

	c.key, c.registered = key, value
	self := addr
	self.Self = true
	c.self.Store(&self)
	c.health.Healthy()
	c.logger.Info("registered cluster member", "key", key, "address", addr.String())
	return nil
}

func (c *Coordinator) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	cursor := "0"
	for {
		reply, err := redis.Values(c.do(ctx, "SCAN", cursor, "MATCH", c.memberPattern(), "COUNT", scanCount))
		if err != nil {
			return nil, err
		}
		if len(reply) != 2 {
			return nil, errors.Newf("unexpected SCAN reply of %d elements", len(reply))
		}
		if cursor, err = redis.String(reply[0], nil); err != nil {
			return nil, err
		}
		batch, err := redis.Strings(reply[1], nil)
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cursor == "0" {
			return keys, nil
		}
	}
}

func (c *Coordinator) QueryRemoteNodes(ctx context.Context) ([]cluster.Instance, error) {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		c.health.Unhealthy(err)
		return nil, &cluster.QueryError{Err: err}
	}

	instances := make([]cluster.Instance, 0, len(keys))
	if len(keys) > 0 {
		args := make([]any, len(keys))
		for i, k := range keys {
			args[i] = k
		}
		values, err := redis.ByteSlices(c.do(ctx, "MGET", args...))
		if err != nil {
			c.health.Unhealthy(err)
			return nil, &cluster.QueryError{Err: err}
		}
		for i, raw := range values {
			// Expired between SCAN and MGET.
			if raw == nil {
				continue
			}
			var m member
			if err := json.Unmarshal(raw, &m); err != nil {
				c.logger.Error(err, "skipping malformed member", "key", keys[i])
				continue
			}
			instances = append(instances, cluster.Instance{
				ID:      keys[i],
				Address: cluster.NewAddress(m.Host, m.Port),
				Props:   m.Props,
			})
		}
	}
	cluster.MarkSelf(instances, c.self.Load())

	if err := c.checker.Report(c.health, instances); err != nil {
		c.logger.V(1).Info("member list failed node check", "reason", err.Error())
	}
	return instances, nil
}

// Renew extends the TTL of the registered key. An expired key is written
// again.
func (c *Coordinator) Renew(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == "" {
		return nil
	}
	if err := c.setMember(ctx, c.key, c.registered); err != nil {
		c.health.Unhealthy(err)
		return errors.Wrapf(err, "renew member %s", c.key)
	}
	return nil
}

func (c *Coordinator) Deregister(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == "" {
		return nil
	}
	if _, err := c.do(ctx, "DEL", c.key); err != nil {
		return errors.Wrapf(err, "delete member %s", c.key)
	}
	c.key, c.registered = "", nil
	c.self.Store(nil)
	return nil
}
