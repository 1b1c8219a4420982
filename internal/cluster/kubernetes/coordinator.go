// Package kubernetes is the cluster backend that publishes members as
// ClusterMember resources and reads peers from an informer-backed cache.
package kubernetes

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	strataapi "github.com/anvil-platform/strata/api/v1alpha1"
	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/telemetry"
)

type Options struct {
	Namespace   string
	ClusterName string
	// InternalComHost and InternalComPort replace the registered address when
	// both are set.
	InternalComHost  string
	InternalComPort  int
	LeaseDuration    time.Duration
	OperationTimeout time.Duration
}

// Coordinator implements cluster.Register and cluster.NodesQuery. Reads go
// through c, which in production is backed by the manager's cache.
type Coordinator struct {
	client  client.Client
	opts    Options
	checker *cluster.NodeChecker
	health  telemetry.HealthChecker
	logger  logr.Logger
	now     func() time.Time

	// mu serializes registration and renewal.
	mu         sync.Mutex
	registered *strataapi.ClusterMember
	self       atomic.Pointer[cluster.Address]
}

func NewCoordinator(c client.Client, checker *cluster.NodeChecker, opts Options) *Coordinator {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 3 * time.Second
	}
	return &Coordinator{
		client:  c,
		opts:    opts,
		checker: checker,
		health:  telemetry.NoopCreator{}.CreateHealthChecker("", nil),
		logger:  logr.Discard(),
		now:     time.Now,
	}
}

func (c *Coordinator) SetHealthChecker(h telemetry.HealthChecker) { c.health = h }
func (c *Coordinator) SetLogger(l logr.Logger)                    { c.logger = l }

func (c *Coordinator) RegisterRemote(ctx context.Context, instance cluster.Instance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := instance.Address
	if c.opts.InternalComHost != "" && c.opts.InternalComPort > 0 {
		addr = cluster.NewAddress(c.opts.InternalComHost, c.opts.InternalComPort)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	now := metav1.NewMicroTime(c.now())
	member := &strataapi.ClusterMember{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "member-" + uuid.NewString(),
			Namespace: c.opts.Namespace,
			Labels:    map[string]string{strataapi.LabelClusterName: c.opts.ClusterName},
		},
		Spec: strataapi.ClusterMemberSpec{
			ClusterName:          c.opts.ClusterName,
			Host:                 addr.Host,
			Port:                 int32(addr.Port),
			Props:                instance.Props,
			RenewTime:            &now,
			LeaseDurationSeconds: int32(c.opts.LeaseDuration / time.Second),
		},
	}
	if member.Spec.LeaseDurationSeconds < 1 {
		member.Spec.LeaseDurationSeconds = 1
	}

	if err := c.client.Create(ctx, member); err != nil {
		c.health.Unhealthy(err)
		return &cluster.RegistrationError{Address: addr, Err: err}
	}

	// A re-registration replaces the previous record.
	if prev := c.registered; prev != nil {
		if err := c.client.Delete(ctx, prev); client.IgnoreNotFound(err) != nil {
			c.logger.Error(err, "failed to delete previous registration", "member", prev.Name)
		}
	}

	c.registered = member
	self := addr
	self.Self = true
	c.self.Store(&self)
	c.health.Healthy()
	c.logger.Info("registered cluster member", "member", member.Name, "address", addr.String())
	return nil
}

func (c *Coordinator) QueryRemoteNodes(ctx context.Context) ([]cluster.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	var list strataapi.ClusterMemberList
	if err := c.client.List(ctx, &list,
		client.InNamespace(c.opts.Namespace),
		client.MatchingLabels{strataapi.LabelClusterName: c.opts.ClusterName},
	); err != nil {
		c.health.Unhealthy(err)
		return nil, &cluster.QueryError{Err: err}
	}

	now := c.now()
	instances := make([]cluster.Instance, 0, len(list.Items))
	for i := range list.Items {
		m := &list.Items[i]
		if m.DeletionTimestamp != nil || !m.ExpiresAt().After(now) {
			continue
		}
		props := make(map[string]string, len(m.Spec.Props))
		for k, v := range m.Spec.Props {
			props[k] = v
		}
		instances = append(instances, cluster.Instance{
			ID:      m.Name,
			Address: cluster.NewAddress(m.Spec.Host, int(m.Spec.Port)),
			Props:   props,
		})
	}
	cluster.MarkSelf(instances, c.self.Load())

	if err := c.checker.Report(c.health, instances); err != nil {
		c.logger.V(1).Info("member list failed node check", "reason", err.Error())
	}
	return instances, nil
}

// Renew refreshes the lease of the registered member. A member removed
// while this node was unreachable is created again under the same name.
func (c *Coordinator) Renew(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	now := metav1.NewMicroTime(c.now())
	updated := c.registered.DeepCopy()
	updated.Spec.RenewTime = &now

	err := c.client.Patch(ctx, updated, client.MergeFrom(c.registered))
	if apierrors.IsNotFound(err) {
		recreated := updated.DeepCopy()
		recreated.ResourceVersion = ""
		recreated.UID = ""
		err = c.client.Create(ctx, recreated)
		updated = recreated
		if err == nil {
			c.logger.Info("re-created expired cluster member", "member", updated.Name)
		}
	}
	if err != nil {
		c.health.Unhealthy(err)
		return errors.Wrapf(err, "renew member %s", c.registered.Name)
	}
	c.registered = updated
	return nil
}

// Deregister removes the registered member, if any.
func (c *Coordinator) Deregister(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()
	if err := c.client.Delete(ctx, c.registered); client.IgnoreNotFound(err) != nil {
		return errors.Wrapf(err, "delete member %s", c.registered.Name)
	}
	c.registered = nil
	c.self.Store(nil)
	return nil
}
