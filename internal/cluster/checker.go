package cluster

import (
	"net"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/semver"
	"github.com/anvil-platform/strata/internal/telemetry"
)

// Role is the part a node plays in the cluster.
type Role string

const (
	RoleMixed      Role = "Mixed"
	RoleReceiver   Role = "Receiver"
	RoleAggregator Role = "Aggregator"
)

func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleMixed, RoleReceiver, RoleAggregator} {
		if strings.EqualFold(s, string(r)) {
			return r, nil
		}
	}
	return "", errors.Newf("unknown role %q", s)
}

// RegistersSelf reports whether nodes with this role join the member list.
func (r Role) RegistersSelf() bool {
	return r == RoleMixed || r == RoleAggregator
}

// NodeChecker validates a member list beyond transport success. Coordinators
// run it on every query; the core module configures it with the node's role.
type NodeChecker struct {
	mu         sync.RWMutex
	role       Role
	constraint *semver.Constraint
}

func NewNodeChecker() *NodeChecker {
	return &NodeChecker{role: RoleMixed}
}

// Configure sets the node role and the protocol version constraint peers
// must satisfy. An empty constraint disables the version check.
func (c *NodeChecker) Configure(role Role, versionConstraint string) error {
	var constraint *semver.Constraint
	if strings.TrimSpace(versionConstraint) != "" {
		parsed, err := semver.ParseConstraint(versionConstraint)
		if err != nil {
			return err
		}
		constraint = &parsed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.constraint = constraint
	return nil
}

func (c *NodeChecker) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Check returns nil when instances form a usable member list.
func (c *NodeChecker) Check(instances []Instance) error {
	c.mu.RLock()
	role, constraint := c.role, c.constraint
	c.mu.RUnlock()

	if len(instances) == 0 {
		return errors.New("empty member list")
	}
	if role.RegistersSelf() {
		found := false
		for _, inst := range instances {
			if inst.Address.Self {
				found = true
				break
			}
		}
		if !found {
			return errors.New("self is not in the member list")
		}
	}
	if len(instances) > 1 {
		for _, inst := range instances {
			if isLoopback(inst.Address.Host) {
				return errors.Newf("member list of %d nodes contains loopback address %s", len(instances), inst.Address)
			}
		}
	}
	if constraint != nil {
		for _, inst := range instances {
			if err := semver.Compatible(inst.Props[PropVersion], *constraint); err != nil {
				return errors.Wrapf(err, "member %s", inst.Address)
			}
		}
	}
	return nil
}

// Report runs Check and publishes the result to health.
func (c *NodeChecker) Report(health telemetry.HealthChecker, instances []Instance) error {
	if err := c.Check(instances); err != nil {
		health.Unhealthy(err)
		return err
	}
	health.Healthy()
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
