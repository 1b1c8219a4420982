package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	healthy bool
	err     error
}

func (f *fakeHealth) Healthy()            { f.healthy, f.err = true, nil }
func (f *fakeHealth) Unhealthy(err error) { f.healthy, f.err = false, err }

func member(host string, port int, self bool, version string) Instance {
	return Instance{
		Address: Address{Host: host, Port: port, Self: self},
		Props:   map[string]string{PropVersion: version},
	}
}

func TestNodeChecker(t *testing.T) {
	cases := []struct {
		name       string
		role       Role
		constraint string
		instances  []Instance
		wantErr    string
	}{
		{name: "empty", role: RoleMixed, wantErr: "empty member list"},
		{
			name:      "mixed without self",
			role:      RoleMixed,
			instances: []Instance{member("10.0.0.1", 1, false, "1.0.0")},
			wantErr:   "self is not in the member list",
		},
		{
			name:      "receiver without self",
			role:      RoleReceiver,
			instances: []Instance{member("10.0.0.1", 1, false, "1.0.0")},
		},
		{
			name:      "single loopback is fine",
			role:      RoleMixed,
			instances: []Instance{member("127.0.0.1", 1, true, "1.0.0")},
		},
		{
			name: "loopback in multi node cluster",
			role: RoleMixed,
			instances: []Instance{
				member("127.0.0.1", 1, true, "1.0.0"),
				member("10.0.0.2", 1, false, "1.0.0"),
			},
			wantErr: "loopback",
		},
		{
			name:       "incompatible version",
			role:       RoleAggregator,
			constraint: "^1.0.0",
			instances: []Instance{
				member("10.0.0.1", 1, true, "1.2.0"),
				member("10.0.0.2", 1, false, "2.0.0"),
			},
			wantErr: "10.0.0.2:1",
		},
		{
			name:       "compatible versions",
			role:       RoleAggregator,
			constraint: "^1.0.0",
			instances: []Instance{
				member("10.0.0.1", 1, true, "1.2.0"),
				member("10.0.0.2", 1, false, "1.0.3"),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewNodeChecker()
			require.NoError(t, c.Configure(tc.role, tc.constraint))

			health := &fakeHealth{}
			err := c.Report(health, tc.instances)
			if tc.wantErr == "" {
				require.NoError(t, err)
				require.True(t, health.healthy)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
			require.False(t, health.healthy)
			require.Equal(t, err, health.err)
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("aggregator")
	require.NoError(t, err)
	require.Equal(t, RoleAggregator, r)
	require.True(t, r.RegistersSelf())
	require.False(t, RoleReceiver.RegistersSelf())

	_, err = ParseRole("leader")
	require.Error(t, err)
}
