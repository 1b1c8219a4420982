package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anvil-platform/strata/internal/config"
	"github.com/anvil-platform/strata/internal/module"
)

const document = `
telemetry:
  selector: none
  none:
  prometheus:
    port: 1234
configuration:
  selector: none
  none:
cluster:
  selector: ${CLUSTER_BACKEND:standalone}
  standalone:
  redis:
    address: localhost:6379
storage:
  selector: badger
  badger:
    inMemory: true
core:
  selector: default
  default:
    gRPCPort: 0
receiver-sharing-server:
  selector: default
  default:
configuration-discovery:
  selector: default
  default:
    disableMessageDigest: false
`

func TestDefault_PlansFullNode(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(document), config.WithLookup(func(string) (string, bool) { return "", false }))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	plan, _, err := module.NewManager(Default()).Plan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}

	selected := map[string]string{}
	for _, s := range plan.Selections {
		selected[s.Module] = s.Provider
	}
	want := map[string]string{
		"telemetry":               "none",
		"configuration":           "none",
		"cluster":                 "standalone",
		"storage":                 "badger",
		"core":                    "default",
		"receiver-sharing-server": "default",
		"configuration-discovery": "default",
	}
	if diff := cmp.Diff(want, selected); diff != "" {
		t.Fatalf("unexpected selection (-want +got):\n%s", diff)
	}

	pos := map[string]int{}
	for i, name := range plan.StartOrder {
		pos[name] = i
	}
	for _, edge := range [][2]string{
		{"core", "telemetry"},
		{"core", "configuration"},
		{"core", "cluster"},
		{"receiver-sharing-server", "core"},
		{"configuration-discovery", "configuration"},
		{"configuration-discovery", "receiver-sharing-server"},
	} {
		if pos[edge[0]] < pos[edge[1]] {
			t.Fatalf("%s started before its requirement %s: %v", edge[0], edge[1], plan.StartOrder)
		}
	}
}
