package discovery

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/strata/internal/configuration"
)

// ItemAgentConfigurations is the dynamic setting holding every service's
// agent configuration.
const ItemAgentConfigurations = "agentConfigurations"

// AgentConfigurations is the dynamic configuration of one service.
type AgentConfigurations struct {
	Service       string
	Configuration map[string]string
	// UUID is a digest of Configuration. Agents send back the one they
	// applied last.
	UUID string
}

type agentConfigurationsDocument struct {
	Configurations map[string]map[string]yaml.Node `yaml:"configurations"`
}

// ParseAgentConfigurations reads the configurations mapping of raw, keyed by
// service name. Every configuration value must be a scalar.
//
//	configurations:
//	  checkout:
//	    agent.sample_n_per_3_secs: "10"
//	    trace.ignore_path: /health
func ParseAgentConfigurations(raw string) (map[string]AgentConfigurations, error) {
	var doc agentConfigurationsDocument
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "parse agent configurations")
	}
	table := make(map[string]AgentConfigurations, len(doc.Configurations))
	for service, items := range doc.Configurations {
		config := make(map[string]string, len(items))
		for key, node := range items {
			if node.Kind != yaml.ScalarNode {
				return nil, errors.Newf("service %q: value of %q is not a scalar", service, key)
			}
			config[key] = node.Value
		}
		table[service] = AgentConfigurations{Service: service, Configuration: config, UUID: digest(config)}
	}
	return table, nil
}

// digest hashes the sorted key:value pairs of config.
func digest(config map[string]string) string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(config[k])
		b.WriteByte('\n')
	}
	return hashString(b.String())
}

func hashString(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// Watcher follows the agentConfigurations setting and serves the parsed
// table. An unreadable value clears the table.
type Watcher struct {
	*configuration.ValueWatcher

	logger logr.Logger
	table  atomic.Pointer[map[string]AgentConfigurations]
	empty  AgentConfigurations
}

func NewWatcher(key string, logger logr.Logger) *Watcher {
	w := &Watcher{
		logger: logger,
		empty:  AgentConfigurations{Configuration: map[string]string{}, UUID: hashString("EMPTY")},
	}
	w.table.Store(&map[string]AgentConfigurations{})
	w.ValueWatcher = configuration.NewValueWatcher(key, "", w.apply)
	return w
}

func (w *Watcher) apply(e configuration.Event) {
	table := map[string]AgentConfigurations{}
	if e.Type != configuration.EventDelete {
		parsed, err := ParseAgentConfigurations(e.NewValue)
		if err != nil {
			w.logger.Error(err, "clearing agent configurations", "key", w.Key())
		} else {
			table = parsed
		}
	}
	w.table.Store(&table)
	w.logger.V(1).Info("agent configurations updated", "services", len(table))
}

// Configurations returns the configuration of service. A service without
// one gets an empty configuration with a fixed digest, so an agent whose
// entry was removed still receives the removal.
func (w *Watcher) Configurations(service string) AgentConfigurations {
	if c, ok := (*w.table.Load())[service]; ok {
		return c
	}
	return w.empty
}
