// Package config loads the application configuration document: a YAML
// mapping of module name to provider name to settings.
package config

import (
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/strata/internal/module"
)

const (
	// SelectorKey picks which of the listed providers a module keeps.
	SelectorKey = "selector"
	// DisabledSelector removes the module from the configuration.
	DisabledSelector = "-"
)

var placeholder = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

type options struct {
	lookup func(string) (string, bool)
}

type Option func(*options)

// WithLookup replaces the environment as the source of placeholder values.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = fn }
}

// LoadFile reads and parses the document at path.
func LoadFile(path string, opts ...Option) (*module.ApplicationConfiguration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	cfg, err := Load(f, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// Load parses the document read from r. Placeholders of the form
// ${NAME:default} are resolved and the result is re-read as a YAML scalar so
// numbers and booleans keep their types.
func Load(r io.Reader, opts ...Option) (*module.ApplicationConfiguration, error) {
	o := options{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return module.NewApplicationConfiguration(), nil
		}
		return nil, errors.Wrap(err, "parse yaml")
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, errors.Newf("config root must be a mapping, got %s", kindName(root.Kind))
	}

	cfg := module.NewApplicationConfiguration()
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		body := root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			continue
		}

		selector := ""
		for j := 0; j+1 < len(body.Content); j += 2 {
			if body.Content[j].Value == SelectorKey {
				selector = strings.TrimSpace(o.resolve(body.Content[j+1].Value))
			}
		}
		if selector == DisabledSelector {
			continue
		}

		mc := cfg.AddModule(name)
		for j := 0; j+1 < len(body.Content); j += 2 {
			providerName := body.Content[j].Value
			if providerName == SelectorKey {
				continue
			}
			if selector != "" && providerName != selector {
				continue
			}
			props, err := o.properties(body.Content[j+1])
			if err != nil {
				return nil, errors.Wrapf(err, "module %s provider %s", name, providerName)
			}
			mc.AddProvider(providerName, props)
		}
		if selector != "" && !mc.Has(selector) {
			return nil, &module.ProviderNotFoundError{Module: name}
		}
	}
	return cfg, nil
}

func (o options) properties(n *yaml.Node) (module.Properties, error) {
	props := module.Properties{}
	if n.Kind != yaml.MappingNode {
		return props, nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		v, err := o.value(n.Content[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "key %s", n.Content[i].Value)
		}
		props[n.Content[i].Value] = v
	}
	return props, nil
}

func (o options) value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!str" && placeholder.MatchString(n.Value) {
			return retype(o.resolve(n.Value)), nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	case yaml.MappingNode:
		return o.properties(n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := o.value(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.AliasNode:
		return o.value(n.Alias)
	default:
		return nil, nil
	}
}

// resolve replaces every ${NAME:default} in s. A placeholder with no value
// and no default is left untouched.
func (o options) resolve(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if v, ok := o.lookup(parts[1]); ok {
			return v
		}
		if strings.Contains(m, ":") {
			return parts[2]
		}
		return m
	})
}

// retype turns a resolved placeholder back into an integer or a boolean.
// Anything else, floats included, stays the raw string.
func retype(s string) any {
	if s == "" {
		return s
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case int, int64, uint64, bool:
		return v
	}
	return s
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "empty"
	}
}

// ApplyOverrides applies module.provider.key=value settings on top of cfg.
// Only keys already present are changed, and the new value is converted to
// the type of the current one.
func ApplyOverrides(ctx context.Context, cfg *module.ApplicationConfiguration, overrides []string) error {
	logger := log.FromContext(ctx).WithName("config")
	for _, raw := range overrides {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return errors.Newf("override %q must be module.provider.key=value", raw)
		}
		parts := strings.SplitN(strings.TrimSpace(key), ".", 3)
		if len(parts) != 3 {
			return errors.Newf("override key %q must be module.provider.key", key)
		}
		mc, ok := cfg.Module(parts[0])
		if !ok || !mc.Has(parts[1]) {
			logger.Info("ignoring override for unconfigured provider", "key", key)
			continue
		}
		props := mc.Properties(parts[1])
		current, ok := props[parts[2]]
		if !ok {
			logger.Info("ignoring override for unknown setting", "key", key)
			continue
		}
		converted, err := convertLike(current, value)
		if err != nil {
			return errors.Wrapf(err, "override %s", key)
		}
		props[parts[2]] = converted
		logger.V(1).Info("applied override", "key", key)
	}
	return nil
}

func convertLike(current any, value string) (any, error) {
	switch current.(type) {
	case string:
		return value, nil
	case int:
		return strconv.Atoi(value)
	case int64:
		return strconv.ParseInt(value, 10, 64)
	case uint64:
		return strconv.ParseUint(value, 10, 64)
	case float64:
		return strconv.ParseFloat(value, 64)
	case bool:
		return strconv.ParseBool(value)
	default:
		return retype(value), nil
	}
}
