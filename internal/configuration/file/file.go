// Package file is the configuration provider that reads dynamic settings
// from a flat YAML file and follows its changes.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anvil-platform/strata/internal/configuration"
	"github.com/anvil-platform/strata/internal/module"
)

// Reader reads a YAML document of key: value pairs. A missing file reads
// as empty.
type Reader struct {
	Path string
}

func (r Reader) Read(ctx context.Context, keys []string) (map[string]string, error) {
	raw, err := os.ReadFile(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", r.Path)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok := doc[k]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			text, err := yaml.Marshal(v)
			if err != nil {
				return nil, errors.Wrapf(err, "encode %s", k)
			}
			out[k] = string(text)
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

type Config struct {
	Path string `mapstructure:"path"`
	// Period is the interval of the full re-sync that backs up file events.
	Period time.Duration `mapstructure:"period"`
}

type Provider struct {
	module.ProviderBase

	config   *Config
	register *configuration.WatcherRegister
}

func NewProvider() module.Provider {
	return &Provider{config: &Config{Path: "config/dynamic.yaml", Period: 60 * time.Second}}
}

func (p *Provider) Name() string              { return "file" }
func (p *Provider) Module() string            { return configuration.ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return nil }

func (p *Provider) Prepare(ctx context.Context) error {
	if p.config.Path == "" {
		return errors.New("path is required")
	}
	p.register = configuration.NewWatcherRegister(Reader{Path: p.config.Path}, p.Logger(ctx))
	return module.Register[configuration.DynamicConfigurationService](p, p.register)
}

func (p *Provider) Start(ctx context.Context) error { return nil }

// NotifyAfterCompleted applies the file once every watcher is registered and
// then follows it.
func (p *Provider) NotifyAfterCompleted(ctx context.Context) error {
	logger := p.Logger(ctx)
	if err := p.register.Sync(ctx); err != nil {
		logger.Error(err, "initial dynamic configuration sync failed")
	}

	dir := filepath.Dir(p.config.Path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}

	changed := make(chan struct{}, 1)
	p.RunBackground("fsnotify", func(ctx context.Context) {
		defer watcher.Close()
		Follow(ctx, watcher, p.config.Path, changed, logger)
	})
	sync := func(ctx context.Context) {
		if err := p.register.Sync(ctx); err != nil {
			logger.Error(err, "dynamic configuration sync failed")
		}
	}
	p.RunBackground("resync", func(ctx context.Context) {
		wait.UntilWithContext(ctx, sync, p.config.Period)
	})
	p.RunBackground("apply", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				sync(ctx)
			}
		}
	})
	return nil
}

// Register adds the file provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}
