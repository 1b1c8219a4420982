package badger

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/go-logr/logr"

	"github.com/anvil-platform/strata/internal/module"
	"github.com/anvil-platform/strata/internal/storage"
)

type Config struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"inMemory"`
	SyncWrites bool   `mapstructure:"syncWrites"`
}

type Provider struct {
	module.ProviderBase

	config *Config
	db     *badgerdb.DB
}

func NewProvider() module.Provider {
	return &Provider{config: &Config{Path: "data/strata"}}
}

func (p *Provider) Name() string              { return "badger" }
func (p *Provider) Module() string            { return storage.ModuleName }
func (p *Provider) Config() any               { return p.config }
func (p *Provider) RequiredModules() []string { return nil }

func (p *Provider) Prepare(ctx context.Context) error {
	logger := p.Logger(ctx)
	opts := badgerdb.DefaultOptions(p.config.Path).
		WithInMemory(p.config.InMemory).
		WithSyncWrites(p.config.SyncWrites).
		WithLogger(logAdapter{logger.WithName("badger")})
	if p.config.InMemory {
		opts.Dir, opts.ValueDir = "", ""
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return errors.Wrapf(err, "open badger at %q", p.config.Path)
	}
	p.db = db
	logger.Info("opened badger", "path", p.config.Path, "inMemory", p.config.InMemory)

	dao := NewDAO(db, logger)
	if err := module.Register[storage.HistoryDeleteDAO](p, dao); err != nil {
		return err
	}
	return module.Register[storage.RecordDAO](p, dao)
}

func (p *Provider) Start(ctx context.Context) error                { return nil }
func (p *Provider) NotifyAfterCompleted(ctx context.Context) error { return nil }

func (p *Provider) Stop(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Register adds the badger provider to c.
func Register(c *module.Catalog) {
	c.Provide(NewProvider)
}

// logAdapter routes badger's printf logging to logr. Badger's info output is
// demoted to V(1).
type logAdapter struct {
	logger logr.Logger
}

func (l logAdapter) Errorf(format string, args ...any) {
	l.logger.Error(nil, fmt.Sprintf(format, args...))
}

func (l logAdapter) Warningf(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...), "level", "warning")
}

func (l logAdapter) Infof(format string, args ...any) {
	l.logger.V(1).Info(fmt.Sprintf(format, args...))
}

func (l logAdapter) Debugf(format string, args ...any) {
	l.logger.V(2).Info(fmt.Sprintf(format, args...))
}
