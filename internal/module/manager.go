// Package module loads the configured provider of every module, binds its
// configuration and drives the Prepare, Start and NotifyAfterCompleted phases
// in dependency order.
package module

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/strata/internal/resolver"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	// StatePreparing covers everything up to the end of the Prepare phase.
	// Lookups fail with StillPreparingError.
	StatePreparing State = iota
	// StateStarting covers Start and NotifyAfterCompleted.
	StateStarting
	StateReady
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "Preparing"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// LoadedModule is a module definition bound to its selected provider.
type LoadedModule struct {
	definition Definition
	provider   Provider
}

func (l *LoadedModule) Name() string           { return l.definition.Name }
func (l *LoadedModule) Definition() Definition { return l.definition }
func (l *LoadedModule) Provider() Provider     { return l.provider }

// Manager is the handle returned to the process for a set of loaded modules.
type Manager struct {
	catalog  *Catalog
	resolver resolver.Resolver

	state      atomic.Int32
	initCalled atomic.Bool
	loaded     map[string]*LoadedModule
	prepared   []string
	startOrder []string

	logger   logr.Logger
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       wait.Group
}

func NewManager(catalog *Catalog) *Manager {
	return &Manager{
		catalog:  catalog,
		resolver: resolver.NewDefault(),
		loaded:   map[string]*LoadedModule{},
		logger:   logr.Discard(),
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// StartOrder returns the module names in the order Start ran.
func (m *Manager) StartOrder() []string {
	out := make([]string, len(m.startOrder))
	copy(out, m.startOrder)
	return out
}

// Plan resolves which provider every configured module gets and the start
// order, without constructing any provider state beyond the factories.
func (m *Manager) Plan(ctx context.Context, cfg *ApplicationConfiguration) (resolver.Plan, []Provider, error) {
	candidates := make([]Provider, 0, len(m.catalog.factories))
	in := resolver.Input{
		Requested:  cfg.Modules(),
		Configured: map[string][]string{},
	}
	for _, def := range m.catalog.definitions {
		in.Definitions = append(in.Definitions, def.Name)
	}
	for _, factory := range m.catalog.factories {
		p := factory()
		candidates = append(candidates, p)
		in.Candidates = append(in.Candidates, resolver.Candidate{
			Module:   p.Module(),
			Provider: p.Name(),
			Requires: p.RequiredModules(),
		})
	}
	for _, name := range cfg.Modules() {
		mc, _ := cfg.Module(name)
		in.Configured[name] = mc.Providers()
	}

	plan, err := m.resolver.Resolve(ctx, in)
	if err != nil {
		return resolver.Plan{}, nil, err
	}
	return plan, candidates, nil
}

// Init selects, configures, prepares, starts and completes every module in
// cfg. Any failure aborts the bootstrap; state built so far is not rolled
// back.
func (m *Manager) Init(ctx context.Context, cfg *ApplicationConfiguration) error {
	if !m.initCalled.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	m.logger = log.FromContext(ctx).WithName("module-manager")
	m.bgCtx, m.bgCancel = context.WithCancel(log.IntoContext(context.WithoutCancel(ctx), m.logger))

	plan, candidates, err := m.Plan(ctx, cfg)
	if err != nil {
		return err
	}
	for _, s := range plan.Diagnostics.Skipped {
		m.logger.V(1).Info("provider not selected", "module", s.Module, "provider", s.Provider, "reason", s.Reason)
	}

	for _, sel := range plan.Selections {
		def, _ := m.catalog.Definition(sel.Module)
		p := candidates[sel.Candidate]
		b := p.base()
		b.manager = m
		b.definition = def
		b.provider = p.Name()

		mc, _ := cfg.Module(sel.Module)
		if err := m.bindConfig(p, mc.Properties(sel.Provider)); err != nil {
			return &PhaseError{Phase: "configure", Module: sel.Module, Provider: sel.Provider, Err: err}
		}
		m.loaded[sel.Module] = &LoadedModule{definition: def, provider: p}
	}

	for _, sel := range plan.Selections {
		p := m.loaded[sel.Module].provider
		m.logger.Info("preparing module", "module", sel.Module, "provider", sel.Provider)
		if err := p.Prepare(ctx); err != nil {
			return &PhaseError{Phase: "prepare", Module: sel.Module, Provider: sel.Provider, Err: err}
		}
		if err := p.base().requiredCheck(); err != nil {
			return &PhaseError{Phase: "prepare", Module: sel.Module, Provider: sel.Provider, Err: err}
		}
		m.prepared = append(m.prepared, sel.Module)
	}
	m.state.Store(int32(StateStarting))

	m.startOrder = plan.StartOrder
	for _, name := range m.startOrder {
		p := m.loaded[name].provider
		m.logger.Info("starting module", "module", name, "provider", p.Name())
		if err := p.Start(ctx); err != nil {
			return &PhaseError{Phase: "start", Module: name, Provider: p.Name(), Err: err}
		}
	}
	for _, name := range m.startOrder {
		p := m.loaded[name].provider
		if err := p.NotifyAfterCompleted(ctx); err != nil {
			return &PhaseError{Phase: "notify after completed", Module: name, Provider: p.Name(), Err: err}
		}
	}
	m.state.Store(int32(StateReady))
	m.logger.Info("all modules started", "order", m.startOrder)
	return nil
}

func (m *Manager) bindConfig(p Provider, props Properties) error {
	target := p.Config()
	if target == nil {
		if len(props) > 0 {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			m.logger.Info("provider takes no settings, ignoring", "module", p.Module(), "provider", p.Name(), "keys", keys)
		}
		return nil
	}
	unused, err := BindConfig(target, props)
	if err != nil {
		return err
	}
	for _, key := range unused {
		m.logger.Info("setting is not supported by provider", "module", p.Module(), "provider", p.Name(), "key", key)
	}
	return nil
}

// BindConfig decodes props onto target, a pointer to a struct with
// mapstructure tags. Fields of embedded structs are matched as if they were
// declared on target. Keys with no matching field are returned sorted.
func BindConfig(target any, props Properties) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           target,
		WeaklyTypedInput: true,
		Squash:           true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, errors.Wrap(err, "build config decoder")
	}
	if err := dec.Decode(map[string]any(props)); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	sort.Strings(md.Unused)
	return md.Unused, nil
}

// Find returns the loaded module name. It fails while modules are still
// preparing.
func (m *Manager) Find(name string) (*LoadedModule, error) {
	if m.State() == StatePreparing {
		return nil, &StillPreparingError{Module: name}
	}
	l, ok := m.loaded[name]
	if !ok {
		return nil, &ModuleNotFoundError{Module: name}
	}
	return l, nil
}

// Has reports whether module name was loaded.
func (m *Manager) Has(name string) bool {
	_, ok := m.loaded[name]
	return ok
}

// Lookup returns the implementation of capability T registered by the
// provider of module name.
func Lookup[T any](m *Manager, name string) (T, error) {
	var zero T
	l, err := m.Find(name)
	if err != nil {
		return zero, err
	}
	return GetService[T](l.provider)
}

func (m *Manager) runBackground(name string, fn func(ctx context.Context)) {
	logger := m.logger.WithValues("task", name)
	m.bg.StartWithContext(m.bgCtx, func(ctx context.Context) {
		logger.V(1).Info("background task started")
		fn(log.IntoContext(ctx, logger))
		logger.V(1).Info("background task stopped")
	})
}

// Shutdown cancels background tasks, waits for them, then stops providers in
// reverse start order.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.initCalled.Load() {
		return ErrNotInitialized
	}
	m.bgCancel()

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for background tasks")
	}

	// Providers that never finished Prepare may still hold resources.
	order := m.startOrder
	if m.State() == StatePreparing {
		order = m.prepared
	}
	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		p := m.loaded[order[i]].provider
		stopper, ok := p.(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			errs = multierr.Append(errs, &PhaseError{Phase: "stop", Module: order[i], Provider: p.Name(), Err: err})
		}
	}
	m.state.Store(int32(StateStopped))
	return errs
}
