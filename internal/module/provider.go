package module

import (
	"context"
	"reflect"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Provider is one implementation of a module. Implementations embed
// ProviderBase.
type Provider interface {
	Name() string
	// Module is the name of the module this provider implements.
	Module() string
	// Config returns a pointer to the struct the provider's configuration
	// block is decoded into, or nil when the provider takes no settings.
	Config() any
	// RequiredModules lists modules that must be started before this one.
	RequiredModules() []string

	// Prepare registers the provider's capabilities. It must not depend on
	// other providers having finished Prepare.
	Prepare(ctx context.Context) error
	// Start may look up capabilities of required modules.
	Start(ctx context.Context) error
	// NotifyAfterCompleted runs once every module has started.
	NotifyAfterCompleted(ctx context.Context) error

	base() *ProviderBase
}

// Stopper is implemented by providers that hold resources to release on
// Manager.Shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// ProviderBase carries the capability table of a provider and its handle
// on the Manager. The table is written only during Prepare.
type ProviderBase struct {
	manager    *Manager
	definition Definition
	provider   string
	services   map[reflect.Type]any
}

func (b *ProviderBase) base() *ProviderBase { return b }

// Manager returns the manager this provider was loaded by.
func (b *ProviderBase) Manager() *Manager { return b.manager }

// RegisterService registers impl as the implementation of capability t.
func (b *ProviderBase) RegisterService(t reflect.Type, impl any) error {
	if !b.definition.declares(t) {
		return &ServiceNotDeclaredError{Module: b.definition.Name, Service: t.String()}
	}
	if impl == nil || !reflect.TypeOf(impl).AssignableTo(t) {
		return &ServiceNotProvidedError{Module: b.definition.Name, Provider: b.provider, Service: t.String()}
	}
	if b.services == nil {
		b.services = map[reflect.Type]any{}
	}
	if _, ok := b.services[t]; ok {
		return &DuplicateServiceError{Module: b.definition.Name, Service: t.String()}
	}
	b.services[t] = impl
	return nil
}

// RunBackground starts fn on a task owned by the Manager. The context passed
// to fn is cancelled by Manager.Shutdown.
func (b *ProviderBase) RunBackground(name string, fn func(ctx context.Context)) {
	b.manager.runBackground(b.definition.Name+"/"+name, fn)
}

// Logger returns a logger named after the provider's module.
func (b *ProviderBase) Logger(ctx context.Context) logr.Logger {
	return log.FromContext(ctx).WithName(b.definition.Name).WithValues("provider", b.provider)
}

func (b *ProviderBase) service(t reflect.Type) (any, error) {
	impl, ok := b.services[t]
	if !ok {
		return nil, &ServiceNotProvidedError{Module: b.definition.Name, Provider: b.provider, Service: t.String()}
	}
	return impl, nil
}

func (b *ProviderBase) requiredCheck() error {
	for _, t := range b.definition.Services {
		if _, err := b.service(t); err != nil {
			return err
		}
	}
	return nil
}

// Register registers impl as the implementation of capability T on p.
func Register[T any](p Provider, impl T) error {
	return p.base().RegisterService(ServiceType[T](), impl)
}

// GetService returns the implementation of capability T registered by p.
func GetService[T any](p Provider) (T, error) {
	var zero T
	impl, err := p.base().service(ServiceType[T]())
	if err != nil {
		return zero, err
	}
	return impl.(T), nil
}
