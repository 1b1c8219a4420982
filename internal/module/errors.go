package module

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/graph"
	"github.com/anvil-platform/strata/internal/resolver"
)

// Configuration errors raised by the resolver, re-exported so callers only
// import this package.
type (
	DuplicateProviderError = resolver.DuplicateProviderError
	ProviderNotFoundError  = resolver.ProviderNotFoundError
	ModuleNotFoundError    = resolver.ModuleNotFoundError
	CycleDependencyError   = graph.CycleError
)

var (
	ErrAlreadyInitialized = errors.New("module manager already initialized")
	ErrNotInitialized     = errors.New("module manager not initialized")
)

// StillPreparingError is returned by lookups made while providers are still
// running Prepare.
type StillPreparingError struct {
	Module string
}

func (e *StillPreparingError) Error() string {
	return fmt.Sprintf("lookup of module %q while modules are still preparing", e.Module)
}

// ServiceNotProvidedError is returned when a capability was never registered
// by the provider.
type ServiceNotProvidedError struct {
	Module   string
	Provider string
	Service  string
}

func (e *ServiceNotProvidedError) Error() string {
	return fmt.Sprintf("service %s not provided by provider %q of module %q", e.Service, e.Provider, e.Module)
}

// DuplicateServiceError is returned when a capability is registered twice.
type DuplicateServiceError struct {
	Module  string
	Service string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("service %s already registered in module %q", e.Service, e.Module)
}

// ServiceNotDeclaredError is returned when a provider registers a capability
// its module definition does not declare.
type ServiceNotDeclaredError struct {
	Module  string
	Service string
}

func (e *ServiceNotDeclaredError) Error() string {
	return fmt.Sprintf("service %s is not declared by module %q", e.Service, e.Module)
}

// PhaseError wraps a failure returned by a provider lifecycle phase.
type PhaseError struct {
	Phase    string
	Module   string
	Provider string
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s of provider %q in module %q: %v", e.Phase, e.Provider, e.Module, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
