package resolver

import "fmt"

// DuplicateProviderError is returned when more than one configured provider
// matches the same module.
type DuplicateProviderError struct {
	Module    string
	Providers []string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("module %q has more than one configured provider: %v", e.Module, e.Providers)
}

// ProviderNotFoundError is returned when no configured provider matches a
// requested module.
type ProviderNotFoundError struct {
	Module string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("module %q has no configured provider", e.Module)
}

// ModuleNotFoundError is returned for a module that is requested or required
// but not loaded. RequiredBy is empty when the module was requested directly.
type ModuleNotFoundError struct {
	Module     string
	RequiredBy string
}

func (e *ModuleNotFoundError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("module %q not found", e.Module)
	}
	return fmt.Sprintf("module %q required by %q not found", e.Module, e.RequiredBy)
}
