package module

import (
	"fmt"
	"reflect"
)

// Definition is the stable identity of a module and the capabilities its
// selected provider must register.
type Definition struct {
	Name     string
	Services []reflect.Type
}

// NewDefinition builds a Definition. Use ServiceType to name capabilities.
func NewDefinition(name string, services ...reflect.Type) Definition {
	return Definition{Name: name, Services: services}
}

// ServiceType returns the registry key for capability T.
func ServiceType[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

func (d Definition) declares(t reflect.Type) bool {
	for _, s := range d.Services {
		if s == t {
			return true
		}
	}
	return false
}

// ProviderFactory constructs a fresh provider. Factories run once per
// Manager.Init.
type ProviderFactory func() Provider

// Catalog is the static table of module definitions and provider
// constructors a binary is built with.
type Catalog struct {
	definitions []Definition
	byName      map[string]int
	factories   []ProviderFactory
}

func NewCatalog() *Catalog {
	return &Catalog{byName: map[string]int{}}
}

// Define adds a module definition. Defining the same name twice panics.
func (c *Catalog) Define(def Definition) *Catalog {
	if _, ok := c.byName[def.Name]; ok {
		panic(fmt.Sprintf("module %q defined twice", def.Name))
	}
	c.byName[def.Name] = len(c.definitions)
	c.definitions = append(c.definitions, def)
	return c
}

// Provide adds a provider constructor.
func (c *Catalog) Provide(factories ...ProviderFactory) *Catalog {
	c.factories = append(c.factories, factories...)
	return c
}

func (c *Catalog) Definition(name string) (Definition, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Definition{}, false
	}
	return c.definitions[i], true
}

// Definitions returns all definitions in the order they were added.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.definitions))
	copy(out, c.definitions)
	return out
}
