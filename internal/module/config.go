package module

// Properties are the raw settings of one provider block.
type Properties map[string]any

// ModuleConfiguration holds the provider blocks configured for one module.
type ModuleConfiguration struct {
	providers []string
	props     map[string]Properties
}

// AddProvider adds or replaces the block for provider.
func (m *ModuleConfiguration) AddProvider(name string, props Properties) *ModuleConfiguration {
	if props == nil {
		props = Properties{}
	}
	if _, ok := m.props[name]; !ok {
		m.providers = append(m.providers, name)
	}
	m.props[name] = props
	return m
}

// RemoveProvider drops the block for provider, if present.
func (m *ModuleConfiguration) RemoveProvider(name string) {
	if _, ok := m.props[name]; !ok {
		return
	}
	delete(m.props, name)
	for i, p := range m.providers {
		if p == name {
			m.providers = append(m.providers[:i], m.providers[i+1:]...)
			break
		}
	}
}

func (m *ModuleConfiguration) Has(provider string) bool {
	_, ok := m.props[provider]
	return ok
}

// Properties returns the block for provider, or nil.
func (m *ModuleConfiguration) Properties(provider string) Properties {
	return m.props[provider]
}

// Providers returns configured provider names in document order.
func (m *ModuleConfiguration) Providers() []string {
	out := make([]string, len(m.providers))
	copy(out, m.providers)
	return out
}

// ApplicationConfiguration maps module name to its provider blocks. It
// preserves document order.
type ApplicationConfiguration struct {
	order   []string
	modules map[string]*ModuleConfiguration
}

func NewApplicationConfiguration() *ApplicationConfiguration {
	return &ApplicationConfiguration{modules: map[string]*ModuleConfiguration{}}
}

// AddModule returns the configuration for name, creating it if needed.
func (a *ApplicationConfiguration) AddModule(name string) *ModuleConfiguration {
	if m, ok := a.modules[name]; ok {
		return m
	}
	m := &ModuleConfiguration{props: map[string]Properties{}}
	a.modules[name] = m
	a.order = append(a.order, name)
	return m
}

func (a *ApplicationConfiguration) RemoveModule(name string) {
	if _, ok := a.modules[name]; !ok {
		return
	}
	delete(a.modules, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *ApplicationConfiguration) Module(name string) (*ModuleConfiguration, bool) {
	m, ok := a.modules[name]
	return m, ok
}

func (a *ApplicationConfiguration) Has(name string) bool {
	_, ok := a.modules[name]
	return ok
}

// Modules returns module names in document order.
func (a *ApplicationConfiguration) Modules() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}
