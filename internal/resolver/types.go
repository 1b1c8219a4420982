package resolver

// Candidate is one provider known to the catalog.
type Candidate struct {
	Module   string
	Provider string
	// Requires lists the modules this provider needs started before it.
	Requires []string
}

// Input is the normalized view the resolver operates on.
type Input struct {
	// Definitions are all module names known to the catalog, in catalog
	// order.
	Definitions []string
	// Requested are the module names present in the application
	// configuration.
	Requested []string
	// Candidates are all providers, in catalog order.
	Candidates []Candidate
	// Configured maps module name to the provider names that have a
	// configuration block.
	Configured map[string][]string
}

// Selection binds one module to the candidate chosen for it.
type Selection struct {
	Module    string
	Provider  string
	Candidate int
}

// Plan is the output of the resolver.
type Plan struct {
	// Selections are ordered the way Prepare runs: catalog order.
	Selections []Selection
	// StartOrder lists module names in the order Start and
	// NotifyAfterCompleted run.
	StartOrder  []string
	Diagnostics Diagnostics
}

// Diagnostics captures information about candidates that were not used.
type Diagnostics struct {
	Skipped []SkippedCandidate
}

type SkippedCandidate struct {
	Module   string
	Provider string
	Reason   string
}

// Selected returns the selection for module, if any.
func (p Plan) Selected(module string) (Selection, bool) {
	for _, s := range p.Selections {
		if s.Module == module {
			return s, true
		}
	}
	return Selection{}, false
}
