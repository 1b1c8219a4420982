package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/graph"
)

// DefaultResolver selects exactly one provider per requested module by
// matching configuration blocks against provider names, then orders the
// selection by declared requirements.
type DefaultResolver struct{}

func NewDefault() *DefaultResolver {
	return &DefaultResolver{}
}

func (r *DefaultResolver) Resolve(ctx context.Context, in Input) (Plan, error) {
	_ = ctx

	known := make(map[string]bool, len(in.Definitions))
	for _, d := range in.Definitions {
		known[d] = true
	}
	requested := make(map[string]bool, len(in.Requested))
	for _, name := range in.Requested {
		if !known[name] {
			return Plan{}, &ModuleNotFoundError{Module: name}
		}
		requested[name] = true
	}

	plan := Plan{}
	for _, module := range in.Definitions {
		if !requested[module] {
			continue
		}
		configured := make(map[string]bool, len(in.Configured[module]))
		for _, p := range in.Configured[module] {
			configured[p] = true
		}

		matched := make([]int, 0, 1)
		for i, c := range in.Candidates {
			if c.Module != module {
				continue
			}
			if !configured[c.Provider] {
				plan.Diagnostics.Skipped = append(plan.Diagnostics.Skipped, SkippedCandidate{
					Module:   module,
					Provider: c.Provider,
					Reason:   "no configuration block",
				})
				continue
			}
			matched = append(matched, i)
		}

		switch len(matched) {
		case 0:
			return Plan{}, &ProviderNotFoundError{Module: module}
		case 1:
		default:
			names := make([]string, 0, len(matched))
			for _, i := range matched {
				names = append(names, in.Candidates[i].Provider)
			}
			return Plan{}, &DuplicateProviderError{Module: module, Providers: names}
		}

		c := in.Candidates[matched[0]]
		plan.Selections = append(plan.Selections, Selection{Module: module, Provider: c.Provider, Candidate: matched[0]})
	}

	g := graph.New()
	for _, s := range plan.Selections {
		g.AddNode(s.Module)
	}
	for _, s := range plan.Selections {
		for _, req := range in.Candidates[s.Candidate].Requires {
			if !requested[req] {
				return Plan{}, &ModuleNotFoundError{Module: req, RequiredBy: s.Module}
			}
			g.AddRequirement(s.Module, req)
		}
	}

	order, err := g.StartOrder()
	if err != nil {
		return Plan{}, errors.Wrap(err, "compute start order")
	}
	plan.StartOrder = order
	return plan, nil
}
