package resolver

import "context"

// Resolver computes a Plan (selected providers and start order) for a given
// Input without running any provider code.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Plan, error)
}
