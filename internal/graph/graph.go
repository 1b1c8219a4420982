// Package graph models the requirement graph between loaded modules and
// computes the order in which their lifecycle phases run.
package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a requirement cycle. Path starts and ends with the same
// module.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle dependency between modules: %s", strings.Join(e.Path, " -> "))
}

// MissingNodeError reports an edge pointing at a module that is not part of
// the graph.
type MissingNodeError struct {
	From string
	To   string
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("module %q requires %q which is not loaded", e.From, e.To)
}

// DependencyGraph is a directed graph where an edge From -> To means From
// requires To to be started first. Insertion order of nodes is the tie-break
// for the start order, so the result is deterministic.
type DependencyGraph struct {
	nodes    []string
	index    map[string]int
	requires map[string][]string
}

func New() *DependencyGraph {
	return &DependencyGraph{
		index:    map[string]int{},
		requires: map[string][]string{},
	}
}

// AddNode adds a module. Adding the same name twice is a no-op.
func (g *DependencyGraph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddRequirement records that from requires to.
func (g *DependencyGraph) AddRequirement(from, to string) {
	g.AddNode(from)
	for _, existing := range g.requires[from] {
		if existing == to {
			return
		}
	}
	g.requires[from] = append(g.requires[from], to)
}

func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Validate checks every requirement points at a known node.
func (g *DependencyGraph) Validate() error {
	for _, from := range g.nodes {
		for _, to := range g.requires[from] {
			if _, ok := g.index[to]; !ok {
				return &MissingNodeError{From: from, To: to}
			}
		}
	}
	return nil
}

// StartOrder returns the nodes ordered so every module comes after all of
// its requirements. Among modules that are ready at the same time the one
// added first wins.
func (g *DependencyGraph) StartOrder() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	pending := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, from := range g.nodes {
		pending[from] = len(g.requires[from])
		for _, to := range g.requires[from] {
			dependents[to] = append(dependents[to], from)
		}
	}

	order := make([]string, 0, len(g.nodes))
	started := make(map[string]bool, len(g.nodes))
	for len(order) < len(g.nodes) {
		progressed := false
		for _, name := range g.nodes {
			if started[name] || pending[name] > 0 {
				continue
			}
			started[name] = true
			order = append(order, name)
			for _, d := range dependents[name] {
				pending[d]--
			}
			progressed = true
			// Restart the scan so earlier nodes unblocked by this one keep
			// their insertion priority.
			break
		}
		if !progressed {
			return nil, &CycleError{Path: g.findCycle(started)}
		}
	}
	return order, nil
}

func (g *DependencyGraph) findCycle(started map[string]bool) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(n string) bool {
		state[n] = visiting
		stack = append(stack, n)
		for _, next := range g.requires[n] {
			if started[next] {
				continue
			}
			switch state[next] {
			case visiting:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for _, n := range g.nodes {
		if started[n] || state[n] != unvisited {
			continue
		}
		if visit(n) {
			return cycle
		}
	}
	return nil
}
