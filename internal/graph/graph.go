// Package graph builds the module dependency graph reachable from a set of
// entry files.
package graph

import (
	"fmt"
	"sort"

	"github.com/fluxbase-eu/fluxpack/internal/transform"
)

// ExternalPrefix marks module IDs that stand for runtime globals
const ExternalPrefix = "external:"

// Module is one node of the graph. Its ID is the absolute resolved file path,
// or ExternalPrefix plus the specifier for externals.
type Module struct {
	ID        string
	RelPath   string // relative to the project root, forward slashes
	Hash      string // sha256 of the raw content
	Size      int    // raw content size in bytes
	Code      []byte // transformed CommonJS body
	Imports   []string
	Deps      []Dependency // resolved imports, in import order
	Rule      string
	Artifacts []transform.Artifact
	Entry     bool
	External  string // global name for externals
}

// Dependency is a resolved import of a module
type Dependency struct {
	Specifier string
	To        string
}

// Edge is a (from, specifier, to) triple
type Edge struct {
	From      string `json:"from"`
	Specifier string `json:"specifier"`
	To        string `json:"to"`
}

// Graph is the closed set of modules reachable from the entries
type Graph struct {
	Root    string
	Modules map[string]*Module
	Entries []string // module IDs in entry order
	Edges   []Edge
	Cycles  [][]string // SCCs with more than one member, or a self-import
}

// IDs returns module IDs in sorted order
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.Modules))
	for id := range g.Modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dependencies returns the distinct modules id imports, in import order
func (g *Graph) Dependencies(id string) []string {
	m, ok := g.Modules[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(m.Deps))
	deps := make([]string, 0, len(m.Deps))
	for _, dep := range m.Deps {
		if !seen[dep.To] {
			seen[dep.To] = true
			deps = append(deps, dep.To)
		}
	}
	return deps
}

// Validate checks that every entry and edge target is a module in the graph
func (g *Graph) Validate() error {
	for _, id := range g.Entries {
		if _, ok := g.Modules[id]; !ok {
			return fmt.Errorf("entry %s is not in the graph", id)
		}
	}
	for _, e := range g.Edges {
		if _, ok := g.Modules[e.From]; !ok {
			return fmt.Errorf("edge source %s is not in the graph", e.From)
		}
		if _, ok := g.Modules[e.To]; !ok {
			return fmt.Errorf("dangling edge %s -> %q -> %s", e.From, e.Specifier, e.To)
		}
	}
	return nil
}

// InCycle reports whether id belongs to a detected cycle
func (g *Graph) InCycle(id string) bool {
	for _, cycle := range g.Cycles {
		for _, member := range cycle {
			if member == id {
				return true
			}
		}
	}
	return false
}
