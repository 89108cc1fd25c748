package emit

import (
	"sort"

	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

// Order returns every module of g with dependencies before their importers.
// Cycles are collapsed into strongly connected components whose members are
// emitted in ID order; ready components are taken in order of their smallest
// member.
func Order(g *graph.Graph) []string {
	comps := g.StronglyConnected()

	compOf := make(map[string]int, len(g.Modules))
	for i, comp := range comps {
		for _, id := range comp {
			compOf[id] = i
		}
	}

	pending := make([]int, len(comps))
	dependents := make([][]int, len(comps))
	for i, comp := range comps {
		seen := make(map[int]bool)
		for _, id := range comp {
			for _, dep := range g.Dependencies(id) {
				j := compOf[dep]
				if j == i || seen[j] {
					continue
				}
				seen[j] = true
				pending[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	var ready []int
	for i := range comps {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(g.Modules))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, comps[i]...)
		for _, d := range dependents[i] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}
