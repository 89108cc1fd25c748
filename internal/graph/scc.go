package graph

import "sort"

// StronglyConnected returns the strongly connected components of g using
// Tarjan's algorithm. Members are sorted and components are ordered by their
// first member, so the result is deterministic.
func (g *Graph) StronglyConnected() [][]string {
	t := &tarjan{
		g:       g,
		index:   make(map[string]int, len(g.Modules)),
		lowlink: make(map[string]int, len(g.Modules)),
		onStack: make(map[string]bool, len(g.Modules)),
	}
	for _, id := range g.IDs() {
		if _, visited := t.index[id]; !visited {
			t.strongConnect(id)
		}
	}

	for _, comp := range t.components {
		sort.Strings(comp)
	}
	sort.Slice(t.components, func(i, j int) bool {
		return t.components[i][0] < t.components[j][0]
	})
	return t.components
}

type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.Dependencies(v) {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}

	var comp []string
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, comp)
}

// findCycles keeps the components that form import cycles
func findCycles(g *Graph) [][]string {
	var cycles [][]string
	for _, comp := range g.StronglyConnected() {
		if len(comp) > 1 || selfImport(g, comp[0]) {
			cycles = append(cycles, comp)
		}
	}
	return cycles
}

func selfImport(g *Graph, id string) bool {
	for _, dep := range g.Dependencies(id) {
		if dep == id {
			return true
		}
	}
	return false
}
