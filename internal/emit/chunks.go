package emit

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

// CommonChunk names the chunk holding modules shared by several entries
const CommonChunk = "common"

// Chunk is one emitted script. Modules are in global emit order; Entries
// are the modules the chunk executes once loaded.
type Chunk struct {
	Name    string
	Modules []string
	Entries []string
}

// ChunkPlan assigns every module of a graph to exactly one chunk
type ChunkPlan struct {
	Policy string
	Chunks []Chunk
}

// PlanChunks groups the modules of g. entryNames maps entry module IDs to
// entry names; unnamed entries are named after their file.
//
// The single policy puts everything in one chunk named main. The entry policy
// creates a chunk per entry with the modules only that entry reaches, plus a
// common chunk (listed first) with the modules several entries reach.
func PlanChunks(g *graph.Graph, policy string, entryNames map[string]string) (*ChunkPlan, error) {
	order := Order(g)

	switch policy {
	case config.ChunksSingle, "":
		return &ChunkPlan{
			Policy: config.ChunksSingle,
			Chunks: []Chunk{{Name: "main", Modules: order, Entries: append([]string(nil), g.Entries...)}},
		}, nil

	case config.ChunksEntry:
		return planEntryChunks(g, order, entryNames)

	default:
		return nil, fmt.Errorf("unknown chunk policy: %s", policy)
	}
}

func planEntryChunks(g *graph.Graph, order []string, entryNames map[string]string) (*ChunkPlan, error) {
	reachedBy := make(map[string][]int, len(g.Modules))
	names := make([]string, len(g.Entries))
	seenNames := make(map[string]bool)

	for i, entry := range g.Entries {
		name, ok := entryNames[entry]
		if !ok {
			base := filepath.Base(entry)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		if name == CommonChunk {
			return nil, fmt.Errorf("entry name %q is reserved by the entry chunk policy", CommonChunk)
		}
		if seenNames[name] {
			return nil, fmt.Errorf("duplicate entry name %q", name)
		}
		seenNames[name] = true
		names[i] = name

		for _, id := range reachable(g, entry) {
			reachedBy[id] = append(reachedBy[id], i)
		}
	}

	common := Chunk{Name: CommonChunk}
	perEntry := make([]Chunk, len(g.Entries))
	for i, entry := range g.Entries {
		perEntry[i] = Chunk{Name: names[i], Entries: []string{entry}}
	}

	for _, id := range order {
		owners := reachedBy[id]
		if len(owners) == 1 {
			perEntry[owners[0]].Modules = append(perEntry[owners[0]].Modules, id)
		} else {
			common.Modules = append(common.Modules, id)
		}
	}

	plan := &ChunkPlan{Policy: config.ChunksEntry}
	if len(common.Modules) > 0 {
		plan.Chunks = append(plan.Chunks, common)
	}
	plan.Chunks = append(plan.Chunks, perEntry...)
	return plan, nil
}

// reachable returns the IDs reachable from id, including id
func reachable(g *graph.Graph, id string) []string {
	seen := map[string]bool{id: true}
	queue := []string{id}
	for i := 0; i < len(queue); i++ {
		for _, dep := range g.Dependencies(queue[i]) {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return queue
}

// Validate checks that the plan covers every module of g exactly once
func (p *ChunkPlan) Validate(g *graph.Graph) error {
	owner := make(map[string]string, len(g.Modules))
	names := make(map[string]bool, len(p.Chunks))
	for _, chunk := range p.Chunks {
		if names[chunk.Name] {
			return fmt.Errorf("duplicate chunk name %q", chunk.Name)
		}
		names[chunk.Name] = true
		for _, id := range chunk.Modules {
			if _, ok := g.Modules[id]; !ok {
				return fmt.Errorf("chunk %s lists unknown module %s", chunk.Name, id)
			}
			if other, ok := owner[id]; ok {
				return fmt.Errorf("module %s is in chunks %s and %s", id, other, chunk.Name)
			}
			owner[id] = chunk.Name
		}
	}
	for id := range g.Modules {
		if _, ok := owner[id]; !ok {
			return fmt.Errorf("module %s is not in any chunk", id)
		}
	}
	return nil
}
