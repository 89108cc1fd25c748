package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolver maps import specifiers to files
type Resolver interface {
	Resolve(specifier, fromDir string) (string, error)
	External(specifier string) (string, bool)
}

// Transformer turns a file into a module body
type Transformer interface {
	Transform(ctx context.Context, path string, raw []byte) (*transform.Result, error)
}

// Builder walks the import graph from the entries, resolving and
// transforming each module once
type Builder struct {
	root        string
	resolver    Resolver
	transformer Transformer
	concurrency int
}

// NewBuilder creates a builder. A concurrency of zero uses the number of CPUs.
func NewBuilder(root string, resolver Resolver, transformer Transformer, concurrency int) *Builder {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Builder{
		root:        root,
		resolver:    resolver,
		transformer: transformer,
		concurrency: concurrency,
	}
}

type parentLink struct {
	from      string
	specifier string
}

// buildState is shared by the workers of one build. The visited set (modules)
// is the only mutable structure and is guarded by mu.
type buildState struct {
	b       *Builder
	mu      sync.Mutex
	modules map[string]*Module
	parents map[string]parentLink
	flight  singleflight.Group
}

// Build resolves every entry and transforms everything reachable from them.
// Modules are processed one frontier at a time; the modules of a frontier run
// in parallel. The first failure cancels the build and is returned as a
// *BuildError; no partial graph is returned.
func (b *Builder) Build(ctx context.Context, entryPaths []string) (*Graph, error) {
	st := &buildState{
		b:       b,
		modules: make(map[string]*Module),
		parents: make(map[string]parentLink),
	}

	var entries, frontier []string
	for _, path := range entryPaths {
		id, err := b.resolver.Resolve(path, b.root)
		if err != nil {
			return nil, &BuildError{Specifier: path, Err: err}
		}
		if st.claim(id, parentLink{}) {
			st.modules[id].Entry = true
			frontier = append(frontier, id)
			entries = append(entries, id)
		}
	}

	for len(frontier) > 0 {
		next, err := st.visitFrontier(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = next
	}

	g := &Graph{
		Root:    b.root,
		Modules: st.modules,
		Entries: entries,
	}
	for _, id := range g.IDs() {
		for _, dep := range g.Modules[id].Deps {
			g.Edges = append(g.Edges, Edge{From: id, Specifier: dep.Specifier, To: dep.To})
		}
	}
	g.Cycles = findCycles(g)

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("inconsistent graph: %w", err)
	}

	log.Debug().
		Int("modules", len(g.Modules)).
		Int("edges", len(g.Edges)).
		Int("cycles", len(g.Cycles)).
		Msg("Dependency graph closed")

	return g, nil
}

// visitFrontier processes a frontier in parallel and returns the modules it
// discovered, sorted for a stable schedule
func (st *buildState) visitFrontier(ctx context.Context, frontier []string) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.b.concurrency)

	var (
		nextMu sync.Mutex
		next   []string
	)

	for _, id := range frontier {
		id := id
		g.Go(func() error {
			discovered, err := st.visit(gctx, id)
			if err != nil {
				return err
			}
			nextMu.Lock()
			next = append(next, discovered...)
			nextMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(next)
	return next, nil
}

// claim records id as visited. Only the first claimer gets true and is
// responsible for transforming the module.
func (st *buildState) claim(id string, parent parentLink) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.modules[id]; ok {
		return false
	}
	st.modules[id] = &Module{ID: id, RelPath: st.b.relPath(id)}
	st.parents[id] = parent
	return true
}

// visit transforms one claimed module and resolves its imports
func (st *buildState) visit(ctx context.Context, id string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := st.flight.Do(id, func() (interface{}, error) {
		raw, err := os.ReadFile(id)
		if err != nil {
			return nil, fmt.Errorf("failed to read module: %w", err)
		}
		result, err := st.b.transformer.Transform(ctx, id, raw)
		if err != nil {
			return nil, err
		}
		return &visited{raw: len(raw), hash: naming.ContentHash(raw), result: result}, nil
	})
	if err != nil {
		return nil, st.fail(id, "", err)
	}
	out := v.(*visited)

	imports := out.result.Imports
	deps := make([]Dependency, 0, len(imports))
	var discovered []string

	for _, spec := range imports {
		if global, ok := st.b.resolver.External(spec); ok {
			to := ExternalPrefix + spec
			st.claimExternal(to, global, id, spec)
			deps = append(deps, Dependency{Specifier: spec, To: to})
			continue
		}

		to, err := st.b.resolver.Resolve(spec, filepath.Dir(id))
		if err != nil {
			return nil, st.fail(id, spec, err)
		}
		deps = append(deps, Dependency{Specifier: spec, To: to})
		if st.claim(to, parentLink{from: id, specifier: spec}) {
			discovered = append(discovered, to)
		}
	}

	st.mu.Lock()
	m := st.modules[id]
	m.Hash = out.hash
	m.Size = out.raw
	m.Code = out.result.Code
	m.Rule = out.result.Rule
	m.Artifacts = out.result.Artifacts
	m.Imports = imports
	m.Deps = deps
	st.mu.Unlock()

	log.Debug().Str("module", m.RelPath).Str("rule", m.Rule).Int("imports", len(imports)).Msg("Module transformed")

	return discovered, nil
}

type visited struct {
	raw    int
	hash   string
	result *transform.Result
}

// claimExternal adds the synthetic module standing for a runtime global
func (st *buildState) claimExternal(id, global, from, spec string) {
	if !st.claim(id, parentLink{from: from, specifier: spec}) {
		return
	}
	code := fmt.Sprintf("module.exports = globalThis[%s];\n", strconv.Quote(global))

	st.mu.Lock()
	defer st.mu.Unlock()
	m := st.modules[id]
	m.RelPath = id
	m.Code = []byte(code)
	m.Rule = "external"
	m.External = global
	m.Hash = naming.ContentHash([]byte(code))
}

// fail wraps err with the importer chain of id. specifier is the failing
// import of id, or empty when id itself failed.
func (st *buildState) fail(id, specifier string, err error) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	var chain []string
	for cur := id; ; {
		chain = append([]string{st.b.relPath(cur)}, chain...)
		parent := st.parents[cur]
		if parent.from == "" {
			break
		}
		if specifier == "" && cur == id {
			specifier = parent.specifier
		}
		cur = parent.from
		if len(chain) > len(st.modules) {
			break
		}
	}
	return &BuildError{Chain: chain, Specifier: specifier, Err: err}
}

func (b *Builder) relPath(id string) string {
	rel, err := filepath.Rel(b.root, id)
	if err != nil {
		return filepath.ToSlash(id)
	}
	return filepath.ToSlash(rel)
}
