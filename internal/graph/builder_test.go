package graph

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/resolver"
	"github.com/fluxbase-eu/fluxpack/internal/testutil"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTransformer records how often each path is transformed
type countingTransformer struct {
	inner Transformer
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingTransformer) Transform(ctx context.Context, path string, raw []byte) (*transform.Result, error) {
	c.mu.Lock()
	c.calls[path]++
	c.mu.Unlock()
	return c.inner.Transform(ctx, path, raw)
}

func newTestBuilder(t *testing.T, root string, concurrency int, externals map[string]string) (*Builder, *countingTransformer) {
	t.Helper()
	rules := config.DefaultRules()
	require.NoError(t, config.ValidateRules(rules))
	cfg := &config.Config{
		Root:             root,
		Rules:            rules,
		Output:           config.OutputConfig{AssetFilename: "static/media/[name].[hash:8].[ext]"},
		Assets:           config.AssetsConfig{InlineLimit: 8192},
		Target:           config.TargetConfig{ES: "es2015", JSX: "transform"},
		TransformTimeout: 10 * time.Second,
		Mode:             config.ModeDevelopment,
	}

	res, err := resolver.New(resolver.Options{
		Extensions: []string{".tsx", ".ts", ".js", ".json"},
		Alias:      map[string]string{"@": filepath.Join(root, "src")},
		Modules:    []string{"node_modules"},
		MainFields: []string{"browser", "module", "main"},
		Externals:  externals,
	})
	require.NoError(t, err)

	counter := &countingTransformer{inner: transform.New(cfg), calls: make(map[string]int)}
	return NewBuilder(root, res, counter, concurrency), counter
}

func rel(g *Graph, ids ...string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.Modules[id].RelPath
	}
	return out
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_CycleScenario(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.ts": "import \"./a.css\";\nimport { b } from \"./b\";\nexport const x = 1;\nconsole.log(b);\n",
		"src/a.css":    ".a { color: red; }\n",
		"src/b.ts":     "import { x } from \"./index\";\nexport const b = () => x;\n",
	})
	builder, _ := newTestBuilder(t, root, 4, nil)

	g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.ts")})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	assert.Len(t, g.Modules, 3)
	assert.Equal(t, []string{"src/a.css", "src/b.ts", "src/index.ts"}, rel(g, g.IDs()...))
	assert.Equal(t, []string{filepath.Join(root, "src", "index.ts")}, g.Entries)

	require.Len(t, g.Cycles, 1)
	assert.Equal(t, []string{"src/b.ts", "src/index.ts"}, rel(g, g.Cycles[0]...))

	index := g.Modules[filepath.Join(root, "src", "index.ts")]
	assert.True(t, index.Entry)
	assert.Equal(t, []string{"./a.css", "./b"}, index.Imports)
	assert.Len(t, index.Deps, 2)

	css := g.Modules[filepath.Join(root, "src", "a.css")]
	require.Len(t, css.Artifacts, 1)
	assert.Equal(t, transform.ArtifactStylesheet, css.Artifacts[0].Kind)
	assert.Empty(t, css.Deps)
	assert.False(t, g.InCycle(css.ID))

	assert.Len(t, g.Edges, 3)
}

func TestBuild_SharedModuleTransformedOnce(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"src/index.js":  "require('./a'); require('./b'); require('./c'); require('./shared');\n",
		"src/shared.js": "module.exports = 1;\n",
	}
	for _, name := range []string{"a", "b", "c"} {
		files["src/"+name+".js"] = "module.exports = require('./shared') + require('@/shared');\n"
	}
	testutil.WriteTree(t, root, files)

	for _, concurrency := range []int{1, 8} {
		builder, counter := newTestBuilder(t, root, concurrency, nil)
		g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.js")})
		require.NoError(t, err)

		assert.Len(t, g.Modules, 5)
		for path, calls := range counter.calls {
			assert.Equal(t, 1, calls, "%s transformed %d times", path, calls)
		}
		shared := filepath.Join(root, "src", "shared.js")
		assert.Equal(t, 1, counter.calls[shared])

		a := g.Modules[filepath.Join(root, "src", "a.js")]
		require.Len(t, a.Deps, 2)
		assert.Equal(t, shared, a.Deps[0].To)
		assert.Equal(t, shared, a.Deps[1].To)
		assert.Equal(t, []string{shared}, g.Dependencies(a.ID))
		assert.Empty(t, g.Cycles)
	}
}

func TestBuild_MultipleEntries(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/app.js":    "require('./common');\n",
		"src/admin.js":  "require('./common');\n",
		"src/common.js": "module.exports = {};\n",
	})
	builder, _ := newTestBuilder(t, root, 2, nil)

	g, err := builder.Build(context.Background(), []string{
		filepath.Join(root, "src", "app.js"),
		filepath.Join(root, "src", "admin"),
		filepath.Join(root, "src", "app.js"),
	})
	require.NoError(t, err)
	assert.Len(t, g.Modules, 3)
	assert.Equal(t, []string{"src/app.js", "src/admin.js"}, rel(g, g.Entries...))
}

func TestBuild_SelfImportIsCycle(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/self.js": "module.exports = require('./self');\n"})
	builder, _ := newTestBuilder(t, root, 1, nil)

	g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "self.js")})
	require.NoError(t, err)
	require.Len(t, g.Cycles, 1)
	assert.Equal(t, []string{"src/self.js"}, rel(g, g.Cycles[0]...))
}

func TestBuild_Externals(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/index.js": "var React = require('react');\nmodule.exports = React;\n"})
	builder, _ := newTestBuilder(t, root, 1, map[string]string{"react": "React"})

	g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.js")})
	require.NoError(t, err)

	ext, ok := g.Modules[ExternalPrefix+"react"]
	require.True(t, ok)
	assert.Equal(t, "React", ext.External)
	assert.Equal(t, "module.exports = globalThis[\"React\"];\n", string(ext.Code))
	assert.NotEmpty(t, ext.Hash)
}

func TestBuild_MissingSpecifier(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.js": "require('./b');\n",
		"src/b.js":     "require('./missing');\n",
	})
	builder, _ := newTestBuilder(t, root, 4, nil)

	g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.js")})
	require.Error(t, err)
	assert.Nil(t, g)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "./missing", buildErr.Specifier)
	assert.Equal(t, []string{"src/index.js", "src/b.js"}, buildErr.Chain)

	var resErr *resolver.ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, resolver.NotFound, resErr.Reason)
	assert.Contains(t, err.Error(), "src/index.js -> src/b.js")
}

func TestBuild_TransformFailure(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.js": "require('./broken');\n",
		"src/broken.js": "var = ;\n",
	})
	builder, _ := newTestBuilder(t, root, 4, nil)

	_, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.js")})

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, "./broken", buildErr.Specifier)
	assert.Equal(t, []string{"src/index.js", "src/broken.js"}, buildErr.Chain)

	var tErr *transform.TransformError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, transform.Failed, tErr.Reason)
}

func TestBuild_MissingEntry(t *testing.T) {
	root := t.TempDir()
	builder, _ := newTestBuilder(t, root, 1, nil)

	_, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "nope.js")})

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Empty(t, buildErr.Chain)

	var resErr *resolver.ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, resolver.NotFound, resErr.Reason)
}

func TestBuild_RequireTextIsNotAnEdge(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.ts": "import readme from \"./README.md\";\n" +
			"export const hint = \"call require('lodash') to load it\";\n" +
			"export const tpl = `require('moment')`;\n" +
			"console.log(readme);\n",
		"src/README.md": "Install it, then `require('left-pad')`.\n",
	})
	builder, _ := newTestBuilder(t, root, 2, nil)

	g, err := builder.Build(context.Background(), []string{filepath.Join(root, "src", "index.ts")})
	require.NoError(t, err)

	assert.Equal(t, []string{"src/README.md", "src/index.ts"}, rel(g, g.IDs()...))
	assert.Equal(t, []string{"./README.md"}, g.Modules[filepath.Join(root, "src", "index.ts")].Imports)
	assert.Empty(t, g.Modules[filepath.Join(root, "src", "README.md")].Deps)
	assert.Len(t, g.Edges, 1)
}

func TestBuild_Canceled(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/index.js": "module.exports = 1;\n"})
	builder, _ := newTestBuilder(t, root, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := builder.Build(ctx, []string{filepath.Join(root, "src", "index.js")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// =============================================================================
// SCC Tests
// =============================================================================

func TestStronglyConnected(t *testing.T) {
	mod := func(id string, deps ...string) *Module {
		m := &Module{ID: id}
		for _, d := range deps {
			m.Deps = append(m.Deps, Dependency{Specifier: d, To: d})
		}
		return m
	}
	g := &Graph{Modules: map[string]*Module{
		"a": mod("a", "b"),
		"b": mod("b", "c"),
		"c": mod("c", "a", "d"),
		"d": mod("d"),
		"e": mod("e", "e", "d"),
	}}

	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d"}, {"e"}}, g.StronglyConnected())
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"e"}}, findCycles(g))
}

func TestGraph_ValidateDanglingEdge(t *testing.T) {
	g := &Graph{
		Modules: map[string]*Module{"a": {ID: "a"}},
		Entries: []string{"a"},
		Edges:   []Edge{{From: "a", Specifier: "./b", To: "b"}},
	}
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dangling edge")
}
