package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxbase-eu/fluxpack/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, root string, modules ...string) *Resolver {
	t.Helper()
	if len(modules) == 0 {
		modules = []string{"node_modules"}
	}
	r, err := New(Options{
		Extensions: []string{".tsx", ".ts", ".js", ".json"},
		Alias: map[string]string{
			"@":           filepath.Join(root, "src"),
			"@assets":     filepath.Join(root, "src", "assets"),
			"@assets/img": filepath.Join(root, "images"),
		},
		Modules:    modules,
		MainFields: []string{"browser", "module", "main"},
		Externals:  map[string]string{"react": "React"},
	})
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.tsx":                        "",
		"src/app.ts":                           "",
		"src/app.js":                           "",
		"src/util/index.js":                    "",
		"src/data.json":                        "{}",
		"src/assets/logo.png":                  "png",
		"images/hero.png":                      "png",
		"node_modules/lodash/package.json":     `{"main": "lodash.js"}`,
		"node_modules/lodash/lodash.js":        "",
		"node_modules/lodash/fp/map.js":        "",
		"node_modules/dual/package.json":       `{"main": "cjs/index.js", "module": "esm/index.js", "browser": {"./x": false}}`,
		"node_modules/dual/cjs/index.js":       "",
		"node_modules/dual/esm/index.js":       "",
		"node_modules/@scope/pkg/package.json": `{"main": "./dist/main"}`,
		"node_modules/@scope/pkg/dist/main.js": "",
		"node_modules/noentry/index.js":        "",
		"node_modules/shim.js":                 "",
	})
	r := newTestResolver(t, root)
	src := filepath.Join(root, "src")

	tests := []struct {
		name      string
		specifier string
		fromDir   string
		want      string
	}{
		{name: "relative with extension order", specifier: "./app", fromDir: src, want: "src/app.ts"},
		{name: "relative exact file", specifier: "./app.js", fromDir: src, want: "src/app.js"},
		{name: "directory index", specifier: "./util", fromDir: src, want: "src/util/index.js"},
		{name: "parent directory", specifier: "../index", fromDir: filepath.Join(src, "util"), want: "src/index.tsx"},
		{name: "json file", specifier: "./data", fromDir: src, want: "src/data.json"},
		{name: "absolute path", specifier: filepath.Join(src, "app"), fromDir: root, want: "src/app.ts"},
		{name: "alias root", specifier: "@/app", fromDir: root, want: "src/app.ts"},
		{name: "alias exact key", specifier: "@", fromDir: root, want: "src/index.tsx"},
		{name: "longest alias prefix wins", specifier: "@assets/img/hero.png", fromDir: src, want: "images/hero.png"},
		{name: "shorter alias", specifier: "@assets/logo.png", fromDir: src, want: "src/assets/logo.png"},
		{name: "package main", specifier: "lodash", fromDir: src, want: "node_modules/lodash/lodash.js"},
		{name: "package deep import", specifier: "lodash/fp/map", fromDir: src, want: "node_modules/lodash/fp/map.js"},
		{name: "module field before main", specifier: "dual", fromDir: src, want: "node_modules/dual/esm/index.js"},
		{name: "scoped package", specifier: "@scope/pkg", fromDir: src, want: "node_modules/@scope/pkg/dist/main.js"},
		{name: "package index fallback", specifier: "noentry", fromDir: src, want: "node_modules/noentry/index.js"},
		{name: "bare file in module dir", specifier: "shim", fromDir: src, want: "node_modules/shim.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.specifier, tt.fromDir)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), got)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.ts":                     "",
		"node_modules/broken/package.json": `{"main": "missing.js"}`,
	})
	r := newTestResolver(t, root)
	src := filepath.Join(root, "src")

	for _, specifier := range []string{"./missing", "@/missing", "left-pad", "broken", "lodash/fp", ""} {
		t.Run(specifier, func(t *testing.T) {
			_, err := r.Resolve(specifier, src)
			require.Error(t, err)

			var resErr *ResolutionError
			require.True(t, errors.As(err, &resErr))
			assert.Equal(t, NotFound, resErr.Reason)
			assert.Equal(t, specifier, resErr.Specifier)
			assert.Equal(t, src, resErr.FromDir)
		})
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/index.ts":                         "",
		"node_modules/dup/index.js":            "",
		"web_modules/dup/index.js":             "",
		"node_modules/same/index.js":           "",
		"node_modules/only-node/index.js":      "",
		"web_modules/only-node/package.json":   `{"main": "nothing.js"}`,
		"src/node_modules/nearest/index.js":    "",
		"node_modules/nearest/index.js":        "",
		"web_modules/nearest/index.js":         "",
		"src/web_modules/shadowed/index.js":    "",
		"src/node_modules/shadowed/index.js":   "",
		"src/node_modules/shadowed/package.js": "",
	})
	r := newTestResolver(t, root, "node_modules", "web_modules")
	src := filepath.Join(root, "src")

	_, err := r.Resolve("dup", src)
	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, Ambiguous, resErr.Reason)
	assert.Len(t, resErr.Candidates, 2)
	assert.Contains(t, resErr.Error(), "Ambiguous")

	// present in one module directory only
	got, err := r.Resolve("same", src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node_modules", "same", "index.js"), got)

	// second copy has no resolvable entry
	got, err = r.Resolve("only-node", src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node_modules", "only-node", "index.js"), got)

	// the nearest level decides before the root level conflict is reached
	got, err = r.Resolve("nearest", src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "node_modules", "nearest", "index.js"), got)

	_, err = r.Resolve("shadowed", src)
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, Ambiguous, resErr.Reason)
}

func TestResolve_Deterministic(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/a.ts":                      "",
		"src/a.js":                      "",
		"node_modules/pkg/package.json": `{"main": "main.js"}`,
		"node_modules/pkg/main.js":      "",
	})
	src := filepath.Join(root, "src")

	first := newTestResolver(t, root)
	second := newTestResolver(t, root)

	for _, specifier := range []string{"./a", "pkg", "@/a"} {
		want, err := first.Resolve(specifier, src)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			got, err := first.Resolve(specifier, src)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			got, err = second.Resolve(specifier, src)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	}
}

func TestResolve_MemoizesResults(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"src/a.ts": ""})
	r := newTestResolver(t, root)
	src := filepath.Join(root, "src")

	got, err := r.Resolve("./a", src)
	require.NoError(t, err)

	// the cached answer survives the file disappearing
	require.NoError(t, os.Remove(got))
	again, err := r.Resolve("./a", src)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, r.cache.Len())
}

func TestExternal(t *testing.T) {
	r := newTestResolver(t, t.TempDir())

	global, ok := r.External("react")
	assert.True(t, ok)
	assert.Equal(t, "React", global)

	_, ok = r.External("react-dom")
	assert.False(t, ok)
}

func TestSplitPackage(t *testing.T) {
	tests := []struct {
		specifier string
		name      string
		sub       string
	}{
		{"lodash", "lodash", ""},
		{"lodash/fp/map", "lodash", "fp/map"},
		{"@scope/pkg", "@scope/pkg", ""},
		{"@scope/pkg/a/b", "@scope/pkg", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.specifier, func(t *testing.T) {
			name, sub := splitPackage(tt.specifier)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.sub, sub)
		})
	}
}

func TestNew_RequiresExtensions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
