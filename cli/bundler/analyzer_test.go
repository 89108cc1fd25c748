package bundler

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/emit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetafile() *emit.Metafile {
	return &emit.Metafile{
		Inputs: map[string]emit.MetafileInput{
			"src/index.js":   {Bytes: 100, Imports: []emit.MetafileImport{{Path: "src/util.js"}, {Path: "external:react", External: true}}},
			"src/util.js":    {Bytes: 300, Imports: []emit.MetafileImport{}},
			"external:react": {Bytes: 0, Imports: []emit.MetafileImport{}},
		},
		Outputs: map[string]emit.MetafileOutput{
			"static/js/main.0123abcd.js": {
				Bytes: 1000,
				Inputs: map[string]emit.InputContrib{
					"src/index.js":   {BytesInOutput: 150},
					"src/util.js":    {BytesInOutput: 350},
					"external:react": {BytesInOutput: 40},
				},
				Imports:    []emit.MetafileImport{{Path: "react", External: true}},
				EntryPoint: "src/index.js",
			},
			"static/css/main.89abcdef.css": {
				Bytes:  20,
				Inputs: map[string]emit.InputContrib{"src/a.css": {BytesInOutput: 20}},
			},
		},
	}
}

// =============================================================================
// Analyzer Tests
// =============================================================================

func TestAnalyzeMetafile(t *testing.T) {
	results := AnalyzeMetafile(sampleMetafile())
	require.Len(t, results, 2)

	css := results[0]
	assert.Equal(t, "static/css/main.89abcdef.css", css.Output)
	require.Len(t, css.InputFiles, 1)
	assert.Equal(t, 100.0, css.InputFiles[0].Percentage)
	assert.Equal(t, 0, css.InputFiles[0].Bytes)

	js := results[1]
	assert.Equal(t, "static/js/main.0123abcd.js", js.Output)
	assert.Equal(t, "src/index.js", js.EntryPoint)
	assert.Equal(t, 1000, js.TotalBytes)
	assert.Equal(t, []string{"react"}, js.ExternalImports)
	assert.Empty(t, js.Warnings)

	paths := make([]string, len(js.InputFiles))
	for i, f := range js.InputFiles {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"src/util.js", "src/index.js", "external:react"}, paths)
	assert.InDelta(t, 35.0, js.InputFiles[0].Percentage, 0.001)
	assert.Equal(t, 300, js.InputFiles[0].Bytes)
	assert.Equal(t, 2, js.InputFiles[1].ImportCount)
}

func TestAnalyzeMetafile_SizeWarning(t *testing.T) {
	meta := &emit.Metafile{
		Outputs: map[string]emit.MetafileOutput{
			"static/js/main.js": {Bytes: SizeLimit + 1, Inputs: map[string]emit.InputContrib{}},
		},
	}
	results := AnalyzeMetafile(meta)
	require.Len(t, results, 1)
	require.Len(t, results[0].Warnings, 1)
	assert.Contains(t, results[0].Warnings[0], "exceeds the recommended size")
}

func TestAnalyzer_Analyze(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(sampleMetafile())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, emit.MetaFile), data, 0644))

	results, err := NewAnalyzer(dir).Analyze()
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAnalyzer_Errors(t *testing.T) {
	t.Run("missing metafile", func(t *testing.T) {
		_, err := NewAnalyzer(t.TempDir()).Analyze()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run fluxpack build first")
	})

	t.Run("malformed metafile", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, emit.MetaFile), []byte("{"), 0644))
		_, err := NewAnalyzer(dir).Analyze()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse metafile")
	})
}

// =============================================================================
// Display Tests
// =============================================================================

func newTextFormatter(buf *bytes.Buffer) *output.Formatter {
	f := output.NewFormatter(output.FormatTable, false, false)
	f.Writer = buf
	f.ErrWriter = buf
	return f
}

func TestDisplayAnalysis(t *testing.T) {
	results := AnalyzeMetafile(sampleMetafile())

	var buf bytes.Buffer
	DisplayAnalysis(newTextFormatter(&buf), results[1], false)
	out := buf.String()

	assert.Contains(t, out, "static/js/main.0123abcd.js")
	assert.Contains(t, out, "Entry point:  src/index.js")
	assert.Contains(t, out, "External: react")
	assert.Contains(t, out, "35.0%")
}

func TestBreakdownTable(t *testing.T) {
	result := &AnalysisResult{Output: "main.js", TotalBytes: 1200}
	for i := 0; i < 12; i++ {
		result.InputFiles = append(result.InputFiles, FileAnalysis{Path: strings.Repeat("x", i+1), BytesInOutput: 100, Percentage: 8.5})
	}

	table, hidden := BreakdownTable(result, false)
	assert.Len(t, table.Rows, breakdownLimit)
	assert.Equal(t, 2, hidden)
	assert.Equal(t, []string{"x", "100 B", "8.5%"}, table.Rows[0])

	table, hidden = BreakdownTable(result, true)
	assert.Len(t, table.Rows, 12)
	assert.Zero(t, hidden)

	var buf bytes.Buffer
	DisplayAnalysis(newTextFormatter(&buf), result, false)
	assert.Contains(t, buf.String(), "... and 2 more files")
}

func TestSummaryTable(t *testing.T) {
	results := []*AnalysisResult{
		{Output: "b.js", TotalBytes: 5120, InputFiles: []FileAnalysis{{}}},
		{Output: "a.js", TotalBytes: 10240, InputFiles: []FileAnalysis{{}, {}}, ExternalImports: []string{"react"}},
	}

	table := SummaryTable(results)
	assert.Equal(t, [][]string{
		{"a.js", "10 KiB", "2", "1"},
		{"b.js", "5.0 KiB", "1", "0"},
		{"TOTAL", "15 KiB", "", ""},
	}, table.Rows)
	assert.Equal(t, "b.js", results[0].Output, "input order is left alone")

	single := SummaryTable(results[:1])
	assert.Len(t, single.Rows, 1)
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		max  int
		want string
	}{
		{name: "short", path: "src/a.js", max: 50, want: "src/a.js"},
		{name: "long", path: "src/components/deeply/nested/Button.tsx", max: 20, want: "...nested/Button.tsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncatePath(tt.path, tt.max))
		})
	}
}
