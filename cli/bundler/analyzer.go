// Package bundler analyzes emitted bundles from their meta.json.
package bundler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fluxbase-eu/fluxpack/internal/emit"
)

// SizeLimit is the output size above which a bundle gets a warning
const SizeLimit = 244 * 1024

// AnalysisResult contains the analysis of one emitted file
type AnalysisResult struct {
	Output          string         `json:"output" yaml:"output"`
	EntryPoint      string         `json:"entry_point,omitempty" yaml:"entry_point,omitempty"`
	TotalBytes      int            `json:"total_bytes" yaml:"total_bytes"`
	InputFiles      []FileAnalysis `json:"inputs" yaml:"inputs"`
	ExternalImports []string       `json:"external_imports,omitempty" yaml:"external_imports,omitempty"`
	Warnings        []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FileAnalysis contains analysis for a single input of an output
type FileAnalysis struct {
	Path          string  `json:"path" yaml:"path"`
	Bytes         int     `json:"bytes" yaml:"bytes"`
	BytesInOutput int     `json:"bytes_in_output" yaml:"bytes_in_output"`
	Percentage    float64 `json:"percentage" yaml:"percentage"`
	ImportCount   int     `json:"import_count" yaml:"import_count"`
}

// Analyzer provides bundle analysis for an output directory
type Analyzer struct {
	outDir string
}

// NewAnalyzer creates a new bundle analyzer
func NewAnalyzer(outDir string) *Analyzer {
	return &Analyzer{outDir: outDir}
}

// Load reads the metafile written by the last build
func (a *Analyzer) Load() (*emit.Metafile, error) {
	path := filepath.Join(a.outDir, emit.MetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no %s in %s, run fluxpack build first", emit.MetaFile, a.outDir)
		}
		return nil, fmt.Errorf("failed to read metafile: %w", err)
	}

	var meta emit.Metafile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	return &meta, nil
}

// Analyze loads the metafile and analyzes every output
func (a *Analyzer) Analyze() ([]*AnalysisResult, error) {
	meta, err := a.Load()
	if err != nil {
		return nil, err
	}
	return AnalyzeMetafile(meta), nil
}

// AnalyzeMetafile returns one result per output, ordered by output path
func AnalyzeMetafile(meta *emit.Metafile) []*AnalysisResult {
	names := make([]string, 0, len(meta.Outputs))
	for name := range meta.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*AnalysisResult, 0, len(names))
	for _, name := range names {
		results = append(results, analyzeOutput(meta, name, meta.Outputs[name]))
	}
	return results
}

func analyzeOutput(meta *emit.Metafile, name string, output emit.MetafileOutput) *AnalysisResult {
	result := &AnalysisResult{
		Output:     name,
		EntryPoint: output.EntryPoint,
		TotalBytes: output.Bytes,
	}

	// Collect external imports
	for _, imp := range output.Imports {
		if imp.External {
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}
	}

	// Analyze input contributions
	for inputPath, contrib := range output.Inputs {
		percentage := 0.0
		if result.TotalBytes > 0 {
			percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
		}

		file := FileAnalysis{
			Path:          inputPath,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    percentage,
		}
		// extracted stylesheets are keyed by artifact name and have no input entry
		if inputInfo, ok := meta.Inputs[inputPath]; ok {
			file.Bytes = inputInfo.Bytes
			file.ImportCount = len(inputInfo.Imports)
		}
		result.InputFiles = append(result.InputFiles, file)
	}

	// Sort by bytes in output (largest first), then by path
	sort.Slice(result.InputFiles, func(i, j int) bool {
		a, b := result.InputFiles[i], result.InputFiles[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})

	sort.Strings(result.ExternalImports)

	if result.TotalBytes > SizeLimit {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s exceeds the recommended size of %d KiB", name, SizeLimit/1024))
	}

	return result
}
