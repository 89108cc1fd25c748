package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/build"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the application into the output directory",
	Long: `Build resolves and transforms every module reachable from the entries and
writes the bundles atomically: either the whole output directory is replaced or
the previous one is left untouched.

Examples:
  fluxpack build                              # Development build into ./dist
  fluxpack build --mode production            # Minified, content-hashed output
  fluxpack build --entry admin=src/admin.tsx  # Override the entries
  fluxpack build --chunks entry               # One chunk per entry plus a common chunk
  fluxpack build -o json                      # Machine readable report`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var (
	buildOutDir      string
	buildEntries     []string
	buildChunks      string
	buildPublicPath  string
	buildConcurrency int
	buildNoClean     bool
	buildNoHTML      bool
	buildMetricsFile string
)

func init() {
	buildCmd.Flags().StringVarP(&buildOutDir, "out-dir", "d", "", "Output directory (overrides output.dir)")
	buildCmd.Flags().StringArrayVarP(&buildEntries, "entry", "e", nil, "Entry as name=path, repeatable (overrides entry)")
	buildCmd.Flags().StringVar(&buildChunks, "chunks", "", "Chunk policy: single or entry")
	buildCmd.Flags().StringVar(&buildPublicPath, "public-path", "", "URL prefix of emitted files")
	buildCmd.Flags().IntVarP(&buildConcurrency, "concurrency", "j", 0, "Modules transformed in parallel (default: number of CPUs)")
	buildCmd.Flags().BoolVar(&buildNoClean, "no-clean", false, "Keep files of previous builds in the output directory")
	buildCmd.Flags().BoolVar(&buildNoHTML, "no-html", false, "Do not emit the HTML shell")
	buildCmd.Flags().StringVar(&buildMetricsFile, "metrics-file", "", "Write build metrics in Prometheus text format to this file")
}

// buildOverrides turns the build flags into configuration overrides
func buildOverrides(cmd *cobra.Command) (map[string]interface{}, error) {
	overrides := make(map[string]interface{})

	if buildOutDir != "" {
		abs, err := filepath.Abs(buildOutDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output directory: %w", err)
		}
		overrides["output.dir"] = abs
	}
	if len(buildEntries) > 0 {
		entries, err := parseEntries(buildEntries)
		if err != nil {
			return nil, err
		}
		overrides["entry"] = entries
	}
	if buildChunks != "" {
		overrides["chunks"] = buildChunks
	}
	if cmd.Flags().Changed("public-path") {
		overrides["output.public_path"] = buildPublicPath
	}
	if buildConcurrency > 0 {
		overrides["concurrency"] = buildConcurrency
	}
	if buildNoClean {
		overrides["output.clean"] = false
	}
	if buildNoHTML {
		overrides["html.enabled"] = false
	}
	return overrides, nil
}

// parseEntries parses name=path pairs. A bare path is named after its file.
func parseEntries(values []string) (map[string]string, error) {
	entries := make(map[string]string, len(values))
	for _, value := range values {
		name, path, ok := strings.Cut(value, "=")
		if !ok {
			path = value
			base := filepath.Base(path)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid entry %q (expected name=path)", value)
		}
		if _, dup := entries[name]; dup {
			return nil, fmt.Errorf("duplicate entry name %q", name)
		}
		entries[name] = path
	}
	return entries, nil
}

// buildReport is the structured output of a build
type buildReport struct {
	ID         string      `json:"id" yaml:"id"`
	Mode       string      `json:"mode" yaml:"mode"`
	OutDir     string      `json:"out_dir" yaml:"out_dir"`
	Hash       string      `json:"hash" yaml:"hash"`
	Modules    int         `json:"modules" yaml:"modules"`
	Cycles     [][]string  `json:"cycles" yaml:"cycles"`
	Chunks     interface{} `json:"chunks" yaml:"chunks"`
	Files      interface{} `json:"files" yaml:"files"`
	DurationMS int64       `json:"duration_ms" yaml:"duration_ms"`
	PeakRSS    uint64      `json:"peak_rss_bytes" yaml:"peak_rss_bytes"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	overrides, err := buildOverrides(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	if available, err := observability.AvailableMemory(ctx); err == nil {
		log.Debug().Str("available", humanize.IBytes(available)).Int("concurrency", cfg.Concurrency).Msg("Build resources")
	}

	tracer, flush := newTracer(ctx, cfg)
	defer flush()
	metrics := observability.NewMetrics()

	result, err := build.Run(ctx, cfg, build.Options{
		Version: Version,
		Metrics: metrics,
		Tracer:  tracer,
	})

	pushMetrics(cfg, metrics)
	if buildMetricsFile != "" {
		if werr := metrics.WriteTextfile(buildMetricsFile); werr != nil {
			log.Warn().Err(werr).Str("file", buildMetricsFile).Msg("Failed to write metrics file")
		}
	}

	if err != nil {
		return err
	}

	if formatter.Structured() {
		cycles := make([][]string, len(result.Graph.Cycles))
		for i, cycle := range result.Graph.Cycles {
			cycles[i] = relPaths(result.Graph, cycle)
		}
		return formatter.Print(buildReport{
			ID:         result.ID,
			Mode:       result.Mode.String(),
			OutDir:     result.Output.OutDir,
			Hash:       result.Output.BuildHash,
			Modules:    len(result.Graph.Modules),
			Cycles:     cycles,
			Chunks:     result.Output.Chunks,
			Files:      result.Output.Files,
			DurationMS: result.Duration.Milliseconds(),
			PeakRSS:    result.PeakRSS,
		})
	}

	var total int64
	rows := make([][]string, 0, len(result.Output.Files))
	for _, f := range result.Output.Files {
		total += int64(f.Size)
		rows = append(rows, []string{f.Path, f.Kind, output.Size(int64(f.Size))})
	}
	formatter.PrintTable(output.TableData{
		Headers: []string{"FILE", "KIND", "SIZE"},
		Rows:    rows,
		Numeric: []int{2},
	})

	for _, cycle := range result.Graph.Cycles {
		formatter.PrintWarning("import cycle: " + strings.Join(relPaths(result.Graph, cycle), " -> "))
	}

	formatter.PrintSuccess(fmt.Sprintf("\nBuilt %d modules into %s (%s, %s) in %s",
		len(result.Graph.Modules),
		result.Output.OutDir,
		output.Size(total),
		result.Output.BuildHash,
		output.Duration(result.Duration),
	))
	return nil
}
