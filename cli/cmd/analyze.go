package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/bundler"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show what makes up each emitted bundle",
	Long: `Analyze reads the meta.json written by the last build and prints, for each
emitted script and stylesheet, the inputs that contribute most to its size.

Examples:
  fluxpack analyze                 # Summary and the ten largest inputs per bundle
  fluxpack analyze --details       # Every input
  fluxpack analyze --dir build     # Analyze another output directory`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

var (
	analyzeDir     string
	analyzeDetails bool
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeDir, "dir", "d", "", "Output directory to analyze (default: output.dir)")
	analyzeCmd.Flags().BoolVar(&analyzeDetails, "details", false, "List every input instead of the ten largest")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	dir := analyzeDir
	if dir == "" {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		dir = cfg.Output.Dir
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	results, err := bundler.NewAnalyzer(dir).Analyze()
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(results)
	}
	if formatter.Quiet {
		return nil
	}

	formatter.PrintTable(bundler.SummaryTable(results))
	for _, result := range results {
		bundler.DisplayAnalysis(formatter, result, analyzeDetails)
	}
	return nil
}
