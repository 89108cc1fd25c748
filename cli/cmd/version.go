package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxpack/cli/output"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, and build date of fluxpack.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}
		if formatter.Structured() {
			return formatter.Print(info)
		}
		formatter.PrintFields(
			output.Field{Key: "Version", Value: info.Version},
			output.Field{Key: "Commit", Value: info.Commit},
			output.Field{Key: "Build date", Value: info.BuildDate},
			output.Field{Key: "Go", Value: info.GoVersion},
		)
		return nil
	},
}
