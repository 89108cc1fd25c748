package cmd

import (
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/logging"
	"github.com/spf13/cobra"
)

// registerFlagCompletions offers the fixed values of enum flags
func registerFlagCompletions() {
	noFiles := cobra.ShellCompDirectiveNoFileComp
	_ = rootCmd.RegisterFlagCompletionFunc("mode", cobra.FixedCompletions(
		[]string{string(config.ModeDevelopment), string(config.ModeProduction)}, noFiles))
	_ = rootCmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(
		[]string{"table", "json", "yaml"}, noFiles))
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", cobra.FixedCompletions(
		[]string{logging.FormatConsole, logging.FormatJSON}, noFiles))
	_ = buildCmd.RegisterFlagCompletionFunc("chunks", cobra.FixedCompletions(
		[]string{config.ChunksSingle, config.ChunksEntry}, noFiles))
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Print a shell completion script for fluxpack",
	Long: `Print a completion script that completes fluxpack subcommands (build,
graph, analyze, publish, config) and their flags such as --mode and --chunks.

Load it into the current shell:

  bash:        source <(fluxpack completion bash)
  zsh:         source <(fluxpack completion zsh)
  fish:        fluxpack completion fish | source
  powershell:  fluxpack completion powershell | Out-String | Invoke-Expression

To keep it, write the script where your shell looks for completions, e.g.
"fluxpack completion zsh > ${fpath[1]}/_fluxpack" or
"fluxpack completion fish > ~/.config/fish/completions/fluxpack.fish".`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}
