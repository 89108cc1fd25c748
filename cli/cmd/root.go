// Package cmd provides the Cobra commands for the fluxpack CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/build"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/logging"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile   string
	modeName  string
	outputFmt string
	logFormat string
	noHeaders bool
	quiet     bool
	debug     bool

	// Shared across commands
	formatter *output.Formatter
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxpack",
	Short: "fluxpack - bundle a web application from its dependency graph",
	Long: `fluxpack resolves every import reachable from the configured entries,
transforms each module once, and writes content-hashed bundles, stylesheets,
media and an HTML shell to the output directory.

Get started:
  fluxpack build --mode production   Build into ./dist
  fluxpack graph                     Show modules, edges and import cycles
  fluxpack analyze                   Show what makes up each bundle
  fluxpack publish                   Upload the output directory

Configuration is read from fluxpack.yaml (or ./config/fluxpack.yaml),
FLUXPACK_* environment variables and command line flags.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !quiet {
		fmt.Fprintln(os.Stderr, build.Summary(err))
	}
	return build.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is ./fluxpack.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modeName, "mode", "m", "",
		"build mode: development or production (default development)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole,
		"log format: console, json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"enable debug logging")

	// Bind environment variables
	_ = viper.BindEnv("debug", "FLUXPACK_DEBUG")
	_ = viper.BindEnv("mode", "FLUXPACK_MODE")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)

	registerFlagCompletions()
}

// setup configures logging and the output formatter before any command runs
func setup(cmd *cobra.Command, args []string) error {
	if viper.GetBool("debug") {
		debug = true
	}

	if err := logging.Setup(logging.Options{Format: logFormat, Debug: debug, Quiet: quiet}); err != nil {
		return err
	}

	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}
	formatter = output.NewFormatter(format, noHeaders, quiet)
	formatter.Writer = cmd.OutOrStdout()
	formatter.ErrWriter = cmd.ErrOrStderr()
	return nil
}

// buildMode returns the mode from --mode or FLUXPACK_MODE
func buildMode() (config.BuildMode, error) {
	name := modeName
	if name == "" {
		name = viper.GetString("mode")
	}
	if name == "" {
		return config.ModeDevelopment, nil
	}
	return config.ParseBuildMode(name)
}

// loadConfig loads fluxpack.yaml with the given flag overrides applied
func loadConfig(overrides map[string]interface{}) (*config.Config, error) {
	mode, err := buildMode()
	if err != nil {
		return nil, err
	}
	if debug {
		if overrides == nil {
			overrides = make(map[string]interface{})
		}
		overrides["debug"] = true
	}

	cfg, err := config.Load(config.LoadOptions{
		Mode:       mode,
		ConfigFile: cfgFile,
		Overrides:  overrides,
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newTracer starts tracing when it is enabled in cfg. The returned function
// flushes pending spans.
func newTracer(ctx context.Context, cfg *config.Config) (*observability.Tracer, func()) {
	tracer, err := observability.NewTracer(ctx, cfg.Tracing, Version, cfg.Mode.String())
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
		return observability.NoopTracer(), func() {}
	}
	return tracer, func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
}

// pushMetrics sends metrics to the configured Pushgateway. Failures are
// logged and never fail the command.
func pushMetrics(cfg *config.Config, metrics *observability.Metrics) {
	if !cfg.Metrics.Enabled || cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		log.Warn().Err(err).Msg("Metrics not pushed")
		return
	}
	log.Debug().Str("url", cfg.Metrics.PushgatewayURL).Msg("Metrics pushed")
}
