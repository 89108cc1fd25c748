package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the build configuration",
	Long:  `View, validate and initialize fluxpack configuration.`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	Long: `Show the configuration a build would use, after defaults, fluxpack.yaml,
FLUXPACK_* environment variables and flags are applied. Secrets are redacted.

Examples:
  fluxpack config view
  fluxpack config view --mode production --output json`,
	Args: cobra.NoArgs,
	RunE: runConfigView,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without building",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter fluxpack.yaml",
	Long: `Create fluxpack.yaml with the conventional single-page application layout:
sources in src/, the HTML template in public/index.html and output in dist/.

Examples:
  fluxpack config init
  fluxpack config init ./web --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing fluxpack.yaml")

	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
}

const redacted = "********"

func runConfigView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	view := *cfg
	if view.Publish.S3AccessKey != "" {
		view.Publish.S3AccessKey = redacted
	}
	if view.Publish.S3SecretKey != "" {
		view.Publish.S3SecretKey = redacted
	}
	if view.Cache.RedisURL != "" {
		view.Cache.RedisURL = redactURL(view.Cache.RedisURL)
	}
	return formatter.Print(view)
}

// redactURL hides the password of a connection URL
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Configuration is valid (%s, %d entries, %d rules)",
		cfg.Mode, len(cfg.Entry), len(cfg.Rules)))
	return nil
}

const starterConfig = `# fluxpack configuration
root: .

entry:
  main: src/index.tsx

output:
  dir: dist
  filename: static/js/[name].[contenthash:8].js
  css_filename: static/css/[name].[contenthash:8].css
  asset_filename: static/media/[name].[hash:8].[ext]
  public_path: /
  clean: true

resolve:
  extensions: [.tsx, .ts, .js, .json]
  alias:
    "@": src
    "@assets": src/assets

assets:
  inline_limit: 8192

target:
  es: es2015
  jsx: transform

html:
  enabled: true
  template: public/index.html
  title: App

chunks: single

cache:
  backend: none
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	path := filepath.Join(dir, "fluxpack.yaml")

	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	formatter.PrintSuccess("Created " + path)
	return nil
}
