package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fluxbase-eu/fluxpack/cli/config"
	"github.com/fluxbase-eu/fluxpack/cli/output"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/publish"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the output directory to storage",
	Long: `Publish uploads the files of the last build to a local directory or an S3
compatible bucket. Content-hashed assets are uploaded before the HTML shell and
manifests, and files whose content is already stored are skipped.

Examples:
  fluxpack publish                      # Upload ./dist to the configured bucket
  fluxpack publish --dry-run            # Show what would be uploaded
  fluxpack publish --delete-missing     # Also remove objects no longer built
  fluxpack publish login                # Store S3 keys in the system keychain`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

var publishLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store S3 credentials for the publish target in the keychain",
	Args:  cobra.NoArgs,
	RunE:  runPublishLogin,
}

var publishLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove S3 credentials for the publish target from the keychain",
	Args:  cobra.NoArgs,
	RunE:  runPublishLogout,
}

var (
	publishDir           string
	publishBucket        string
	publishPrefix        string
	publishDryRun        bool
	publishDeleteMissing bool
	publishConcurrency   int
	publishTimeout       time.Duration
)

func init() {
	publishCmd.Flags().StringVarP(&publishDir, "dir", "d", "", "Directory to publish (default: output.dir)")
	publishCmd.Flags().StringVar(&publishBucket, "bucket", "", "Target bucket (overrides publish.bucket)")
	publishCmd.Flags().StringVar(&publishPrefix, "prefix", "", "Key prefix inside the bucket (overrides publish.prefix)")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "Preview changes without uploading")
	publishCmd.Flags().BoolVar(&publishDeleteMissing, "delete-missing", false, "Delete objects under the prefix that are not in the output")
	publishCmd.Flags().IntVar(&publishConcurrency, "concurrency", 4, "Parallel uploads")
	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 10*time.Minute, "Timeout for the whole upload")

	publishCmd.AddCommand(publishLoginCmd)
	publishCmd.AddCommand(publishLogoutCmd)
}

func publishOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if publishBucket != "" {
		overrides["publish.bucket"] = publishBucket
	}
	if publishPrefix != "" {
		overrides["publish.prefix"] = publishPrefix
	}
	return overrides
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(publishOverrides())
	if err != nil {
		return err
	}
	pc := cfg.Publish
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("invalid publish configuration: %w", err)
	}
	if err := config.NewCredentialManager().Resolve(&pc); err != nil {
		return err
	}

	dir := publishDir
	if dir == "" {
		dir = cfg.Output.Dir
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
	defer cancel()

	provider, err := storage.NewProvider(&pc)
	if err != nil {
		return err
	}
	if err := provider.Health(ctx); err != nil {
		return fmt.Errorf("storage provider %s is not reachable: %w", provider.Name(), err)
	}

	metrics := observability.NewMetrics()
	publisher, err := publish.New(provider, publish.Options{
		Bucket:        pc.Bucket,
		Prefix:        pc.Prefix,
		RateLimit:     pc.RateLimit,
		Concurrency:   publishConcurrency,
		DryRun:        publishDryRun,
		DeleteMissing: publishDeleteMissing,
		OnUpload: func(key string, size int64, err error) {
			metrics.RecordUpload(provider.Name(), size, err)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Upload failed")
			}
		},
	})
	if err != nil {
		return err
	}

	if publishDryRun {
		formatter.PrintInfo(fmt.Sprintf("Dry run: nothing is uploaded to %s://%s", provider.Name(), pc.Bucket))
	}

	report, err := publisher.Publish(ctx, dir)
	pushMetrics(cfg, metrics)
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(report)
	}

	rows := make([][]string, 0, len(report.Files))
	for _, f := range report.Files {
		rows = append(rows, []string{f.Key, string(f.Action), output.Size(f.Size)})
	}
	formatter.PrintTable(output.TableData{
		Headers: []string{"KEY", "ACTION", "SIZE"},
		Rows:    rows,
		Numeric: []int{2},
	})

	formatter.PrintSuccess(fmt.Sprintf("\n%d uploaded, %d unchanged, %d deleted, %d planned (%s) to %s://%s/%s",
		report.Count(publish.ActionUploaded),
		report.Count(publish.ActionUnchanged),
		report.Count(publish.ActionDeleted),
		report.Count(publish.ActionPlanned),
		output.Size(report.Bytes),
		report.Provider,
		report.Bucket,
		strings.Trim(pc.Prefix, "/"),
	))
	return nil
}

func runPublishLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(publishOverrides())
	if err != nil {
		return err
	}
	if cfg.Publish.Provider != "s3" {
		return fmt.Errorf("publish login only applies to the s3 provider")
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	fmt.Fprintf(cmd.ErrOrStderr(), "Access key for %s: ", config.Account(&cfg.Publish))
	accessKey, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read access key: %w", err)
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Secret key: ")
	secretKey, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read secret key: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr())

	creds := &config.Credentials{
		AccessKey: strings.TrimSpace(accessKey),
		SecretKey: strings.TrimSpace(secretKey),
	}
	if err := config.NewCredentialManager().SaveCredentials(&cfg.Publish, creds); err != nil {
		return err
	}

	formatter.PrintSuccess("Credentials stored in the system keychain. Set publish.credential_store to keychain to use them.")
	return nil
}

// readSecret reads without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		return string(secret), err
	}
	return reader.ReadString('\n')
}

func runPublishLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(publishOverrides())
	if err != nil {
		return err
	}
	if err := config.NewCredentialManager().DeleteCredentials(&cfg.Publish); err != nil {
		return err
	}
	formatter.PrintSuccess("Credentials removed from the system keychain")
	return nil
}
