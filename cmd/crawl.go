// Package cmd defines and implements the CLI commands for the stream-embed-audit executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/config"
	"github.com/JakeFAU/stream-embed-audit/internal/logging"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Audits the tenant for deprecated Stream embeds",
		Long: `Lists the tenant's sites (or a single site), inspects every web part of
every modern page and records each one that embeds a Stream (Classic) video
together with the site owner. A new result file is started after every page of
the site listing; with --export each completed file is uploaded.`,
		PreRunE: prepareApp,
		RunE:    runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("site-id", "", "audit a single site instead of the whole tenant")
	flags.Int("page-size", 200, "sites requested per listing page")
	flags.Int("result-size", 5000, "stop after this many sites have been listed (0 disables the cap)")
	flags.Bool("cache-owners", false, "look up each site owner once instead of once per match")
	flags.Bool("export", false, "upload each completed result file")
	flags.String("provider", config.ProviderAzure, "upload provider: azure, gcs, s3 or local")
	flags.String("resource-group", "", "Azure resource group of the storage account")
	flags.String("storage-account", "", "Azure storage account name")
	flags.String("container", "", "container or bucket receiving the result files")
	flags.Int("max-retry", 3, "retries per request for throttling and expired tokens")
	flags.String("output-dir", ".", "directory for local result files")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during the crawl")
	return cmd
}

// prepareApp loads configuration, builds the logger and injects the App into
// the command context.
func prepareApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Verbose, zap.String("command", cmd.Name()))
	if err != nil {
		return err
	}
	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
	return nil
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	// Post-run hooks are skipped when RunE fails, so close here.
	defer appInstance.Close()

	result, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("crawl interrupted after %d matches: %w", result.Summary.Matches, err)
		}
		return fmt.Errorf("run crawl: %w", err)
	}

	for _, f := range result.Files {
		location := f.Path
		if f.Uploaded {
			location = f.URI
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", location, f.Rows)
	}
	appInstance.GetLogger().Info("Crawl command finished.",
		zap.String("run_id", result.RunID),
		zap.Int("matches", result.Summary.Matches),
	)
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
