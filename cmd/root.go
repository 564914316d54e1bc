package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/app"
	"github.com/JakeFAU/stream-embed-audit/internal/config"
	"github.com/JakeFAU/stream-embed-audit/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	Crawl(ctx context.Context) (app.Result, error)
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream-embed-audit",
		Short: "Finds SharePoint pages that still embed Microsoft Stream (Classic) videos.",
		Long: `stream-embed-audit walks every site of a Microsoft 365 tenant through the
Graph API and reports each page web part whose embed code points at the retired
Stream (Classic) domain. Results are written as semicolon-delimited CSV files
and can be uploaded to blob storage as they complete.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.stream-embed-audit/config.yaml)")
	cmd.PersistentFlags().Bool("verbose", false, "enable development logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newMergeCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command; files completed before the signal are kept.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fatal(err)
	}
}

func fatal(err error) {
	logger, logErr := logging.New(false)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
		os.Exit(1)
	}
	logger.Fatal("Command execution failed", zap.Error(err))
}
