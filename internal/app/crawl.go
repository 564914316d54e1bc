package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
	"github.com/JakeFAU/stream-embed-audit/internal/graph"
	"github.com/JakeFAU/stream-embed-audit/internal/metrics"
	"github.com/JakeFAU/stream-embed-audit/internal/retry"
	"github.com/JakeFAU/stream-embed-audit/internal/sink"
	"github.com/JakeFAU/stream-embed-audit/internal/storage/postgres"
)

// Result describes a finished crawl.
type Result struct {
	RunID   string
	Summary audit.Summary
	Files   []sink.File
}

// Crawl authenticates, walks the tenant and writes the result files. On a
// fatal error the files completed so far are left in place and the partial
// Result is returned with the error.
func (a *App) Crawl(ctx context.Context) (Result, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}
	started := a.clock.Now()
	result := Result{RunID: runID}
	logger := a.logger.With(zap.String("run_id", runID))

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	metrics.Serve(metricsCtx, a.cfg.Metrics.Addr, logger)

	auth, err := graph.NewClientCredentials(a.cfg.Credentials(), logger)
	if err != nil {
		return result, fmt.Errorf("configure authentication: %w", err)
	}
	if err := auth.EnsureAuthenticated(ctx); err != nil {
		return result, fmt.Errorf("authenticate: %w", err)
	}
	client := graph.NewClient(a.cfg.GraphClientConfig(), auth, logger)
	retrier := retry.New(client, auth, a.cfg.RetryOptions(), logger)

	opts := []sink.Option{sink.WithRunID(runID)}
	if a.runs != nil {
		opts = append(opts, sink.WithMirror(a.runs))
	}
	if a.notifier != nil {
		opts = append(opts, sink.WithNotifier(a.notifier, a.cfg.PubSub.Topic))
	}
	out, err := sink.NewCSVSink(sink.Config{
		OutputDir:       a.cfg.Output.Dir,
		RunTimestamp:    started.Format(sink.TimestampLayout),
		UploadEnabled:   a.cfg.Export.Enabled,
		Provider:        a.cfg.Export.Provider,
		Destination:     a.cfg.Export.Container,
		Prefix:          a.cfg.Export.Prefix,
		OnUploadFailure: sink.FailurePolicy(a.cfg.Export.OnFailure),
	}, a.uploader, logger, opts...)
	if err != nil {
		return result, fmt.Errorf("create result sink: %w", err)
	}

	if a.runs != nil {
		if err := a.runs.StartRun(ctx, runID, started); err != nil {
			return result, err
		}
	}

	logger.Info("Starting crawl",
		zap.String("site_id", a.cfg.Crawl.SiteID),
		zap.Int("page_size", a.cfg.Crawl.PageSize),
		zap.Int("result_size", a.cfg.Crawl.ResultSize),
		zap.Bool("export", a.cfg.Export.Enabled),
	)
	crawler := audit.NewCrawler(retrier, out, a.cfg.CrawlOptions(), logger)
	summary, runErr := crawler.Run(ctx)
	if closeErr := out.Close(); closeErr != nil {
		logger.Warn("Failed to close result file", zap.Error(closeErr))
	}
	result.Summary = summary
	result.Files = out.Files()

	a.finishRun(ctx, logger, runID, summary, runErr)
	if runErr != nil {
		logger.Error("Crawl aborted",
			zap.Error(runErr),
			zap.Int("matches", summary.Matches),
			zap.Int("files", len(result.Files)),
		)
		return result, runErr
	}

	logger.Info("Crawl finished",
		zap.Int("sites_pages", summary.SitesPages),
		zap.Int("sites_listed", summary.SitesListed),
		zap.Int("sites_visited", summary.SitesVisited),
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("components_inspected", summary.ComponentsInspected),
		zap.Int("matches", summary.Matches),
		zap.Int("owner_missing", summary.OwnerMissing),
		zap.Int("skipped", summary.Skipped),
		zap.Int("files", len(result.Files)),
		zap.Duration("elapsed", a.clock.Now().Sub(started)),
	)
	return result, nil
}

func (a *App) finishRun(ctx context.Context, logger *zap.Logger, runID string, summary audit.Summary, runErr error) {
	if a.runs == nil {
		return
	}
	status := postgres.RunSucceeded
	var errMsg *string
	if runErr != nil {
		status = postgres.RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := a.runs.FinishRun(context.WithoutCancel(ctx), runID, a.clock.Now(), status, summary, errMsg); err != nil {
		logger.Warn("Failed to record run completion", zap.Error(err))
	}
}
