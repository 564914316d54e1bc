// Package metrics exposes Prometheus collectors for the audit crawl.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	apiRequestsTotal       *prometheus.CounterVec
	apiRetriesTotal        *prometheus.CounterVec
	backoffSeconds         prometheus.Histogram
	componentsTotal        prometheus.Counter
	matchesTotal           prometheus.Counter
	skippedItemsTotal      *prometheus.CounterVec
	filesTotal             *prometheus.CounterVec
	sitesPagesFetchedTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_api_requests_total",
				Help: "Total number of Graph API calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_api_retries_total",
				Help: "Total number of retried Graph API calls, labeled by reason.",
			},
			[]string{"reason"},
		)

		backoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "audit_throttle_backoff_seconds",
				Help:    "Histogram of throttle backoff waits.",
				Buckets: []float64{1, 5, 20, 60, 135, 300, 900},
			},
		)

		componentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_components_inspected_total",
				Help: "Total number of page web parts inspected.",
			},
		)

		matchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_matches_total",
				Help: "Total number of web parts embedding the deprecated video service.",
			},
		)

		skippedItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_skipped_items_total",
				Help: "Total number of items skipped, labeled by level.",
			},
			[]string{"level"},
		)

		filesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_files_total",
				Help: "Total number of report files, labeled by state.",
			},
			[]string{"state"},
		)

		sitesPagesFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_sites_pages_fetched_total",
				Help: "Total number of sites listing pages fetched.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()
}

// ObserveRequest counts one Graph API call by outcome.
func ObserveRequest(outcome string) {
	Init()
	apiRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry and, for throttling, the wait applied.
func ObserveRetry(reason string, wait time.Duration) {
	Init()
	apiRetriesTotal.WithLabelValues(reason).Inc()
	if wait > 0 {
		backoffSeconds.Observe(wait.Seconds())
	}
}

// ObserveComponent counts an inspected web part.
func ObserveComponent(matched bool) {
	Init()
	componentsTotal.Inc()
	if matched {
		matchesTotal.Inc()
	}
}

// ObserveSkip counts an item skipped at the given level (site, page, component).
func ObserveSkip(level string) {
	Init()
	skippedItemsTotal.WithLabelValues(level).Inc()
}

// Report file states counted by ObserveFile.
const (
	FileCompleted    = "completed"
	FileUploaded     = "uploaded"
	FileUploadFailed = "upload_failed"
)

// ObserveFile counts a report file transition (FileCompleted, FileUploaded, FileUploadFailed).
func ObserveFile(state string) {
	Init()
	filesTotal.WithLabelValues(state).Inc()
}

// ObserveSitesPage counts one fetched page of the sites listing.
func ObserveSitesPage() {
	Init()
	sitesPagesFetchedTotal.Inc()
}
