// Package pipeline runs the four stages end to end: session acquisition,
// link discovery, page fetching and report composition. One run emits
// exactly one terminal progress event: completed, failed or stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/discover"
	"wholescrape/extract"
	"wholescrape/fetch"
	"wholescrape/models"
	"wholescrape/progress"
	"wholescrape/report"
	"wholescrape/session"
)

// ErrStopped is returned when the run ended because its context was
// canceled.
var ErrStopped = errors.New("run stopped by request")

// Runner executes the pipeline.
type Runner struct {
	cfg      *config.Config
	br       browser.Browser
	logger   *slog.Logger
	reporter *progress.Reporter
	metrics  *fetch.Metrics

	// transport overrides the discovery HTTP transport in tests.
	transport http.RoundTripper
}

// New builds a Runner publishing progress to listener.
func New(cfg *config.Config, br browser.Browser, listener progress.Listener, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		br:       br,
		logger:   logger,
		reporter: progress.NewReporter(listener),
	}
}

// WithMetrics attaches fetch metrics.
func (r *Runner) WithMetrics(m *fetch.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithTransport overrides the HTTP transport used for listing discovery.
func (r *Runner) WithTransport(rt http.RoundTripper) *Runner {
	r.transport = rt
	return r
}

// Run executes every stage and emits the terminal progress event. The
// returned summary is always non-nil, even for failed runs.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{StartTime: time.Now()}
	err := r.run(ctx, summary)
	summary.EndTime = time.Now()

	switch {
	case err == nil:
		r.reporter.Completed(fmt.Sprintf("report written to %s", summary.ReportPath))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		r.reporter.Stopped()
		err = ErrStopped
	default:
		r.reporter.Failed(err)
	}
	return summary, err
}

func (r *Runner) run(ctx context.Context, summary *models.RunSummary) error {
	acquirer := session.New(r.cfg, r.br, r.logger)
	categories, err := acquirer.Run(ctx, r.reporter)
	if err != nil {
		return err
	}
	summary.CategoriesTotal = len(categories)

	sess, err := session.LoadSession(r.cfg.CookieFile())
	if err != nil {
		return err
	}

	discoverer := discover.New(r.cfg, sess, r.logger)
	if r.transport != nil {
		discoverer.WithTransport(r.transport)
	}
	discovery, err := discoverer.Run(ctx, r.reporter, categories)
	if err != nil {
		return err
	}
	summary.LinksDiscovered = len(discovery.Links)
	summary.CategoriesFailed = len(discovery.Failures)
	if len(discovery.Failures) > 0 {
		summary.DiscoveryFailures = make(map[string]string, len(discovery.Failures))
		for category, derr := range discovery.Failures {
			summary.DiscoveryFailures[category] = derr.Error()
		}
	}

	fetcher := fetch.New(r.cfg, r.br, r.logger)
	if r.metrics != nil {
		fetcher.WithMetrics(r.metrics)
	}
	stats, err := fetcher.Run(ctx, r.reporter, discovery.Links)
	if err != nil {
		return err
	}

	// Prune pages that rendered incompletely and give them one more pass;
	// the fetcher skips everything that survived verification.
	verify, err := fetcher.Verify()
	if err != nil {
		return err
	}
	if verify.Removed > 0 {
		r.logger.Info("refetching pruned pages", "count", verify.Removed)
		retry, err := fetcher.Run(ctx, r.reporter, discovery.Links)
		if err != nil {
			return err
		}
		stats.Fetched += retry.Fetched
		stats.Failed = retry.Failed
		stats.FailedIDs = retry.FailedIDs
	}
	summary.PagesFetched = stats.Fetched
	summary.PagesSkipped = stats.Skipped
	summary.PagesFailed = stats.Failed
	summary.FailedIdentifiers = stats.FailedIDs

	r.reporter.StartPhase(progress.PhaseCompose, len(discovery.Links)+1, "extracting product data")

	extractor := extract.New(fetcher, r.logger)
	extracted, err := extractor.Run(ctx, r.reporter, discovery.Links)
	if err != nil {
		return err
	}
	summary.RecordsExtracted = len(extracted.Records)
	summary.PagesUnparseable = len(extracted.Unparseable)

	if err := ctx.Err(); err != nil {
		return err
	}
	composer := report.New(r.cfg, r.logger)
	path, err := composer.Compose(extracted.Records)
	if err != nil {
		return err
	}
	summary.ReportPath = path
	r.reporter.Increment("report written")

	return nil
}
