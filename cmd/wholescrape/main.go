// Command wholescrape runs the wholesale-portal scraping pipeline: it logs
// in, discovers product links, fetches the rendered pages and composes the
// xlsx inventory report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/fetch"
	"wholescrape/models"
	"wholescrape/pipeline"
	"wholescrape/progress"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pipeline.ErrStopped) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "wholescrape: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Email == "" || cfg.Password == "" {
		return fmt.Errorf("credentials required: set -email/-password or WHOLESCRAPE_EMAIL/WHOLESCRAPE_PASSWORD")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := browser.NewEngine(browser.Options{
		Headless:  cfg.Headless,
		ExecPath:  cfg.ChromePath,
		UserAgent: cfg.UserAgent,
		OpTimeout: cfg.PageTimeout,
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer engine.Close()

	metrics := fetch.NewMetrics()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, metrics, logger)
	}

	runner := pipeline.New(cfg, engine, &logListener{logger: logger}, logger).
		WithMetrics(metrics)

	summary, err := runner.Run(ctx)
	logSummary(logger, summary)
	return err
}

// loadConfig layers flags over environment variables over defaults.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if v, ok := config.EnvString("WHOLESCRAPE_PORTAL_URL"); ok {
		cfg.PortalURL = v
	}
	if v, ok := config.EnvString("WHOLESCRAPE_EMAIL"); ok {
		cfg.Email = v
	}
	if v, ok := config.EnvString("WHOLESCRAPE_PASSWORD"); ok {
		cfg.Password = v
	}
	if v, ok := config.EnvString("WHOLESCRAPE_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := config.EnvString("WHOLESCRAPE_CHROME_PATH"); ok {
		cfg.ChromePath = v
	}
	if v, ok := config.EnvString("WHOLESCRAPE_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok, err := config.EnvInt("WHOLESCRAPE_CONCURRENCY"); err != nil {
		return nil, err
	} else if ok {
		cfg.FetchConcurrency = v
	}
	if v, ok, err := config.EnvBool("WHOLESCRAPE_HEADLESS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Headless = v
	}
	if v, ok, err := config.EnvDuration("WHOLESCRAPE_PAGE_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		cfg.PageTimeout = v
	}

	flag.StringVar(&cfg.PortalURL, "portal", cfg.PortalURL, "wholesale portal base URL")
	flag.StringVar(&cfg.Email, "email", cfg.Email, "portal account email (WHOLESCRAPE_EMAIL)")
	flag.StringVar(&cfg.Password, "password", cfg.Password, "portal account password (WHOLESCRAPE_PASSWORD)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory for cookies, links, pages and reports")
	flag.IntVar(&cfg.FetchConcurrency, "concurrency", cfg.FetchConcurrency, "concurrent page fetches")
	flag.DurationVar(&cfg.PageTimeout, "page-timeout", cfg.PageTimeout, "per-page render timeout")
	flag.BoolVar(&cfg.Headless, "headless", cfg.Headless, "run the browser headless")
	flag.StringVar(&cfg.ChromePath, "chrome", cfg.ChromePath, "path to the Chrome binary (auto-detected when empty)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address, e.g. :9090 (empty disables)")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")
	flag.Parse()

	return cfg, nil
}

// newLogger writes human-readable logs on a terminal, JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if info, err := os.Stderr.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func serveMetrics(addr string, metrics *fetch.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

// logListener mirrors the progress stream into the log.
type logListener struct {
	logger *slog.Logger
}

func (l *logListener) OnProgress(e progress.Event) {
	l.logger.Info("progress",
		"phase", e.Phase.String(),
		"done", e.Done,
		"total", e.Total,
		"percent", e.Percent,
		"message", e.Message,
	)
}

func (l *logListener) OnTerminal(t progress.Terminal) {
	l.logger.Info("run finished", "state", t.State.String(), "message", t.Message)
}

func logSummary(logger *slog.Logger, s *models.RunSummary) {
	if s == nil {
		return
	}
	logger.Info("run summary",
		"duration", s.EndTime.Sub(s.StartTime).Round(time.Second).String(),
		"categories", s.CategoriesTotal,
		"categories_failed", s.CategoriesFailed,
		"links", s.LinksDiscovered,
		"fetched", s.PagesFetched,
		"skipped", s.PagesSkipped,
		"failed", s.PagesFailed,
		"records", s.RecordsExtracted,
		"unparseable", s.PagesUnparseable,
		"report", s.ReportPath,
	)
	for _, id := range s.FailedIdentifiers {
		logger.Warn("page never fetched", "page", id)
	}
	for category, reason := range s.DiscoveryFailures {
		logger.Warn("category discovery failed", "category", category, "reason", reason)
	}
}
