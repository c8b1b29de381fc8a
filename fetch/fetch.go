// Package fetch downloads rendered product pages through a pool of browser
// tabs and persists them to disk. Fetching is resumable: pages already on
// disk are skipped, and partially written files never survive a crash.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/models"
	"wholescrape/progress"
)

// Stats summarizes one fetch pass.
type Stats struct {
	Fetched   int
	Skipped   int
	Failed    int
	FailedIDs []string
}

// Fetcher drives concurrent page downloads.
type Fetcher struct {
	cfg     *config.Config
	br      browser.Browser
	logger  *slog.Logger
	metrics *Metrics
}

// New builds a Fetcher downloading through br.
func New(cfg *config.Config, br browser.Browser, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, br: br, logger: logger}
}

// WithMetrics attaches throughput metrics.
func (f *Fetcher) WithMetrics(m *Metrics) *Fetcher {
	f.metrics = m
	return f
}

// PagePath is the on-disk destination for one product page.
func (f *Fetcher) PagePath(link models.ProductLink) string {
	return filepath.Join(f.cfg.HTMLDir(), link.Category, link.ID+".html")
}

// Run downloads every link through FetchConcurrency workers. Individual page
// failures are counted, not fatal; the returned error is non-nil only when
// the run was canceled.
func (f *Fetcher) Run(ctx context.Context, reporter *progress.Reporter, links []models.ProductLink) (*Stats, error) {
	reporter.StartPhase(progress.PhaseFetch, len(links), "fetching product pages")

	jobs := make(chan models.ProductLink)
	stats := &Stats{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < f.cfg.FetchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for link := range jobs {
				if ctx.Err() != nil {
					continue
				}
				f.fetchOne(ctx, link, reporter, stats, &mu)
			}
		}()
	}

feed:
	for _, link := range links {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- link:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Strings(stats.FailedIDs)
	f.logger.Info("fetch pass finished",
		"fetched", stats.Fetched, "skipped", stats.Skipped, "failed", stats.Failed)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, link models.ProductLink, reporter *progress.Reporter, stats *Stats, mu *sync.Mutex) {
	dest := f.PagePath(link)

	if _, err := os.Stat(dest); err == nil {
		f.metrics.observeSkipped()
		mu.Lock()
		stats.Skipped++
		mu.Unlock()
		reporter.Increment(fmt.Sprintf("skipped %s/%s", link.Category, link.ID))
		return
	}

	start := time.Now()
	err := f.download(link, dest)
	if err != nil {
		f.metrics.observeFailed()
		f.logger.Warn("page fetch failed", "category", link.Category, "id", link.ID, "error", err)
		mu.Lock()
		stats.Failed++
		stats.FailedIDs = append(stats.FailedIDs, link.Category+"/"+link.ID)
		mu.Unlock()
		reporter.Increment(fmt.Sprintf("failed %s/%s", link.Category, link.ID))
		return
	}

	f.metrics.observeFetched(time.Since(start))
	mu.Lock()
	stats.Fetched++
	mu.Unlock()
	reporter.Increment(fmt.Sprintf("fetched %s/%s", link.Category, link.ID))
}

// download renders one product page in a fresh tab and writes it to dest.
// The file is written to a temp path and renamed so dest is always complete.
func (f *Fetcher) download(link models.ProductLink, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}

	page, release, err := f.br.NewPage(f.cfg.PageTimeout)
	if err != nil {
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}
	defer release()

	if err := page.Navigate(link.URL); err != nil {
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}
	if err := page.WaitVisible(f.cfg.ReadySelector); err != nil {
		// Some pages never render the inventory table (sold out, retired).
		// Capture whatever is there; the verify pass decides if it counts.
		f.logger.Debug("ready selector never appeared",
			"category", link.Category, "id", link.ID, "selector", f.cfg.ReadySelector)
	}
	if f.cfg.RenderSettle > 0 {
		if err := page.Sleep(f.cfg.RenderSettle); err != nil {
			return &FetchError{Category: link.Category, ID: link.ID, Err: err}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, []byte(html), 0o644); err != nil {
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return &FetchError{Category: link.Category, ID: link.ID, Err: err}
	}
	return nil
}
