// Package discover walks authenticated category listings and collects every
// product detail link. Each category is isolated: one failing listing never
// aborts the others.
package discover

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"wholescrape/config"
	"wholescrape/models"
	"wholescrape/progress"
)

// productPathPattern matches product detail paths: /p/<slug>/<id>.
var productPathPattern = regexp.MustCompile(`^/p/([^/?#]+)/([^/?#]+)/?$`)

// countPattern extracts the total item count from the listing banner, e.g.
// "Showing 12 of 348 items".
var countPattern = regexp.MustCompile(`Showing\s+\d+\s+of\s+([\d,]+)\s+items?`)

// authMarkers in a post-redirect listing URL mean the session cookies were
// rejected.
var authMarkers = []string{"login", "signin"}

// Result is the output of the discovery stage.
type Result struct {
	Links      []models.ProductLink
	Categories []models.Category
	Failures   map[string]*DiscoveryError
}

// Discoverer fetches category listings over plain HTTP using the persisted
// session cookies.
type Discoverer struct {
	cfg       *config.Config
	sess      *models.Session
	logger    *slog.Logger
	transport http.RoundTripper
}

// New builds a Discoverer authenticated by sess.
func New(cfg *config.Config, sess *models.Session, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{cfg: cfg, sess: sess, logger: logger}
}

// WithTransport overrides the HTTP transport used by listing requests.
func (d *Discoverer) WithTransport(rt http.RoundTripper) *Discoverer {
	d.transport = rt
	return d
}

// Run discovers product links for every category. Categories that fail are
// recorded in Result.Failures; the returned error is non-nil only when the
// whole stage is unusable, i.e. every category failed with an auth-looking
// error or the results cannot be persisted.
func (d *Discoverer) Run(ctx context.Context, reporter *progress.Reporter, categories []models.Category) (*Result, error) {
	reporter.StartPhase(progress.PhaseDiscover, len(categories), "discovering product links")

	dedup, err := lru.New[string, struct{}](d.cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("build dedup cache: %w", err)
	}

	result := &Result{Failures: make(map[string]*DiscoveryError)}

	for i := range categories {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		cat := categories[i]

		links, derr := d.discoverCategory(cat, dedup)
		if derr != nil {
			d.logger.Error("category discovery failed",
				"category", cat.ID, "error", derr, "auth", derr.Auth)
			result.Failures[cat.ID] = derr
			reporter.Increment(fmt.Sprintf("category %s failed", cat.ID))
			result.Categories = append(result.Categories, cat)
			continue
		}

		cat.ProductCount = len(links)
		result.Categories = append(result.Categories, cat)
		result.Links = append(result.Links, links...)

		if err := d.writeCategoryCSV(cat.ID, links); err != nil {
			return result, err
		}

		d.logger.Info("category discovered", "category", cat.ID, "links", len(links))
		reporter.Increment(fmt.Sprintf("category %s: %d links", cat.ID, len(links)))
	}

	if err := d.writeLinksIndex(result.Categories); err != nil {
		return result, err
	}

	if len(result.Failures) == len(categories) && len(categories) > 0 && allAuth(result.Failures) {
		return result, &DiscoveryError{
			Category: "all",
			Reason:   "every category listing redirected to login; session is not valid",
			Auth:     true,
		}
	}
	return result, nil
}

// discoverCategory collects the product links of one category listing. It
// probes with a small page first, reads the total item count from the
// banner, then reloads the listing sized to the full count. When the banner
// is missing it falls back to walking numbered pages.
func (d *Discoverer) discoverCategory(cat models.Category, dedup *lru.Cache[string, struct{}]) ([]models.ProductLink, *DiscoveryError) {
	collector, state := d.newCollector(cat, dedup)

	probeURL := withQuery(cat.ListingURL, "limit", strconv.Itoa(d.cfg.ProbeLimit))
	if err := collector.Visit(probeURL); err != nil {
		return nil, &DiscoveryError{Category: cat.ID, Reason: "probe request failed", Auth: state.auth, Err: err}
	}
	collector.Wait()

	if state.auth {
		return nil, &DiscoveryError{Category: cat.ID, Reason: "listing rejected the session", Auth: true}
	}

	switch {
	case state.total > d.cfg.ProbeLimit:
		fullURL := withQuery(cat.ListingURL, "limit", strconv.Itoa(state.total))
		if err := collector.Visit(fullURL); err != nil {
			return nil, &DiscoveryError{Category: cat.ID, Reason: "full listing request failed", Auth: state.auth, Err: err}
		}
		collector.Wait()
	case state.total == 0:
		// No item-count banner. Walk numbered pages until one adds nothing.
		for page := 2; page <= d.cfg.MaxListingPages; page++ {
			before := len(state.links)
			pageURL := withQuery(cat.ListingURL, "page", strconv.Itoa(page))
			if err := collector.Visit(pageURL); err != nil {
				break
			}
			collector.Wait()
			if len(state.links) == before {
				break
			}
		}
	}

	if state.auth {
		return nil, &DiscoveryError{Category: cat.ID, Reason: "listing rejected the session", Auth: true}
	}
	if state.lastErr != nil && len(state.links) == 0 {
		return nil, &DiscoveryError{Category: cat.ID, Reason: "listing unreachable", Err: state.lastErr}
	}

	links := make([]models.ProductLink, 0, len(state.links))
	for _, link := range state.links {
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].URL < links[j].URL })
	return links, nil
}

// categoryState accumulates per-category results across listing requests.
type categoryState struct {
	links   map[string]models.ProductLink
	total   int
	auth    bool
	lastErr error
}

func (d *Discoverer) newCollector(cat models.Category, dedup *lru.Cache[string, struct{}]) (*colly.Collector, *categoryState) {
	collector := colly.NewCollector(
		colly.UserAgent(d.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(d.cfg.ListingTimeout)
	collector.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 2})

	if d.transport != nil {
		collector.WithTransport(d.transport)
	}
	if d.sess != nil {
		collector.SetCookies(d.cfg.PortalURL, httpCookies(d.sess.Cookies))
	}

	state := &categoryState{links: make(map[string]models.ProductLink)}

	collector.OnResponse(func(r *colly.Response) {
		if containsAuthMarker(r.Request.URL.String()) {
			state.auth = true
			return
		}
		if m := countPattern.FindSubmatch(r.Body); m != nil {
			raw := strings.ReplaceAll(string(m[1]), ",", "")
			if n, err := strconv.Atoi(raw); err == nil && n > state.total {
				state.total = n
			}
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		m := productPathPattern.FindStringSubmatch(parsed.Path)
		if m == nil {
			return
		}
		id := m[2]

		key := cat.ID + "/" + id
		if dedup.Contains(key) {
			return
		}
		dedup.Add(key, struct{}{})

		state.links[id] = models.ProductLink{
			Category: cat.ID,
			URL:      e.Request.AbsoluteURL(href),
			ID:       id,
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && (r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden) {
			state.auth = true
		}
		state.lastErr = err
	})

	return collector, state
}

// writeCategoryCSV persists one category's product links, sorted by URL.
func (d *Discoverer) writeCategoryCSV(categoryID string, links []models.ProductLink) error {
	if err := os.MkdirAll(d.cfg.CategoriesDir(), 0o755); err != nil {
		return fmt.Errorf("create categories directory: %w", err)
	}
	path := filepath.Join(d.cfg.CategoriesDir(), categoryID+".csv")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create category file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Product URL"}); err != nil {
		return fmt.Errorf("write category header: %w", err)
	}
	for _, link := range links {
		if err := w.Write([]string{link.URL}); err != nil {
			return fmt.Errorf("write category row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush category file %s: %w", path, err)
	}
	return nil
}

// writeLinksIndex persists the category index with discovered counts.
func (d *Discoverer) writeLinksIndex(categories []models.Category) error {
	path := d.cfg.LinksFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create links index: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Category", "Listing URL", "Product Count"}); err != nil {
		return fmt.Errorf("write links header: %w", err)
	}
	for _, cat := range categories {
		row := []string{cat.ID, cat.ListingURL, strconv.Itoa(cat.ProductCount)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write links row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush links index: %w", err)
	}
	return nil
}

func httpCookies(cookies []models.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func withQuery(listingURL, key, value string) string {
	parsed, err := url.Parse(listingURL)
	if err != nil {
		return listingURL
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func containsAuthMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func allAuth(failures map[string]*DiscoveryError) bool {
	for _, f := range failures {
		if !f.Auth {
			return false
		}
	}
	return true
}
