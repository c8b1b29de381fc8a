package pipeline

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/models"
	"wholescrape/progress"
	"wholescrape/session"
)

// captureListener records every progress and terminal event.
type captureListener struct {
	mu        sync.Mutex
	events    []progress.Event
	terminals []progress.Terminal
}

func (l *captureListener) OnProgress(e progress.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *captureListener) OnTerminal(t progress.Terminal) {
	l.mu.Lock()
	l.terminals = append(l.terminals, t)
	l.mu.Unlock()
}

// fakeBrowser scripts the whole browser side of a run: the login redirect,
// the category navigation and the rendered product pages.
type fakeBrowser struct {
	mu        sync.Mutex
	locations []string
	locIdx    int
	texts     map[string]string
	anchors   []browser.Anchor
	cookies   []models.Cookie
	pages     map[string]string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		texts: make(map[string]string),
		pages: make(map[string]string),
	}
}

func (f *fakeBrowser) Navigate(string) error     { return nil }
func (f *fakeBrowser) WaitVisible(string) error  { return nil }
func (f *fakeBrowser) Fill(string, string) error { return nil }
func (f *fakeBrowser) Click(string) error        { return nil }
func (f *fakeBrowser) Title() (string, error)    { return "", nil }
func (f *fakeBrowser) HTML() (string, error)     { return "", nil }
func (f *fakeBrowser) Sleep(time.Duration) error { return nil }
func (f *fakeBrowser) Close()                    {}

func (f *fakeBrowser) Location() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.locations) == 0 {
		return "", nil
	}
	loc := f.locations[f.locIdx]
	if f.locIdx < len(f.locations)-1 {
		f.locIdx++
	}
	return loc, nil
}

func (f *fakeBrowser) Text(sel string) (string, error) {
	return f.texts[sel], nil
}

func (f *fakeBrowser) Anchors(string) ([]browser.Anchor, error) {
	return f.anchors, nil
}

func (f *fakeBrowser) Cookies() ([]models.Cookie, error) {
	return f.cookies, nil
}

func (f *fakeBrowser) SetCookies([]models.Cookie) error { return nil }

func (f *fakeBrowser) NewPage(time.Duration) (browser.Page, func(), error) {
	return &fakePage{parent: f}, func() {}, nil
}

type fakePage struct {
	parent *fakeBrowser
	url    string
}

func (p *fakePage) Navigate(url string) error  { p.url = url; return nil }
func (p *fakePage) WaitVisible(string) error   { return nil }
func (p *fakePage) Fill(string, string) error  { return nil }
func (p *fakePage) Click(string) error         { return nil }
func (p *fakePage) Location() (string, error)  { return p.url, nil }
func (p *fakePage) Title() (string, error)     { return "", nil }
func (p *fakePage) Text(string) (string, error) { return "", nil }
func (p *fakePage) Sleep(time.Duration) error  { return nil }

func (p *fakePage) Anchors(string) ([]browser.Anchor, error) {
	return nil, nil
}

func (p *fakePage) HTML() (string, error) {
	p.parent.mu.Lock()
	defer p.parent.mu.Unlock()
	html, ok := p.parent.pages[p.url]
	if !ok {
		return "", errors.New("no page for " + p.url)
	}
	return html, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PortalURL = "https://portal.test"
	cfg.Email = "buyer@example.com"
	cfg.Password = "secret"
	cfg.DataDir = t.TempDir()
	cfg.LoginTimeout = 2 * time.Second
	// Single worker keeps progress-event delivery ordered for the
	// monotonicity assertion.
	cfg.FetchConcurrency = 1
	cfg.RenderSettle = 0
	cfg.MinPageBytes = 0
	return cfg
}

func productPage(name string) string {
	return `<html><body>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"data":{"pageFolder":{"dataSourceConfigurations":[{"preloadedValue":{"product":{"name":"` + name + `","variants":[{"sku":"SKU-` + name + `"}]}}}]}}}}}</script>
<details class="inventory-grid_accordionItem__XXIck">
  <summary><span class="inventory-grid_accordionHeadingContent__oebUk">Black</span></summary>
  <table><tbody>
    <tr>
      <td><span class="inventory-grid-table_size__5wMgv">M</span></td>
      <td><input name="SKU-BLK" type="checkbox"><span class="inventory-grid-table_quantity__Q0EiU">4</span></td>
      <td><input name="SKU-BLK" type="checkbox"><span class="inventory-grid-table_quantity__Q0EiU">3</span></td>
    </tr>
  </tbody></table>
</details>
</body></html>`
}

func listingPage(hrefs ...string) string {
	html := "<html><body>"
	for _, href := range hrefs {
		html += `<a href="` + href + `">product</a>`
	}
	return html + "</body></html>"
}

func listingTransport(t *testing.T) http.RoundTripper {
	t.Helper()
	mt := httpmock.NewMockTransport()
	respond := func(body string) httpmock.Responder {
		return func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, body)
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			return resp, nil
		}
	}
	mt.RegisterResponder("GET", "https://portal.test/lululemon/women?limit=12",
		respond(listingPage("/p/prod-a01/a01", "/p/prod-a02/a02")))
	mt.RegisterResponder("GET", "https://portal.test/lululemon/women?page=2",
		respond(listingPage("/p/prod-a01/a01")))
	return mt
}

func authenticatedBrowser() *fakeBrowser {
	br := newFakeBrowser()
	br.locations = []string{
		"https://portal.test/login",
		"https://portal.test/home",
	}
	br.anchors = []browser.Anchor{
		{Href: "https://portal.test/lululemon/women", Text: "Women"},
	}
	br.cookies = []models.Cookie{
		{Name: "sessionid", Value: "abc", Domain: "portal.test", Path: "/"},
	}
	br.pages["https://portal.test/p/prod-a01/a01"] = productPage("Alpha")
	br.pages["https://portal.test/p/prod-a02/a02"] = productPage("Beta")
	return br
}

func TestRunCompletes(t *testing.T) {
	cfg := testConfig(t)
	listener := &captureListener{}

	runner := New(cfg, authenticatedBrowser(), listener, nil).
		WithTransport(listingTransport(t))

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.LinksDiscovered != 2 {
		t.Errorf("LinksDiscovered = %d, want 2", summary.LinksDiscovered)
	}
	if summary.PagesFetched != 2 {
		t.Errorf("PagesFetched = %d, want 2", summary.PagesFetched)
	}
	if summary.RecordsExtracted != 2 {
		t.Errorf("RecordsExtracted = %d, want 2", summary.RecordsExtracted)
	}
	if summary.ReportPath == "" {
		t.Fatal("ReportPath is empty")
	}
	if _, err := os.Stat(summary.ReportPath); err != nil {
		t.Errorf("report file missing: %v", err)
	}

	if len(listener.terminals) != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", len(listener.terminals))
	}
	if listener.terminals[0].State != progress.StateCompleted {
		t.Errorf("terminal state = %s, want completed", listener.terminals[0].State)
	}

	last := -1
	for i, e := range listener.events {
		if e.Percent < last {
			t.Errorf("events[%d] percent %d decreased below %d", i, e.Percent, last)
		}
		last = e.Percent
	}
	if last != 100 {
		t.Errorf("final percent = %d, want 100", last)
	}
}

func TestRunStopped(t *testing.T) {
	cfg := testConfig(t)
	listener := &captureListener{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := New(cfg, authenticatedBrowser(), listener, nil).
		WithTransport(listingTransport(t))

	summary, err := runner.Run(ctx)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if summary == nil {
		t.Fatal("summary is nil for stopped run")
	}

	if len(listener.terminals) != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", len(listener.terminals))
	}
	if listener.terminals[0].State != progress.StateStopped {
		t.Errorf("terminal state = %s, want stopped", listener.terminals[0].State)
	}
}

func TestRunFailsOnRejectedLogin(t *testing.T) {
	cfg := testConfig(t)
	listener := &captureListener{}

	br := newFakeBrowser()
	br.locations = []string{"https://portal.test/login"}
	br.texts[".error"] = "Invalid email or password"

	runner := New(cfg, br, listener, nil)

	_, err := runner.Run(context.Background())
	var authErr *session.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Run() error = %v, want *session.AuthError", err)
	}

	if len(listener.terminals) != 1 {
		t.Fatalf("got %d terminal events, want exactly 1", len(listener.terminals))
	}
	if listener.terminals[0].State != progress.StateFailed {
		t.Errorf("terminal state = %s, want failed", listener.terminals[0].State)
	}
	if listener.terminals[0].Message == "" {
		t.Error("failed terminal should carry the error message")
	}
}
