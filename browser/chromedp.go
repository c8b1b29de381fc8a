package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"wholescrape/models"
)

// Options configures the chromedp engine.
type Options struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// OpTimeout bounds each operation on the primary tab.
	OpTimeout time.Duration
}

// Engine drives a headless Chrome instance through the DevTools protocol.
type Engine struct {
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	primary       *tab
	browserCtx    context.Context
}

var _ Browser = (*Engine)(nil)

// NewEngine launches the browser and prepares the primary tab.
func NewEngine(opts Options) (*Engine, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 30 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	e := &Engine{
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		browserCtx:    browserCtx,
		primary:       &tab{ctx: browserCtx, timeout: opts.OpTimeout},
	}

	if err := e.maskAutomation(); err != nil {
		e.Close()
		return nil, fmt.Errorf("mask automation: %w", err)
	}
	return e, nil
}

// maskAutomation hides the usual webdriver fingerprints the portal's
// front-end inspects.
func (e *Engine) maskAutomation() error {
	return e.primary.run(chromedp.Evaluate(`
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
		window.chrome = window.chrome || { runtime: {} };
	`, nil))
}

func (e *Engine) Navigate(url string) error       { return e.primary.Navigate(url) }
func (e *Engine) WaitVisible(sel string) error    { return e.primary.WaitVisible(sel) }
func (e *Engine) Fill(sel, value string) error    { return e.primary.Fill(sel, value) }
func (e *Engine) Click(sel string) error          { return e.primary.Click(sel) }
func (e *Engine) Location() (string, error)       { return e.primary.Location() }
func (e *Engine) Title() (string, error)          { return e.primary.Title() }
func (e *Engine) Text(sel string) (string, error) { return e.primary.Text(sel) }
func (e *Engine) HTML() (string, error)           { return e.primary.HTML() }
func (e *Engine) Sleep(d time.Duration) error     { return e.primary.Sleep(d) }

func (e *Engine) Anchors(sel string) ([]Anchor, error) {
	return e.primary.Anchors(sel)
}

// Cookies snapshots the browser cookie jar.
func (e *Engine) Cookies() ([]models.Cookie, error) {
	var raw []*network.Cookie
	err := e.primary.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	cookies := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite.String(),
			Expires:  c.Expires,
		})
	}
	return cookies, nil
}

// SetCookies loads a persisted session into the browser cookie jar.
func (e *Engine) SetCookies(cookies []models.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch c.SameSite {
		case "Strict":
			param.SameSite = network.CookieSameSiteStrict
		case "Lax":
			param.SameSite = network.CookieSameSiteLax
		case "None":
			param.SameSite = network.CookieSameSiteNone
		}
		params = append(params, param)
	}

	err := e.primary.run(chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// NewPage opens an isolated tab in the same browser context; it shares the
// cookie jar with the primary tab.
func (e *Engine) NewPage(timeout time.Duration) (Page, func(), error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}
	return &tab{ctx: tabCtx, timeout: timeout}, tabCancel, nil
}

// Close shuts the browser down.
func (e *Engine) Close() {
	e.browserCancel()
	e.allocCancel()
}

// tab wraps a chromedp context; every operation is bounded by the tab's
// timeout so a hung page never stalls its caller indefinitely.
type tab struct {
	ctx     context.Context
	timeout time.Duration
}

var _ Page = (*tab)(nil)

func (t *tab) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (t *tab) Navigate(url string) error {
	return t.run(chromedp.Navigate(url))
}

func (t *tab) WaitVisible(sel string) error {
	return t.run(chromedp.WaitVisible(sel, chromedp.ByQuery))
}

func (t *tab) Fill(sel, value string) error {
	return t.run(
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	)
}

func (t *tab) Click(sel string) error {
	return t.run(chromedp.Click(sel, chromedp.ByQuery))
}

func (t *tab) Location() (string, error) {
	var loc string
	err := t.run(chromedp.Location(&loc))
	return loc, err
}

func (t *tab) Title() (string, error) {
	var title string
	err := t.run(chromedp.Title(&title))
	return title, err
}

// Text returns the inner text of the first matching element, or "" when the
// selector matches nothing. It never waits for the element to appear.
func (t *tab) Text(sel string) (string, error) {
	var text string
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? (el.innerText || el.textContent || "").trim() : ""; })()`,
		sel,
	)
	err := t.run(chromedp.Evaluate(js, &text))
	return text, err
}

// Anchors collects href/text pairs for every element matching sel.
func (t *tab) Anchors(sel string) ([]Anchor, error) {
	var anchors []Anchor
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(a => ({href: a.href || "", text: (a.textContent || "").trim()}))`,
		sel,
	)
	err := t.run(chromedp.Evaluate(js, &anchors))
	return anchors, err
}

// HTML captures the fully rendered document markup.
func (t *tab) HTML() (string, error) {
	var html string
	err := t.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *tab) Sleep(d time.Duration) error {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout+d)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Sleep(d))
}
