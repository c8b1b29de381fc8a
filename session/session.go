// Package session logs into the wholesale portal through the headless
// browser, persists the authenticated cookies and discovers the top-level
// catalog categories from the portal navigation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/models"
	"wholescrape/progress"
)

const (
	emailSelector    = "#email"
	passwordSelector = "#password"
	submitSelector   = `button[type="submit"]`

	loginPollInterval = 500 * time.Millisecond
)

// errorSelectors are scanned for a visible failure message when the login
// never leaves the login page.
var errorSelectors = []string{".error", ".alert-danger", `[class*="error"]`}

// authMarkers in a URL or title mean the session is not authenticated.
var authMarkers = []string{"login", "signin", "error"}

var categoryPathPattern = regexp.MustCompile(`^/lululemon/([^/?#]+)/?$`)

// fallbackCategories covers portals whose navigation renders nothing we can
// match; the paths are stable even when the nav markup changes.
var fallbackCategories = []string{"women", "men", "accessories", "supplies"}

// Acquirer performs the login handshake and category discovery on the
// primary browser tab.
type Acquirer struct {
	cfg    *config.Config
	br     browser.Browser
	logger *slog.Logger
}

// New builds an Acquirer driving br.
func New(cfg *config.Config, br browser.Browser, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{cfg: cfg, br: br, logger: logger}
}

// Run executes the full session stage: login, cookie persistence and
// category discovery. A saved session from a previous run is restored and
// reused when the portal still accepts it; otherwise a fresh login runs.
// It returns the discovered categories.
func (a *Acquirer) Run(ctx context.Context, reporter *progress.Reporter) ([]models.Category, error) {
	reporter.StartPhase(progress.PhaseLogin, 3, "logging in")

	if a.RestoreSession() {
		reporter.Increment("session restored")
	} else {
		if err := a.Login(ctx); err != nil {
			return nil, err
		}
		reporter.Increment("authenticated")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := a.SaveCookies(); err != nil {
		return nil, err
	}
	reporter.Increment("session saved")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	categories, err := a.DiscoverCategories()
	if err != nil {
		return nil, err
	}
	reporter.Increment("categories discovered")

	return categories, nil
}

// Login navigates to the portal, submits the credential form and waits for
// the portal to redirect away from the login page. A visible form error, a
// timeout, or a post-redirect URL still carrying an auth marker all surface
// as *AuthError.
func (a *Acquirer) Login(ctx context.Context) error {
	if a.cfg.Email == "" || a.cfg.Password == "" {
		return &AuthError{Reason: "email and password are required"}
	}

	a.logger.Info("navigating to portal", "url", a.cfg.PortalURL)
	if err := a.br.Navigate(a.cfg.PortalURL); err != nil {
		return &AuthError{Reason: "portal unreachable", Err: err}
	}

	if err := a.br.WaitVisible(emailSelector); err != nil {
		// No login form. Either the session is already authenticated or the
		// portal served something unexpected.
		loc, locErr := a.br.Location()
		if locErr == nil && !containsAuthMarker(loc) {
			a.logger.Info("already authenticated", "url", loc)
			return nil
		}
		return &AuthError{Reason: "login form did not appear", Err: err}
	}

	if err := a.br.Fill(emailSelector, a.cfg.Email); err != nil {
		return &AuthError{Reason: "could not fill email", Err: err}
	}
	if err := a.br.Fill(passwordSelector, a.cfg.Password); err != nil {
		return &AuthError{Reason: "could not fill password", Err: err}
	}
	if err := a.br.Click(submitSelector); err != nil {
		return &AuthError{Reason: "could not submit login form", Err: err}
	}

	if err := a.awaitRedirect(ctx); err != nil {
		return err
	}

	if title, err := a.br.Title(); err == nil && containsAuthMarker(title) {
		return &AuthError{Reason: fmt.Sprintf("post-login page title %q indicates failure", title)}
	}

	a.logger.Info("login succeeded")
	return nil
}

// awaitRedirect polls the page location until it leaves the login page or
// the login timeout elapses.
func (a *Acquirer) awaitRedirect(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.LoginTimeout)
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		loc, err := a.br.Location()
		if err == nil && !containsAuthMarker(loc) {
			return nil
		}

		if msg := a.scanFormError(); msg != "" {
			return &AuthError{Reason: fmt.Sprintf("portal rejected credentials: %s", msg)}
		}

		if time.Now().After(deadline) {
			return &AuthError{Reason: fmt.Sprintf("still on login page after %s", a.cfg.LoginTimeout)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scanFormError returns the first visible error message on the page, or "".
func (a *Acquirer) scanFormError() string {
	for _, sel := range errorSelectors {
		text, err := a.br.Text(sel)
		if err == nil && text != "" {
			return text
		}
	}
	return ""
}

// RestoreSession loads the persisted cookie file into the browser and checks
// that the portal still accepts it, reporting whether the session is usable.
// Any failure along the way means the caller should log in fresh.
func (a *Acquirer) RestoreSession() bool {
	sess, err := LoadSession(a.cfg.CookieFile())
	if err != nil || len(sess.Cookies) == 0 {
		return false
	}

	if err := a.br.SetCookies(sess.Cookies); err != nil {
		a.logger.Debug("could not restore saved cookies", "error", err)
		return false
	}
	if err := a.br.Navigate(a.cfg.PortalURL); err != nil {
		return false
	}

	loc, err := a.br.Location()
	if err != nil || containsAuthMarker(loc) {
		a.logger.Info("saved session no longer accepted, logging in fresh",
			"captured_at", sess.CapturedAt)
		return false
	}

	a.logger.Info("session restored", "captured_at", sess.CapturedAt, "cookies", len(sess.Cookies))
	return true
}

// SaveCookies snapshots the browser cookie jar to the session file.
func (a *Acquirer) SaveCookies() (*models.Session, error) {
	cookies, err := a.br.Cookies()
	if err != nil {
		return nil, &AuthError{Reason: "could not read cookies", Err: err}
	}
	if len(cookies) == 0 {
		return nil, &AuthError{Reason: "no cookies captured after login"}
	}

	sess := &models.Session{Cookies: cookies, CapturedAt: time.Now().UTC()}

	path := a.cfg.CookieFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cookie directory: %w", err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write session file: %w", err)
	}

	a.logger.Info("session saved", "path", path, "cookies", len(cookies))
	return sess, nil
}

// LoadSession reads a previously saved session file.
func LoadSession(path string) (*models.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &sess, nil
}

// DiscoverCategories parses the portal navigation for catalog categories.
// When the navigation yields nothing, the known static category set is used
// instead.
func (a *Acquirer) DiscoverCategories() ([]models.Category, error) {
	anchors, err := a.br.Anchors(a.cfg.CategorySelector)
	if err != nil {
		return nil, fmt.Errorf("read navigation anchors: %w", err)
	}

	seen := make(map[string]bool)
	var categories []models.Category
	for _, anchor := range anchors {
		cat, ok := a.parseCategory(anchor)
		if !ok || seen[cat.ID] {
			continue
		}
		seen[cat.ID] = true
		categories = append(categories, cat)
	}

	if len(categories) == 0 {
		a.logger.Warn("no categories in navigation, using static set")
		for _, id := range fallbackCategories {
			categories = append(categories, models.Category{
				ID:          id,
				DisplayName: displayName(id),
				ListingURL:  a.cfg.PortalURL + "/lululemon/" + id,
			})
		}
	}

	a.logger.Info("categories discovered", "count", len(categories))
	return categories, nil
}

// parseCategory maps a navigation anchor onto a category. Accepted paths are
// /lululemon/<id> and /whats-new.
func (a *Acquirer) parseCategory(anchor browser.Anchor) (models.Category, bool) {
	parsed, err := url.Parse(anchor.Href)
	if err != nil {
		return models.Category{}, false
	}

	var id string
	switch {
	case parsed.Path == "/whats-new" || parsed.Path == "/whats-new/":
		id = "whats-new"
	default:
		m := categoryPathPattern.FindStringSubmatch(parsed.Path)
		if m == nil {
			return models.Category{}, false
		}
		id = m[1]
	}

	name := strings.TrimSpace(anchor.Text)
	if name == "" {
		name = displayName(id)
	}
	return models.Category{
		ID:          id,
		DisplayName: name,
		ListingURL:  a.cfg.PortalURL + parsed.Path,
	}, true
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

// displayName turns a category ID like "whats-new" into "Whats New".
func displayName(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
