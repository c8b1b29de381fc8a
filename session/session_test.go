package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wholescrape/browser"
	"wholescrape/config"
	"wholescrape/models"
	"wholescrape/progress"
)

// fakeBrowser scripts browser behavior for login-flow tests.
type fakeBrowser struct {
	navigated []string
	filled    map[string]string
	clicked   []string

	waitErr    map[string]error
	locations  []string
	locIdx     int
	title      string
	texts      map[string]string
	anchors    []browser.Anchor
	cookies    []models.Cookie
	cookieErr  error
	setCookies []models.Cookie
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		filled:  make(map[string]string),
		waitErr: make(map[string]error),
		texts:   make(map[string]string),
	}
}

func (f *fakeBrowser) Navigate(url string) error {
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeBrowser) WaitVisible(sel string) error {
	return f.waitErr[sel]
}

func (f *fakeBrowser) Fill(sel, value string) error {
	f.filled[sel] = value
	return nil
}

func (f *fakeBrowser) Click(sel string) error {
	f.clicked = append(f.clicked, sel)
	return nil
}

func (f *fakeBrowser) Location() (string, error) {
	if len(f.locations) == 0 {
		return "", nil
	}
	loc := f.locations[f.locIdx]
	if f.locIdx < len(f.locations)-1 {
		f.locIdx++
	}
	return loc, nil
}

func (f *fakeBrowser) Title() (string, error) {
	return f.title, nil
}

func (f *fakeBrowser) Text(sel string) (string, error) {
	return f.texts[sel], nil
}

func (f *fakeBrowser) Anchors(string) ([]browser.Anchor, error) {
	return f.anchors, nil
}

func (f *fakeBrowser) HTML() (string, error) {
	return "", nil
}

func (f *fakeBrowser) Sleep(time.Duration) error {
	return nil
}

func (f *fakeBrowser) Cookies() ([]models.Cookie, error) {
	return f.cookies, f.cookieErr
}

func (f *fakeBrowser) SetCookies(cookies []models.Cookie) error {
	f.setCookies = append(f.setCookies, cookies...)
	return nil
}

func (f *fakeBrowser) NewPage(time.Duration) (browser.Page, func(), error) {
	return f, func() {}, nil
}

func (f *fakeBrowser) Close() {}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Email = "buyer@example.com"
	cfg.Password = "secret"
	cfg.DataDir = t.TempDir()
	cfg.LoginTimeout = 2 * time.Second
	return cfg
}

func TestLoginSuccess(t *testing.T) {
	br := newFakeBrowser()
	br.locations = []string{
		"https://wholesale.lululemon.com/login",
		"https://wholesale.lululemon.com/dashboard",
	}

	a := New(testConfig(t), br, nil)
	if err := a.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v, want nil", err)
	}

	if got := br.filled["#email"]; got != "buyer@example.com" {
		t.Errorf("email field = %q, want buyer@example.com", got)
	}
	if got := br.filled["#password"]; got != "secret" {
		t.Errorf("password field = %q, want secret", got)
	}
	if len(br.clicked) != 1 {
		t.Errorf("clicked %d times, want 1", len(br.clicked))
	}
}

func TestLoginRejectedCredentials(t *testing.T) {
	br := newFakeBrowser()
	br.locations = []string{"https://wholesale.lululemon.com/login"}
	br.texts[".error"] = "Invalid email or password"

	a := New(testConfig(t), br, nil)
	err := a.Login(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
	if !strings.Contains(authErr.Reason, "Invalid email or password") {
		t.Errorf("reason = %q, want the form error message", authErr.Reason)
	}
}

func TestLoginTimeout(t *testing.T) {
	br := newFakeBrowser()
	br.locations = []string{"https://wholesale.lululemon.com/login"}

	cfg := testConfig(t)
	cfg.LoginTimeout = 50 * time.Millisecond

	a := New(cfg, br, nil)
	err := a.Login(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
	if !strings.Contains(authErr.Reason, "still on login page") {
		t.Errorf("reason = %q, want timeout reason", authErr.Reason)
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = ""

	a := New(cfg, newFakeBrowser(), nil)
	var authErr *AuthError
	if err := a.Login(context.Background()); !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want *AuthError", err)
	}
}

func TestLoginAlreadyAuthenticated(t *testing.T) {
	br := newFakeBrowser()
	br.waitErr["#email"] = errors.New("waiting for selector timed out")
	br.locations = []string{"https://wholesale.lululemon.com/dashboard"}

	a := New(testConfig(t), br, nil)
	if err := a.Login(context.Background()); err != nil {
		t.Fatalf("Login() error = %v, want nil for authenticated session", err)
	}
	if len(br.clicked) != 0 {
		t.Errorf("clicked %d times, want 0", len(br.clicked))
	}
}

func TestLoginCanceled(t *testing.T) {
	br := newFakeBrowser()
	br.locations = []string{"https://wholesale.lululemon.com/login"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(testConfig(t), br, nil)
	if err := a.Login(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Login() error = %v, want context.Canceled", err)
	}
}

func savedSession(t *testing.T, cfg *config.Config) []models.Cookie {
	t.Helper()
	cookies := []models.Cookie{
		{Name: "sessionid", Value: "abc123", Domain: "wholesale.lululemon.com", Path: "/"},
	}
	saver := newFakeBrowser()
	saver.cookies = cookies
	if _, err := New(cfg, saver, nil).SaveCookies(); err != nil {
		t.Fatal(err)
	}
	return cookies
}

func TestRunRestoresSavedSession(t *testing.T) {
	cfg := testConfig(t)
	cookies := savedSession(t, cfg)

	br := newFakeBrowser()
	br.cookies = cookies
	br.locations = []string{"https://wholesale.lululemon.com/dashboard"}

	a := New(cfg, br, nil)
	categories, err := a.Run(context.Background(), progress.NewReporter(nil))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(br.setCookies) != 1 || br.setCookies[0].Name != "sessionid" {
		t.Errorf("restored cookies = %+v, want the saved jar", br.setCookies)
	}
	if len(br.filled) != 0 || len(br.clicked) != 0 {
		t.Errorf("login form used (%d fills, %d clicks), want none on restore",
			len(br.filled), len(br.clicked))
	}
	if len(categories) == 0 {
		t.Error("Run() returned no categories")
	}
}

func TestRunFallsBackWhenSavedSessionRejected(t *testing.T) {
	cfg := testConfig(t)
	cookies := savedSession(t, cfg)

	// The restored session lands back on the login page; a fresh login must
	// follow and succeed.
	br := newFakeBrowser()
	br.cookies = cookies
	br.locations = []string{
		"https://wholesale.lululemon.com/login",
		"https://wholesale.lululemon.com/dashboard",
	}

	a := New(cfg, br, nil)
	if _, err := a.Run(context.Background(), progress.NewReporter(nil)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(br.clicked) != 1 {
		t.Errorf("clicked %d times, want 1 fresh login after rejected restore", len(br.clicked))
	}
}

func TestRestoreSessionWithoutFile(t *testing.T) {
	br := newFakeBrowser()
	a := New(testConfig(t), br, nil)

	if a.RestoreSession() {
		t.Fatal("RestoreSession() = true, want false without a cookie file")
	}
	if len(br.navigated) != 0 {
		t.Errorf("navigated %d times, want 0 without a cookie file", len(br.navigated))
	}
}

func TestSaveCookiesRoundTrip(t *testing.T) {
	br := newFakeBrowser()
	br.cookies = []models.Cookie{
		{Name: "sessionid", Value: "abc123", Domain: "wholesale.lululemon.com", Path: "/", Secure: true, HTTPOnly: true},
		{Name: "csrftoken", Value: "xyz", Domain: "wholesale.lululemon.com", Path: "/"},
	}

	cfg := testConfig(t)
	a := New(cfg, br, nil)

	saved, err := a.SaveCookies()
	if err != nil {
		t.Fatalf("SaveCookies() error = %v", err)
	}
	if len(saved.Cookies) != 2 {
		t.Fatalf("saved %d cookies, want 2", len(saved.Cookies))
	}

	loaded, err := LoadSession(cfg.CookieFile())
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if len(loaded.Cookies) != 2 {
		t.Fatalf("loaded %d cookies, want 2", len(loaded.Cookies))
	}
	if loaded.Cookies[0].Name != "sessionid" || loaded.Cookies[0].Value != "abc123" {
		t.Errorf("first cookie = %+v, want sessionid=abc123", loaded.Cookies[0])
	}
	if filepath.Base(cfg.CookieFile()) != "cookie.json" {
		t.Errorf("cookie file = %s, want cookie.json", cfg.CookieFile())
	}
}

func TestSaveCookiesEmptyJar(t *testing.T) {
	a := New(testConfig(t), newFakeBrowser(), nil)
	var authErr *AuthError
	if _, err := a.SaveCookies(); !errors.As(err, &authErr) {
		t.Fatalf("SaveCookies() error = %v, want *AuthError for empty jar", err)
	}
}

func TestDiscoverCategories(t *testing.T) {
	br := newFakeBrowser()
	br.anchors = []browser.Anchor{
		{Href: "https://wholesale.lululemon.com/lululemon/women", Text: "Women"},
		{Href: "https://wholesale.lululemon.com/lululemon/men", Text: "Men"},
		{Href: "https://wholesale.lululemon.com/whats-new", Text: "What's New"},
		{Href: "https://wholesale.lululemon.com/lululemon/women", Text: "Women"}, // duplicate
		{Href: "https://wholesale.lululemon.com/account/settings", Text: "Account"},
		{Href: "https://help.example.com/faq", Text: "Help"},
	}

	a := New(testConfig(t), br, nil)
	categories, err := a.DiscoverCategories()
	if err != nil {
		t.Fatalf("DiscoverCategories() error = %v", err)
	}

	want := []string{"women", "men", "whats-new"}
	if len(categories) != len(want) {
		t.Fatalf("got %d categories, want %d: %+v", len(categories), len(want), categories)
	}
	for i, id := range want {
		if categories[i].ID != id {
			t.Errorf("categories[%d].ID = %q, want %q", i, categories[i].ID, id)
		}
		if categories[i].ListingURL == "" {
			t.Errorf("categories[%d].ListingURL is empty", i)
		}
	}
	if categories[2].DisplayName != "What's New" {
		t.Errorf("whats-new display name = %q, want anchor text", categories[2].DisplayName)
	}
}

func TestDiscoverCategoriesFallback(t *testing.T) {
	a := New(testConfig(t), newFakeBrowser(), nil)
	categories, err := a.DiscoverCategories()
	if err != nil {
		t.Fatalf("DiscoverCategories() error = %v", err)
	}

	want := []string{"women", "men", "accessories", "supplies"}
	if len(categories) != len(want) {
		t.Fatalf("got %d fallback categories, want %d", len(categories), len(want))
	}
	for i, id := range want {
		if categories[i].ID != id {
			t.Errorf("categories[%d].ID = %q, want %q", i, categories[i].ID, id)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"women", "Women"},
		{"whats-new", "Whats New"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := displayName(tt.id); got != tt.want {
			t.Errorf("displayName(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
