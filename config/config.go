package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Config holds pipeline configuration.
type Config struct {
	PortalURL string
	Email     string
	Password  string

	DataDir   string
	UserAgent string

	// Browser
	Headless   bool
	ChromePath string

	// SessionAcquirer
	LoginTimeout     time.Duration
	CategorySelector string

	// LinkDiscoverer
	ListingTimeout  time.Duration
	MaxListingPages int
	ProbeLimit      int
	DedupeMaxSize   int

	// PageFetcher
	FetchConcurrency int
	PageTimeout      time.Duration
	ReadySelector    string
	RenderSettle     time.Duration
	MinPageBytes     int

	// ReportComposer
	MaxSwatchColumns int
	ReportRowHeight  float64

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns conservative defaults for the wholesale portal.
func DefaultConfig() *Config {
	return &Config{
		PortalURL:        "https://wholesale.lululemon.com",
		DataDir:          "data",
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headless:         true,
		LoginTimeout:     20 * time.Second,
		CategorySelector: `a[class*="primaryNavAnchor"]`,
		ListingTimeout:   60 * time.Second,
		MaxListingPages:  40,
		ProbeLimit:       12,
		DedupeMaxSize:    10000,
		FetchConcurrency: 5,
		PageTimeout:      30 * time.Second,
		ReadySelector:    "table tbody",
		RenderSettle:     time.Second,
		MinPageBytes:     50000,
		MaxSwatchColumns: 6,
		ReportRowHeight:  80,
		MetricsAddr:      "",
		Verbose:          false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.PortalURL == "" {
		return fmt.Errorf("portal URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.PortalURL)
	if err != nil {
		return fmt.Errorf("invalid portal URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("portal URL must include a host")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.LoginTimeout <= 0 {
		return fmt.Errorf("login timeout must be positive")
	}
	if c.ListingTimeout <= 0 {
		return fmt.Errorf("listing timeout must be positive")
	}
	if c.MaxListingPages <= 0 {
		return fmt.Errorf("max listing pages must be positive")
	}
	if c.ProbeLimit <= 0 {
		return fmt.Errorf("probe limit must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch concurrency must be positive")
	}
	if c.PageTimeout <= 0 {
		return fmt.Errorf("page timeout must be positive")
	}
	if c.RenderSettle < 0 {
		return fmt.Errorf("render settle cannot be negative")
	}
	if c.MinPageBytes < 0 {
		return fmt.Errorf("min page bytes cannot be negative")
	}
	if c.MaxSwatchColumns <= 0 {
		return fmt.Errorf("max swatch columns must be positive")
	}
	if c.ReportRowHeight <= 0 {
		return fmt.Errorf("report row height must be positive")
	}

	return nil
}

// Host returns the portal hostname.
func (c *Config) Host() string {
	parsed, err := url.Parse(c.PortalURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// CookieFile is the path of the persisted session cookies.
func (c *Config) CookieFile() string {
	return filepath.Join(c.DataDir, "cookie", "cookie.json")
}

// LinksFile is the path of the category listing-URL index.
func (c *Config) LinksFile() string {
	return filepath.Join(c.DataDir, "links.csv")
}

// CategoriesDir holds one product-link CSV per category.
func (c *Config) CategoriesDir() string {
	return filepath.Join(c.DataDir, "categories")
}

// HTMLDir holds fetched pages, one subdirectory per category.
func (c *Config) HTMLDir() string {
	return filepath.Join(c.DataDir, "html")
}

// ResultsDir holds generated reports.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.DataDir, "results")
}
