// Package browser abstracts the headless-browser engine behind a small
// capability interface so pipeline stages never touch the automation library
// directly.
package browser

import (
	"time"

	"wholescrape/models"
)

// Anchor is one link element collected from a page.
type Anchor struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Page is one browser tab. Every operation carries its own bounded wait; a
// hung portal page surfaces as an error, never as an unbounded block.
type Page interface {
	Navigate(url string) error
	WaitVisible(selector string) error
	Fill(selector, value string) error
	Click(selector string) error
	Location() (string, error)
	Title() (string, error)
	Text(selector string) (string, error)
	Anchors(selector string) ([]Anchor, error)
	HTML() (string, error)
	Sleep(d time.Duration) error
}

// Browser is the automation engine: a primary tab plus cookie-jar access and
// the ability to open isolated tabs for concurrent fetches.
type Browser interface {
	Page

	Cookies() ([]models.Cookie, error)
	SetCookies(cookies []models.Cookie) error

	// NewPage opens an isolated tab whose operations are bounded by timeout.
	// The returned func releases the tab.
	NewPage(timeout time.Duration) (Page, func(), error)

	Close()
}
