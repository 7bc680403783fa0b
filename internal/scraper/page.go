package scraper

import (
	"context"
	"time"
)

// Page is one browsing tab. Every blocking call honours ctx; a cancelled
// ctx aborts the call but leaves the tab open until Close.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// HTML returns the outer HTML of the first element matching selector, or
	// of the whole document when selector is empty.
	HTML(ctx context.Context, selector string) (string, error)
	// WaitFor polls until selector matches. ErrElementMissing on timeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	ScrollViewport(ctx context.Context, fraction float64) error
	ScrollWindow(ctx context.Context, px int) error
	// ScrollWithin scrolls every element matching any of selectors, or the
	// window when none match.
	ScrollWithin(ctx context.Context, selectors []string, px int) error
	// Tag sets attr to "0", "1", ... on the elements of selector found at
	// positions, in document order.
	Tag(ctx context.Context, selector, attr string, positions []int) error
	Reveal(ctx context.Context, selector string) error
	// Click clicks the first match. With preventNavigation, the enclosing
	// anchor's default action is suppressed for this one click.
	Click(ctx context.Context, selector string, preventNavigation bool) error
	// Dismiss clicks the first matching close control and sends Escape.
	Dismiss(ctx context.Context, closeSelectors []string) error
	MouseJitter(ctx context.Context, moves int) error
	Close() error
}

type SessionCookie struct {
	Name    string
	Value   string
	Domain  string
	Expires time.Time
}

// Browser owns one remote browsing process.
type Browser interface {
	SetCookie(ctx context.Context, c SessionCookie) error
	// Home is the bootstrap tab. It lives as long as the browser.
	Home(ctx context.Context) (Page, error)
	// NewPage opens an isolated tab dressed as persona.
	NewPage(ctx context.Context, persona Persona) (Page, error)
	// OpenTabs counts isolated tabs not yet closed.
	OpenTabs() int
	Close() error
}

// BrowserFactory launches a browser for one job.
type BrowserFactory func(ctx context.Context) (Browser, error)
