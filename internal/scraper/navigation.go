package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
)

var notFoundPhrases = []string{
	"this page doesn't exist",
	"this page doesn’t exist",
	"page not found",
	"profile is not available",
	"this content isn't available",
	"this content isn’t available",
}

// Navigator opens target URLs in isolated, camouflaged tabs.
type Navigator struct {
	browser Browser
	persona Persona
	cfg     config.BrowserConfig
	logger  *logrus.Logger
}

func NewNavigator(browser Browser, cfg *config.Config, logger *logrus.Logger) *Navigator {
	return &Navigator{
		browser: browser,
		persona: PersonaFromConfig(cfg.Browser),
		cfg:     cfg.Browser,
		logger:  logger,
	}
}

// Open loads url in a new tab, waits settle for client-side rendering, and
// classifies soft failures. On any error the tab is already closed; on
// success the caller must Close it.
func (n *Navigator) Open(ctx context.Context, url string, settle time.Duration) (Page, error) {
	tab, err := n.browser.NewPage(ctx, n.persona)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if err := n.load(ctx, tab, url, settle); err != nil {
		if cerr := tab.Close(); cerr != nil {
			n.logger.Warnf("Failed to close tab for %s: %v", url, cerr)
		}
		return nil, err
	}
	return tab, nil
}

func (n *Navigator) load(ctx context.Context, tab Page, url string, settle time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, n.cfg.NavigationTimeoutDuration())
	err := tab.Navigate(navCtx, url)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return err
	}

	if err := tab.MouseJitter(ctx, 3); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Debugf("Mouse jitter failed on %s: %v", url, err)
	}
	if err := sleep(ctx, settle); err != nil {
		return err
	}
	return n.classify(ctx, tab)
}

func (n *Navigator) classify(ctx context.Context, page Page) error {
	current, err := page.URL(ctx)
	if err != nil {
		return err
	}
	if IsAuthWallURL(current) {
		return fmt.Errorf("%w: %s", ErrAuthWall, current)
	}
	doc, err := snapshot(ctx, page, "")
	if err != nil {
		return err
	}
	if HasLoginForm(doc) {
		return fmt.Errorf("%w: sign-in form on %s", ErrAuthWall, current)
	}
	if IsNotFoundPage(doc) {
		return fmt.Errorf("%w: %s", ErrNotFound, current)
	}
	return nil
}

// IsNotFoundPage matches the site's "not found" and "unavailable" pages.
func IsNotFoundPage(doc *goquery.Document) bool {
	title := strings.ToLower(doc.Find("title").First().Text())
	if strings.Contains(title, "page not found") || strings.HasPrefix(strings.TrimSpace(title), "404") {
		return true
	}
	text := strings.ToLower(CleanText(doc.Find("main, body").First().Text()))
	for _, phrase := range notFoundPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// snapshot parses the outer HTML of selector (or the whole page).
func snapshot(ctx context.Context, page Page, selector string) (*goquery.Document, error) {
	html, err := page.HTML(ctx, selector)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page snapshot: %w", err)
	}
	return doc, nil
}

// sleep is a pacing delay that yields to cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
