package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/utils"
)

// route is what the fake site serves for one URL.
type route struct {
	html string
	// redirect, when set, is the URL the tab ends up on.
	redirect string
	// overlay holds successive renders of the reactions overlay; each
	// overlay scroll advances one frame until the last.
	overlay []string
	// failures are returned by the first navigations, one per visit.
	failures []error
	// gate, when set, holds every navigation until it is closed.
	gate chan struct{}
}

type fakeBrowser struct {
	mu          sync.Mutex
	routes      map[string]*route
	home        *fakePage
	open        int
	closed      bool
	cookies     []SessionCookie
	navigations []string
}

func newFakeBrowser(routes map[string]*route) *fakeBrowser {
	b := &fakeBrowser{routes: routes}
	b.home = &fakePage{browser: b, home: true}
	return b
}

func (b *fakeBrowser) factory() BrowserFactory {
	return func(ctx context.Context) (Browser, error) { return b, nil }
}

func (b *fakeBrowser) SetCookie(ctx context.Context, c SessionCookie) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies = append(b.cookies, c)
	return nil
}

func (b *fakeBrowser) Home(ctx context.Context) (Page, error) { return b.home, nil }

func (b *fakeBrowser) NewPage(ctx context.Context, persona Persona) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrowserClosed
	}
	b.open++
	return &fakePage{browser: b}, nil
}

func (b *fakeBrowser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// visits counts navigations to url.
func (b *fakeBrowser) visits(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.navigations {
		if v == url {
			n++
		}
	}
	return n
}

type fakePage struct {
	browser *fakeBrowser
	home    bool

	mu          sync.Mutex
	url         string
	html        string
	overlay     []string
	frame       int
	overlayOpen bool
	scrolls     int
	clicks      []string
	dismissed   int
	closed      bool
}

// newStaticPage serves html without a browser, for harvester tests.
func newStaticPage(html string, overlay []string) *fakePage {
	return &fakePage{url: "https://www.linkedin.com/feed/", html: html, overlay: overlay}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := p.browser
	b.mu.Lock()
	b.navigations = append(b.navigations, url)
	r, ok := b.routes[url]
	var failure error
	if ok && len(r.failures) > 0 {
		failure = r.failures[0]
		r.failures = r.failures[1:]
	}
	b.mu.Unlock()

	if ok && r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	if !ok {
		p.html = "<html><head><title>Page not found | LinkedIn</title></head><body></body></html>"
		return nil
	}
	if r.redirect != "" {
		p.url = r.redirect
	}
	p.html = r.html
	p.overlay = r.overlay
	p.frame = 0
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) HTML(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == "" {
		return p.html, nil
	}
	if selector == overlaySelector {
		if !p.overlayOpen {
			return "", ErrElementMissing
		}
		return p.overlay[p.frame], nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return "", err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", ErrElementMissing
	}
	return goquery.OuterHtml(sel)
}

func (p *fakePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.HTML(ctx, selector)
	return err
}

func (p *fakePage) ScrollViewport(ctx context.Context, fraction float64) error { return ctx.Err() }

func (p *fakePage) ScrollWindow(ctx context.Context, px int) error { return ctx.Err() }

func (p *fakePage) ScrollWithin(ctx context.Context, selectors []string, px int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	if p.overlayOpen && p.frame < len(p.overlay)-1 {
		p.frame++
	}
	return nil
}

func (p *fakePage) Tag(ctx context.Context, selector, attr string, positions []int) error {
	return ctx.Err()
}

func (p *fakePage) Reveal(ctx context.Context, selector string) error { return ctx.Err() }

func (p *fakePage) Click(ctx context.Context, selector string, preventNavigation bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	if len(p.overlay) > 0 {
		p.overlayOpen = true
	}
	return nil
}

func (p *fakePage) Dismiss(ctx context.Context, closeSelectors []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed++
	p.overlayOpen = false
	return nil
}

func (p *fakePage) MouseJitter(ctx context.Context, moves int) error { return ctx.Err() }

func (p *fakePage) Close() error {
	if p.home {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.browser != nil {
		p.browser.mu.Lock()
		p.browser.open--
		p.browser.mu.Unlock()
	}
	return nil
}

// testConfig removes every pacing delay.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pacing = config.PacingConfig{}
	cfg.Scraper.FeedScrollSteps = 1
	cfg.Scraper.ExperienceScrolls = 1
	return cfg
}

var testLogger = utils.DiscardLogger()

const landingURL = "https://www.linkedin.com/feed"

func landingRoute() *route {
	return &route{html: `<html><head><title>Feed | LinkedIn</title></head><body><main><div class="feed">Welcome back</div></main></body></html>`}
}

// overlayHTML renders a reactions overlay listing n people.
func overlayHTML(n int) string {
	var b strings.Builder
	b.WriteString(`<div role="dialog" class="artdeco-modal"><div class="artdeco-modal__content"><ul>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<li class="artdeco-entity-lockup"><a href="/in/person-%d/?trk=reactions">`+
			`<div class="artdeco-entity-lockup__title"><span aria-hidden="true">Person %d</span>`+
			`<span class="visually-hidden">View Person %d’s profile</span></div></a></li>`, i, i, i)
	}
	b.WriteString(`</ul></div></div>`)
	return b.String()
}

func profileHTML(name, headline, extra string) string {
	return `<html><head><title>` + name + ` | LinkedIn</title></head><body><main>` +
		`<section class="pv-top-card"><h1>` + name + `</h1><div class="text-body-medium">` + headline + `</div></section>` +
		extra + `</main></body></html>`
}
