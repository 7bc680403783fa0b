package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
)

// ChromeBrowser drives a local Chrome through the DevTools protocol.
type ChromeBrowser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	home          *chromePage
	cfg           config.BrowserConfig
	logger        *logrus.Logger

	mu     sync.Mutex
	tabs   map[*chromePage]struct{}
	closed bool
}

// NewChromeBrowser launches Chrome. The process is not tied to ctx; it lives
// until Close.
func NewChromeBrowser(ctx context.Context, cfg config.BrowserConfig, logger *logrus.Logger) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Debugf),
	)

	if err := ctx.Err(); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}
	// The first Run allocates the process; it must use the unbounded browser
	// context or the process dies with any timeout derived from it.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	logger.Infof("Launched Chrome (headless=%t, window=%dx%d)", cfg.Headless, cfg.WindowWidth, cfg.WindowHeight)

	b := &ChromeBrowser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cfg:           cfg,
		logger:        logger,
		tabs:          make(map[*chromePage]struct{}),
	}
	b.home = &chromePage{ctx: browserCtx, browser: b, home: true}
	return b, nil
}

func (b *ChromeBrowser) SetCookie(ctx context.Context, c SessionCookie) error {
	expires := cdp.TimeSinceEpoch(c.Expires)
	return b.home.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath("/").
			WithSecure(true).
			WithHTTPOnly(true).
			WithSameSite(network.CookieSameSiteNone).
			WithExpires(&expires).
			Do(ctx)
	}))
}

func (b *ChromeBrowser) Home(ctx context.Context) (Page, error) {
	if b.isClosed() {
		return nil, ErrBrowserClosed
	}
	return b.home, nil
}

func (b *ChromeBrowser) NewPage(ctx context.Context, persona Persona) (Page, error) {
	if b.isClosed() {
		return nil, ErrBrowserClosed
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	p := &chromePage{ctx: tabCtx, cancel: cancel, browser: b}
	if err := p.run(ctx, camouflage(persona)); err != nil {
		_ = chromedp.Cancel(tabCtx)
		cancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}
	b.mu.Lock()
	b.tabs[p] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *ChromeBrowser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}

func (b *ChromeBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close shuts the whole browsing process; every in-flight wait fails.
func (b *ChromeBrowser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.tabs = make(map[*chromePage]struct{})
	b.mu.Unlock()

	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	b.logger.Info("Browser closed")
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	browser *ChromeBrowser
	home    bool
	once    sync.Once
}

// run executes actions on the tab, bounded by the caller's ctx. Deriving from
// the tab context keeps the tab open when only the caller gives up.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, dl)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	switch {
	case err == nil:
		return nil
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	return err
}

func (p *chromePage) eval(ctx context.Context, js string, res any) error {
	return p.run(ctx, chromedp.Evaluate(js, res))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsValue(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (p *chromePage) HTML(ctx context.Context, selector string) (string, error) {
	js := fmt.Sprintf(`(() => {
		const sel = %s;
		const el = sel ? document.querySelector(sel) : document.documentElement;
		return el ? el.outerHTML : "";
	})()`, jsString(selector))
	var html string
	if err := p.eval(ctx, js, &html); err != nil {
		return "", fmt.Errorf("failed to snapshot %q: %w", selector, err)
	}
	if html == "" {
		return "", fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return html, nil
}

func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	var found bool
	err := p.run(ctx, chromedp.Poll(
		fmt.Sprintf(`!!document.querySelector(%s)`, jsString(selector)),
		&found,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(250*time.Millisecond),
	))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chromedp.ErrPollingTimeout):
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return err
}

func (p *chromePage) ScrollViewport(ctx context.Context, fraction float64) error {
	var ok bool
	return p.eval(ctx, fmt.Sprintf(`(() => { window.scrollBy(0, window.innerHeight * %f); return true; })()`, fraction), &ok)
}

func (p *chromePage) ScrollWindow(ctx context.Context, px int) error {
	var ok bool
	return p.eval(ctx, fmt.Sprintf(`(() => { window.scrollBy(0, %d); return true; })()`, px), &ok)
}

func (p *chromePage) ScrollWithin(ctx context.Context, selectors []string, px int) error {
	js := fmt.Sprintf(`(() => {
		let n = 0;
		for (const sel of %s) {
			document.querySelectorAll(sel).forEach(el => { el.scrollBy(0, %d); n++; });
		}
		if (n === 0) window.scrollBy(0, %d);
		return n;
	})()`, jsValue(selectors), px, px)
	var n int
	return p.eval(ctx, js, &n)
}

func (p *chromePage) Tag(ctx context.Context, selector, attr string, positions []int) error {
	js := fmt.Sprintf(`(() => {
		const els = document.querySelectorAll(%s);
		let n = 0;
		%s.forEach((pos, i) => {
			if (els[pos]) { els[pos].setAttribute(%s, String(i)); n++; }
		});
		return n;
	})()`, jsString(selector), jsValue(positions), jsString(attr))
	var n int
	if err := p.eval(ctx, js, &n); err != nil {
		return fmt.Errorf("failed to tag candidates: %w", err)
	}
	if n != len(positions) {
		return fmt.Errorf("%w: tagged %d of %d candidates", ErrElementMissing, n, len(positions))
	}
	return nil
}

func (p *chromePage) Reveal(ctx context.Context, selector string) error {
	var ok bool
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({behavior: "smooth", block: "center", inline: "center"});
		return true;
	})()`, jsString(selector))
	if err := p.eval(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string, preventNavigation bool) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		const anchor = el.tagName === "A" ? el : el.closest("a");
		if (%t && anchor) {
			anchor.addEventListener("click", e => e.preventDefault(), {once: true});
		}
		el.click();
		return true;
	})()`, jsString(selector), preventNavigation)
	var ok bool
	if err := p.eval(ctx, js, &ok); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return nil
}

func (p *chromePage) Dismiss(ctx context.Context, closeSelectors []string) error {
	js := fmt.Sprintf(`(() => {
		for (const sel of %s) {
			const btn = document.querySelector(sel);
			if (btn) { btn.click(); return true; }
		}
		return false;
	})()`, jsValue(closeSelectors))
	var clicked bool
	if err := p.eval(ctx, js, &clicked); err != nil {
		return fmt.Errorf("failed to dismiss overlay: %w", err)
	}
	return p.run(ctx, chromedp.KeyEvent(kb.Escape))
}

func (p *chromePage) MouseJitter(ctx context.Context, moves int) error {
	w, h := float64(p.browser.cfg.TabWidth), float64(p.browser.cfg.TabHeight)
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 0; i < moves; i++ {
			x := w * (0.2 + 0.6*rand.Float64())
			y := h * (0.2 + 0.6*rand.Float64())
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return err
			}
			if i%2 == 1 {
				dy := h * (0.05 + 0.1*rand.Float64())
				if err := input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(0).WithDeltaY(dy).Do(ctx); err != nil {
					return err
				}
			}
			if err := chromedp.Sleep(time.Duration(80+rand.IntN(220)) * time.Millisecond).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Close closes the tab. The home tab is closed with the browser.
func (p *chromePage) Close() error {
	if p.home {
		return nil
	}
	var err error
	p.once.Do(func() {
		p.browser.mu.Lock()
		delete(p.browser.tabs, p)
		p.browser.mu.Unlock()
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
