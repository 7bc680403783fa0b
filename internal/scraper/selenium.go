package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"engagement-scraper/internal/config"
)

// SeleniumBrowser drives a browser through a remote WebDriver endpoint. Tabs
// are window handles; the driver addresses one at a time, so every call
// switches to its own handle under mu. closed is read without mu so Close
// never queues behind a blocking command.
type SeleniumBrowser struct {
	driver selenium.WebDriver
	cfg    config.BrowserConfig
	home   *seleniumPage
	logger *logrus.Logger
	closed atomic.Bool

	mu      sync.Mutex
	current string
	tabs    map[string]*seleniumPage
}

func NewSeleniumBrowser(ctx context.Context, cfg config.BrowserConfig, logger *logrus.Logger) (*SeleniumBrowser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps := selenium.Capabilities{"browserName": "chrome"}
	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-blink-features=AutomationControlled",
		fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight),
		"--user-agent=" + cfg.UserAgent,
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	caps.AddChrome(chrome.Capabilities{
		Args:            args,
		ExcludeSwitches: []string{"enable-automation"},
	})
	selenium.SetDebug(false)

	driver, err := selenium.NewRemote(caps, cfg.SeleniumURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open webdriver session: %w", err)
	}
	handle, err := driver.CurrentWindowHandle()
	if err != nil {
		driver.Quit()
		return nil, fmt.Errorf("failed to read window handle: %w", err)
	}
	logger.Infof("Connected to WebDriver at %s", cfg.SeleniumURL)
	return newSeleniumBrowser(driver, handle, cfg, logger), nil
}

func newSeleniumBrowser(driver selenium.WebDriver, handle string, cfg config.BrowserConfig, logger *logrus.Logger) *SeleniumBrowser {
	b := &SeleniumBrowser{
		driver:  driver,
		cfg:     cfg,
		logger:  logger,
		current: handle,
		tabs:    make(map[string]*seleniumPage),
	}
	b.home = &seleniumPage{browser: b, handle: handle, home: true}
	return b
}

// SetCookie needs the cookie's domain loaded first, which is a WebDriver rule.
func (b *SeleniumBrowser) SetCookie(ctx context.Context, c SessionCookie) error {
	return b.home.do(ctx, func(wd selenium.WebDriver) error {
		cur, _ := wd.CurrentURL()
		if cur == "" || cur == "about:blank" || cur == "data:," {
			if err := wd.Get("https://www" + c.Domain); err != nil {
				return fmt.Errorf("failed to open cookie domain: %w", err)
			}
		}
		return wd.AddCookie(&selenium.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   "/",
			Secure: true,
			Expiry: uint(c.Expires.Unix()),
		})
	})
}

func (b *SeleniumBrowser) Home(ctx context.Context) (Page, error) {
	if b.closed.Load() {
		return nil, ErrBrowserClosed
	}
	return b.home, nil
}

func (b *SeleniumBrowser) NewPage(ctx context.Context, persona Persona) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrBrowserClosed
	}

	before, err := b.driver.WindowHandles()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	if _, err := b.driver.ExecuteScript(`window.open("about:blank", "_blank");`, nil); err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	after, err := b.driver.WindowHandles()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	known := make(map[string]bool, len(before))
	for _, h := range before {
		known[h] = true
	}
	for _, h := range after {
		if known[h] {
			continue
		}
		p := &seleniumPage{browser: b, handle: h}
		b.tabs[h] = p
		if persona.Width > 0 && persona.Height > 0 {
			if err := b.switchTo(h); err == nil {
				_ = b.driver.ResizeWindow(h, persona.Width, persona.Height)
			}
		}
		return p, nil
	}
	return nil, fmt.Errorf("failed to open tab: no new window handle")
}

func (b *SeleniumBrowser) OpenTabs() int {
	if b.closed.Load() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}

// Close ends the WebDriver session without taking mu: ending the session is
// what fails a command that is still holding it.
func (b *SeleniumBrowser) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.driver.Quit(); err != nil {
		return fmt.Errorf("failed to quit webdriver: %w", err)
	}
	b.logger.Info("WebDriver session closed")
	return nil
}

// switchTo must be called with mu held.
func (b *SeleniumBrowser) switchTo(handle string) error {
	if b.current == handle {
		return nil
	}
	if err := b.driver.SwitchWindow(handle); err != nil {
		return fmt.Errorf("failed to switch window: %w", err)
	}
	b.current = handle
	return nil
}

type seleniumPage struct {
	browser *SeleniumBrowser
	handle  string
	home    bool
}

func (p *seleniumPage) do(ctx context.Context, fn func(wd selenium.WebDriver) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := p.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrBrowserClosed
	}
	if err := b.switchTo(p.handle); err != nil {
		return err
	}
	return fn(b.driver)
}

func (p *seleniumPage) script(ctx context.Context, js string, args ...any) (any, error) {
	var out any
	err := p.do(ctx, func(wd selenium.WebDriver) error {
		var err error
		out, err = wd.ExecuteScript(js, args)
		return err
	})
	return out, err
}

func (p *seleniumPage) Navigate(ctx context.Context, url string) error {
	timeout := p.browser.cfg.NavigationTimeoutDuration()
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return p.do(ctx, func(wd selenium.WebDriver) error {
		if err := wd.SetPageLoadTimeout(timeout); err != nil {
			return err
		}
		if err := wd.Get(url); err != nil {
			if p.browser.closed.Load() {
				return ErrBrowserClosed
			}
			return fmt.Errorf("%w: failed to navigate to %s: %v", ErrNavigationTimeout, url, err)
		}
		// WebDriver has no pre-document hook, so the evasions run once the
		// new document is in place.
		if _, err := wd.ExecuteScript(evasionsScript, nil); err != nil {
			p.browser.logger.Debugf("Failed to apply evasions on %s: %v", url, err)
		}
		return nil
	})
}

func (p *seleniumPage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.do(ctx, func(wd selenium.WebDriver) error {
		var err error
		u, err = wd.CurrentURL()
		return err
	})
	return u, err
}

func (p *seleniumPage) HTML(ctx context.Context, selector string) (string, error) {
	out, err := p.script(ctx, `
		const sel = arguments[0];
		const el = sel ? document.querySelector(sel) : document.documentElement;
		return el ? el.outerHTML : "";`, selector)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot %q: %w", selector, err)
	}
	html, _ := out.(string)
	if html == "" {
		return "", fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return html, nil
}

func (p *seleniumPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var found bool
		err := p.do(ctx, func(wd selenium.WebDriver) error {
			els, err := wd.FindElements(selenium.ByCSSSelector, selector)
			found = err == nil && len(els) > 0
			return nil
		})
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrElementMissing, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (p *seleniumPage) ScrollViewport(ctx context.Context, fraction float64) error {
	_, err := p.script(ctx, `window.scrollBy(0, window.innerHeight * arguments[0]);`, fraction)
	return err
}

func (p *seleniumPage) ScrollWindow(ctx context.Context, px int) error {
	_, err := p.script(ctx, `window.scrollBy(0, arguments[0]);`, px)
	return err
}

func (p *seleniumPage) ScrollWithin(ctx context.Context, selectors []string, px int) error {
	_, err := p.script(ctx, `
		let n = 0;
		for (const sel of arguments[0]) {
			document.querySelectorAll(sel).forEach(el => { el.scrollBy(0, arguments[1]); n++; });
		}
		if (n === 0) window.scrollBy(0, arguments[1]);
		return n;`, selectors, px)
	return err
}

func (p *seleniumPage) Tag(ctx context.Context, selector, attr string, positions []int) error {
	out, err := p.script(ctx, `
		const els = document.querySelectorAll(arguments[0]);
		let n = 0;
		arguments[1].forEach((pos, i) => {
			if (els[pos]) { els[pos].setAttribute(arguments[2], String(i)); n++; }
		});
		return n;`, selector, positions, attr)
	if err != nil {
		return fmt.Errorf("failed to tag candidates: %w", err)
	}
	if n, _ := out.(float64); int(n) != len(positions) {
		return fmt.Errorf("%w: tagged %d of %d candidates", ErrElementMissing, int(n), len(positions))
	}
	return nil
}

func (p *seleniumPage) Reveal(ctx context.Context, selector string) error {
	out, err := p.script(ctx, `
		const el = document.querySelector(arguments[0]);
		if (!el) return false;
		el.scrollIntoView({behavior: "smooth", block: "center", inline: "center"});
		return true;`, selector)
	if err != nil {
		return err
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return nil
}

func (p *seleniumPage) Click(ctx context.Context, selector string, preventNavigation bool) error {
	out, err := p.script(ctx, `
		const el = document.querySelector(arguments[0]);
		if (!el) return false;
		const anchor = el.tagName === "A" ? el : el.closest("a");
		if (arguments[1] && anchor) {
			anchor.addEventListener("click", e => e.preventDefault(), {once: true});
		}
		el.click();
		return true;`, selector, preventNavigation)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("%w: %s", ErrElementMissing, selector)
	}
	return nil
}

func (p *seleniumPage) Dismiss(ctx context.Context, closeSelectors []string) error {
	sels, _ := json.Marshal(closeSelectors)
	if _, err := p.script(ctx, `
		for (const sel of JSON.parse(arguments[0])) {
			const btn = document.querySelector(sel);
			if (btn) { btn.click(); break; }
		}
		document.dispatchEvent(new KeyboardEvent("keydown", {key: "Escape"}));
		return true;`, string(sels)); err != nil {
		return fmt.Errorf("failed to dismiss overlay: %w", err)
	}
	return p.do(ctx, func(wd selenium.WebDriver) error {
		el, err := wd.ActiveElement()
		if err != nil {
			return nil
		}
		return el.SendKeys(selenium.EscapeKey)
	})
}

// MouseJitter synthesizes pointer and wheel events; WebDriver has no
// element-free pointer move.
func (p *seleniumPage) MouseJitter(ctx context.Context, moves int) error {
	w, h := float64(p.browser.cfg.TabWidth), float64(p.browser.cfg.TabHeight)
	for i := 0; i < moves; i++ {
		x := w * (0.2 + 0.6*rand.Float64())
		y := h * (0.2 + 0.6*rand.Float64())
		if _, err := p.script(ctx, `
			document.dispatchEvent(new MouseEvent("mousemove", {clientX: arguments[0], clientY: arguments[1], bubbles: true}));
			if (arguments[2] > 0) window.scrollBy(0, arguments[2]);
			return true;`, x, y, float64(i%2)*h*0.05); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(80+rand.IntN(220)) * time.Millisecond):
		}
	}
	return nil
}

func (p *seleniumPage) Close() error {
	if p.home {
		return nil
	}
	b := p.browser
	if b.closed.Load() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs[p.handle]; !ok {
		return nil
	}
	delete(b.tabs, p.handle)
	if err := b.driver.CloseWindow(p.handle); err != nil {
		return fmt.Errorf("failed to close tab: %w", err)
	}
	if b.current == p.handle {
		b.current = ""
		_ = b.switchTo(b.home.handle)
	}
	return nil
}
