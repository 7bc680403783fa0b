package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tebeka/selenium"

	"engagement-scraper/internal/config"
)

// stubDriver implements the few WebDriver calls page navigation makes. When
// hold is set, Get blocks until the session is quit, like a page that never
// finishes loading.
type stubDriver struct {
	selenium.WebDriver

	hold     bool
	quit     chan struct{}
	quitOnce sync.Once
	loading  chan struct{}
	loadOnce sync.Once

	mu      sync.Mutex
	scripts []string
}

func newStubDriver(hold bool) *stubDriver {
	return &stubDriver{hold: hold, quit: make(chan struct{}), loading: make(chan struct{})}
}

func (d *stubDriver) SetPageLoadTimeout(time.Duration) error { return nil }

func (d *stubDriver) Get(url string) error {
	d.loadOnce.Do(func() { close(d.loading) })
	if d.hold {
		<-d.quit
		return errors.New("invalid session id")
	}
	return nil
}

func (d *stubDriver) ExecuteScript(script string, args []interface{}) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = append(d.scripts, script)
	return nil, nil
}

func (d *stubDriver) Quit() error {
	d.quitOnce.Do(func() { close(d.quit) })
	return nil
}

func TestSeleniumCloseInterruptsNavigation(t *testing.T) {
	d := newStubDriver(true)
	b := newSeleniumBrowser(d, "home", config.Default().Browser, testLogger)
	page, err := b.Home(context.Background())
	require.NoError(t, err)

	navErr := make(chan error, 1)
	go func() { navErr <- page.Navigate(context.Background(), "https://www.linkedin.com/feed") }()
	<-d.loading

	closeErr := make(chan error, 1)
	go func() { closeErr <- b.Close() }()
	select {
	case err := <-closeErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close waited for the in-flight navigation")
	}
	select {
	case err := <-navErr:
		require.ErrorIs(t, err, ErrBrowserClosed)
	case <-time.After(time.Second):
		t.Fatal("navigation did not end with the session")
	}

	assert.Zero(t, b.OpenTabs())
	_, err = b.Home(context.Background())
	require.ErrorIs(t, err, ErrBrowserClosed)
	require.ErrorIs(t, page.Navigate(context.Background(), "https://www.linkedin.com/feed"), ErrBrowserClosed)
}

func TestSeleniumNavigateAppliesEvasions(t *testing.T) {
	d := newStubDriver(false)
	b := newSeleniumBrowser(d, "home", config.Default().Browser, testLogger)
	page, err := b.Home(context.Background())
	require.NoError(t, err)

	require.NoError(t, page.Navigate(context.Background(), "https://www.linkedin.com/feed"))
	require.NoError(t, page.Navigate(context.Background(), "https://www.linkedin.com/in/jane/"))

	d.mu.Lock()
	assert.Equal(t, []string{evasionsScript, evasionsScript}, d.scripts, "every new document is camouflaged")
	d.mu.Unlock()
	require.NoError(t, b.Close())
}
