package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
	"engagement-scraper/pkg/types"
)

const sessionCookieName = "li_at"

// Markers of a logged-out page: sign-in forms and the guest auth wall.
var loginFormSelectors = []string{
	`form.login__form`,
	`form[action*="login-submit"]`,
	`input[name="session_key"]`,
	`input#username`,
	`.sign-in-form`,
	`.authwall-join-form`,
}

var authWallPathMarkers = []string{"/login", "/signin", "/authwall", "/checkpoint", "/uas/"}

// IsAuthWallURL reports whether a resolved URL is a login or challenge page.
// Markers are matched at the start of the path so profile slugs never hit.
func IsAuthWallURL(u string) bool {
	path := strings.ToLower(u)
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
	}
	if i := strings.Index(path, "/"); i >= 0 {
		path = path[i:]
	} else {
		return false
	}
	for _, m := range authWallPathMarkers {
		if strings.HasPrefix(path, m) {
			return true
		}
	}
	return false
}

// HasLoginForm reports whether a document renders a sign-in form.
func HasLoginForm(doc *goquery.Document) bool {
	for _, sel := range loginFormSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// ValidateToken checks the token's structural prefix. No network is touched.
func ValidateToken(token, prefix string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is empty", ErrInvalidSession)
	}
	if prefix != "" && !strings.HasPrefix(token, prefix) {
		return fmt.Errorf("%w: token must start with %s", ErrInvalidSession, prefix)
	}
	return nil
}

type Authenticator struct {
	browser Browser
	site    config.LinkedInConfig
	cfg     config.BrowserConfig
	pacing  config.PacingConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewAuthenticator(browser Browser, cfg *config.Config, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		browser: browser,
		site:    cfg.LinkedIn,
		cfg:     cfg.Browser,
		pacing:  cfg.Pacing,
		logger:  logger,
		now:     time.Now,
	}
}

// Bootstrap injects the session cookie and proves the session is logged in
// by loading the landing page in the home tab. The caller owns the browser.
func (a *Authenticator) Bootstrap(ctx context.Context, session types.Session) (Page, error) {
	if err := ValidateToken(session.Token, a.site.TokenPrefix); err != nil {
		return nil, err
	}
	a.logger.Infof("Bootstrapping session for %s", ownerOrDefault(session.OwnerLabel))

	err := a.browser.SetCookie(ctx, SessionCookie{
		Name:    sessionCookieName,
		Value:   strings.TrimSpace(session.Token),
		Domain:  a.site.CookieDomain,
		Expires: a.now().AddDate(1, 0, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set session cookie: %w", err)
	}

	home, err := a.browser.Home(ctx)
	if err != nil {
		return nil, err
	}

	landing := strings.TrimRight(a.site.BaseURL, "/") + a.site.LandingPath
	navCtx, cancel := context.WithTimeout(ctx, a.cfg.LandingTimeoutDuration())
	err = home.Navigate(navCtx, landing)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to load landing page: %w", err)
	}
	if err := sleep(ctx, a.pacing.LandingSettle()); err != nil {
		return nil, err
	}

	current, err := home.URL(ctx)
	if err != nil {
		return nil, err
	}
	if IsAuthWallURL(current) {
		return nil, fmt.Errorf("%w: redirected to %s", ErrLoginRejected, current)
	}
	doc, err := snapshot(ctx, home, "")
	if err != nil {
		return nil, err
	}
	if HasLoginForm(doc) {
		return nil, fmt.Errorf("%w: landing page shows a sign-in form", ErrLoginRejected)
	}

	a.logger.Info("Login successful")
	return home, nil
}

func ownerOrDefault(owner string) string {
	if owner == "" {
		return "unnamed session"
	}
	return owner
}
