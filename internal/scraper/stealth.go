package scraper

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"engagement-scraper/internal/config"
)

//go:embed evasions.js
var evasionsScript string

// Persona is the browser identity every isolated tab presents.
type Persona struct {
	UserAgent string
	Width     int
	Height    int
	Languages []string
	Locale    string
}

func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Width:     cfg.TabWidth,
		Height:    cfg.TabHeight,
		Languages: []string{"en-US", "en"},
		Locale:    "en-US",
	}
}

func (p Persona) acceptLanguage() string {
	if len(p.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := []string{p.Languages[0]}
	for _, l := range p.Languages[1:] {
		parts = append(parts, l+";q=0.9")
	}
	return strings.Join(parts, ",")
}

// camouflage hides the usual automation telltales before the first navigation.
func camouflage(p Persona) chromedp.Tasks {
	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.acceptLanguage()),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": p.acceptLanguage()}),
	}
	if p.Width > 0 && p.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), 1, false))
	}
	return tasks
}
