package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
	"engagement-scraper/pkg/types"
)

const (
	overlaySelector       = `.artdeco-modal, [role="dialog"]`
	identityLinkSelector  = `a[href*="/in/"], a[data-control-name="profile"], [data-anonymize="person-name"] a, .reactions-modal__list-item a`
	nameContainerSelector = `.artdeco-entity-lockup, .reactors__profile-item, li, .profile-item, .feed-shared-actor, .reactions-modal__list-item`
	nameSelector          = `.artdeco-entity-lockup__title, .reactors__profile-name, .profile-item-title, h3, .feed-shared-actor__name, .reactions-modal__profile-name`
)

var overlayScrollSelectors = []string{
	`.artdeco-modal__content`,
	`.reactions-modal__list`,
	`.overflow-auto`,
	`.modal__content`,
	`[role="dialog"]`,
}

var overlayCloseSelectors = []string{
	`.artdeco-modal__dismiss`,
	`button[aria-label="Dismiss"]`,
	`button[aria-label="Close"]`,
	`.artdeco-modal__close-button`,
	`button[data-control-name="overlay.close"]`,
}

type HarvestState int

const (
	HarvestIdle HarvestState = iota
	HarvestTriggering
	HarvestWaitingForOverlay
	HarvestScrolling
	HarvestExtracting
	HarvestDone
	HarvestFailed
)

func (s HarvestState) String() string {
	switch s {
	case HarvestIdle:
		return "idle"
	case HarvestTriggering:
		return "triggering"
	case HarvestWaitingForOverlay:
		return "waiting_for_overlay"
	case HarvestScrolling:
		return "scrolling"
	case HarvestExtracting:
		return "extracting"
	case HarvestDone:
		return "done"
	case HarvestFailed:
		return "failed"
	}
	return fmt.Sprintf("HarvestState(%d)", int(s))
}

// Harvester opens a reactions overlay and collects the identities in it.
type Harvester struct {
	baseURL        string
	maxAttempts    int
	stallLimit     int
	increment      int
	overlayTimeout time.Duration
	pacing         config.PacingConfig
	logger         *logrus.Logger
	now            func() time.Time

	// OnState, when set, observes every state transition.
	OnState func(HarvestState)
}

func NewHarvester(cfg *config.Config, logger *logrus.Logger) *Harvester {
	return &Harvester{
		baseURL:        cfg.LinkedIn.BaseURL,
		maxAttempts:    cfg.Scraper.MaxScrollAttempts,
		stallLimit:     cfg.Scraper.StallLimit,
		increment:      cfg.Scraper.ScrollIncrement,
		overlayTimeout: cfg.Browser.OverlayTimeoutDuration(),
		pacing:         cfg.Pacing,
		logger:         logger,
		now:            time.Now,
	}
}

func (h *Harvester) transition(s HarvestState) {
	h.logger.Debugf("Harvester state: %s", s)
	if h.OnState != nil {
		h.OnState(s)
	}
}

// Harvest clicks source's affordance, scrolls the overlay until target
// identities are loaded or loading stops, and returns them de-duplicated by
// profile URL. The overlay is dismissed on every path once it opened.
func (h *Harvester) Harvest(ctx context.Context, page Page, source types.EngagementSource, target int) ([]types.IdentityReference, error) {
	h.transition(HarvestIdle)
	refs, err := h.harvest(ctx, page, source, target)
	if err != nil {
		h.transition(HarvestFailed)
		return nil, err
	}
	h.transition(HarvestDone)
	return refs, nil
}

func (h *Harvester) harvest(ctx context.Context, page Page, source types.EngagementSource, target int) ([]types.IdentityReference, error) {
	h.transition(HarvestTriggering)
	sel := fmt.Sprintf(`[%s="%d"]`, likeIndexAttr, source.Index)
	if err := page.Reveal(ctx, sel); err != nil {
		return nil, fmt.Errorf("failed to reveal affordance: %w", err)
	}
	if err := sleep(ctx, h.pacing.ClickSettle()); err != nil {
		return nil, err
	}
	// The counter is often an anchor to a reactions page; keep the overlay in place.
	if err := page.Click(ctx, sel, true); err != nil {
		return nil, fmt.Errorf("failed to click affordance: %w", err)
	}
	if err := sleep(ctx, h.pacing.AfterClick()); err != nil {
		return nil, err
	}

	h.transition(HarvestWaitingForOverlay)
	if err := page.WaitFor(ctx, overlaySelector, h.overlayTimeout); err != nil {
		if errors.Is(err, ErrElementMissing) {
			return nil, fmt.Errorf("%w after %s", ErrNoOverlay, h.overlayTimeout)
		}
		return nil, err
	}
	defer h.dismiss(ctx, page)
	if err := sleep(ctx, h.pacing.OverlaySettle()); err != nil {
		return nil, err
	}

	h.transition(HarvestScrolling)
	if err := h.scroll(ctx, page, target); err != nil {
		return nil, err
	}
	if err := sleep(ctx, h.pacing.BeforeExtract()); err != nil {
		return nil, err
	}

	h.transition(HarvestExtracting)
	doc, err := snapshot(ctx, page, overlaySelector)
	if err != nil {
		return nil, err
	}
	refs := ExtractIdentities(doc, h.baseURL, h.now())
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: overlay held no profile links", ErrExtractionEmpty)
	}
	if target > 0 && len(refs) > target {
		refs = refs[:target]
	}
	h.logger.Infof("Harvested %d unique profiles from %s's post", len(refs), source.AuthorName)
	return refs, nil
}

// scroll stops at the first of: target reached, stallLimit consecutive
// measurements without growth, or maxAttempts.
func (h *Harvester) scroll(ctx context.Context, page Page, target int) error {
	previous, stalls := 0, 0
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		count, err := h.measure(ctx, page)
		if err != nil {
			return err
		}
		h.logger.Debugf("Scroll %d/%d: %d profiles loaded", attempt+1, h.maxAttempts, count)

		if target > 0 && count >= target {
			h.logger.Debugf("Reached target count %d/%d", count, target)
			return nil
		}
		if count == previous {
			stalls++
			if stalls >= h.stallLimit {
				h.logger.Debugf("No new profiles after %d scrolls, stopping", stalls)
				return nil
			}
		} else {
			stalls = 0
		}
		previous = count

		if err := page.ScrollWithin(ctx, overlayScrollSelectors, h.increment); err != nil {
			return fmt.Errorf("failed to scroll overlay: %w", err)
		}
		if err := sleep(ctx, h.pacing.OverlayScroll()); err != nil {
			return err
		}
	}
	return nil
}

// measure counts distinct profile URLs currently rendered in the overlay.
func (h *Harvester) measure(ctx context.Context, page Page) (int, error) {
	doc, err := snapshot(ctx, page, overlaySelector)
	if errors.Is(err, ErrElementMissing) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	doc.Find(identityLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !IsProfileURL(href) {
			return
		}
		if u := CanonicalProfileURL(href, h.baseURL); u != "" {
			seen[u] = struct{}{}
		}
	})
	return len(seen), nil
}

func (h *Harvester) dismiss(ctx context.Context, page Page) {
	if ctx.Err() != nil {
		return
	}
	if err := page.Dismiss(ctx, overlayCloseSelectors); err != nil {
		h.logger.Warnf("Failed to dismiss overlay: %v", err)
		return
	}
	_ = sleep(ctx, h.pacing.DismissSettle())
}

// ExtractIdentities reads identity links from an overlay snapshot, in DOM
// order, keyed by canonical profile URL.
func ExtractIdentities(doc *goquery.Document, baseURL string, now time.Time) []types.IdentityReference {
	var refs []types.IdentityReference
	index := make(map[string]int)
	fromURL := make(map[string]bool)

	doc.Find(identityLinkSelector).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if !IsProfileURL(href) {
			return
		}
		profileURL := CanonicalProfileURL(href, baseURL)
		if profileURL == "" {
			return
		}

		name, derived := identityName(link, profileURL)
		if i, ok := index[profileURL]; ok {
			if fromURL[profileURL] && !derived {
				refs[i].Name = name
				fromURL[profileURL] = false
			}
			return
		}
		index[profileURL] = len(refs)
		fromURL[profileURL] = derived
		refs = append(refs, types.IdentityReference{
			Name:         name,
			ProfileURL:   profileURL,
			DiscoveredAt: now,
		})
	})
	return refs
}

// identityName tries the list item's name element, then the link itself,
// then the URL slug. derived reports the last case.
func identityName(link *goquery.Selection, profileURL string) (name string, derived bool) {
	candidates := []string{}
	if container := link.Closest(nameContainerSelector); container.Length() > 0 {
		el := container.Find(nameSelector).First()
		// Visible name first; the hidden copy carries "View X's profile".
		candidates = append(candidates, el.Find(`span[aria-hidden="true"]`).First().Text(), el.Text())
	}
	label, _ := link.Attr("aria-label")
	candidates = append(candidates, link.Text(), label)

	for _, c := range candidates {
		cleaned := CleanName(c)
		if cleaned != types.NotSpecified && cleaned != "LinkedIn Member" && len([]rune(cleaned)) > 1 {
			return cleaned, false
		}
	}
	return NameFromURL(profileURL), true
}
