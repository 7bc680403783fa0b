package scraper

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

const profileCardSelector = `.pv-top-card, .profile-card, .top-card-layout`

var profileNameSelectors = []string{
	`h1`,
	`.top-card-layout__title`,
	`.pv-top-card--list .t-24`,
	`.profile-card__content h1`,
	`.pv-top-card-v2-section__name`,
	`[data-anonymize="person-name"]`,
}

var profileHeadlineSelectors = []string{
	`.text-body-medium`,
	`.top-card-layout__headline`,
	`.pv-top-card--list .pv-top-card__headline`,
	`.profile-card__headline`,
	`.profile-headline`,
	`.pv-top-card-v2-section__headline`,
	`[data-anonymize="headline"]`,
	`.mt2 .text-body-medium`,
}

var currentCompanySelectors = []string{
	`button[aria-label*="Current company"]`,
	`button[aria-label*="company"]`,
	`.pv-text-details__right-panel-item-link`,
	`.inline-show-more-text--full`,
	`.pv-text-details__right-panel-item-text`,
}

var pageTitleNameRe = regexp.MustCompile(`(?i)^(.+?)\s*\|\s*(?:LinkedIn|Linked In)`)

// TopCard is the raw header of a profile page.
type TopCard struct {
	Name     string
	Headline string
	// CurrentCompany is the text of the dedicated current-company control.
	CurrentCompany string
}

// ParseTopCard reads the profile header from a page snapshot.
func ParseTopCard(doc *goquery.Document) TopCard {
	card := TopCard{
		Name:           firstText(doc.Selection, profileNameSelectors),
		Headline:       firstText(doc.Selection, profileHeadlineSelectors),
		CurrentCompany: currentCompany(doc),
	}
	if card.Name == "" {
		if content, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			card.Name = strings.TrimSpace(strings.Split(content, " | ")[0])
		}
	}
	if card.Name == "" {
		if m := pageTitleNameRe.FindStringSubmatch(CleanText(doc.Find("title").First().Text())); m != nil {
			card.Name = strings.TrimSpace(m[1])
		}
	}
	return card
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := CleanText(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func currentCompany(doc *goquery.Document) string {
	for _, sel := range currentCompanySelectors {
		el := doc.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		text := CleanText(el.Text())
		if !IsPlaceholder(text) && len(text) > 1 && len(text) < 50 &&
			!strings.Contains(text, "linkedin") && !strings.Contains(text, "profile") {
			return text
		}
		label, ok := el.Attr("aria-label")
		if !ok {
			continue
		}
		if company := CompanyFromAriaLabel(label); company != "" {
			return company
		}
		if label = CleanText(label); label != "" && len(label) < 50 && !strings.Contains(label, "linkedin") {
			return label
		}
	}
	return ""
}

// Position is a resolved job title and company. Empty means unresolved.
type Position struct {
	JobTitle string
	Company  string
}

// NeedsExperience reports whether the experience section must be consulted:
// a field is missing or the title still carries its employer.
func (p Position) NeedsExperience() bool {
	return IsPlaceholder(p.JobTitle) || p.Company == "" || HasCombinedField(p.JobTitle)
}

// ResolvePosition derives a position from the top card. The dedicated
// company control wins over any company read from the headline, and a
// headline candidate is only accepted once it passes company validation.
func ResolvePosition(card TopCard) Position {
	title, headlineCompany := ParseHeadline(card.Headline)
	company := CleanCompany(card.CurrentCompany)
	if company == "" {
		company = headlineCompany
	}
	return Position{JobTitle: title, Company: company}
}

// MergeExperience fills only the fields the top card left missing.
func MergeExperience(p Position, exp Experience) Position {
	if p.Company == "" && !IsPlaceholder(exp.Company) {
		p.Company = CleanCompany(exp.Company)
	}
	if IsPlaceholder(p.JobTitle) && !IsPlaceholder(exp.JobTitle) {
		p.JobTitle = exp.JobTitle
	}
	return p
}

// Finalize truncates an embedded employer and applies the sentinel.
func (p Position) Finalize() Position {
	if HasCombinedField(p.JobTitle) {
		p.JobTitle = TruncateCombinedField(p.JobTitle)
	}
	return Position{
		JobTitle: OrNotSpecified(p.JobTitle),
		Company:  OrNotSpecified(p.Company),
	}
}

// Enricher visits identity profiles and extracts their professional fields.
type Enricher struct {
	nav         *Navigator
	policy      utils.RetryPolicy
	cardTimeout time.Duration
	scrolls     int
	increment   int
	pacing      config.PacingConfig
	logger      *logrus.Logger
}

func NewEnricher(nav *Navigator, cfg *config.Config, logger *logrus.Logger) *Enricher {
	return &Enricher{
		nav: nav,
		policy: utils.RetryPolicy{
			Attempts: cfg.Scraper.RetryAttempts,
			Delay:    cfg.Pacing.RetryBackoff(),
		},
		cardTimeout: cfg.Browser.ProfileCardTimeoutDuration(),
		scrolls:     cfg.Scraper.ExperienceScrolls,
		increment:   cfg.Scraper.ScrollIncrement,
		pacing:      cfg.Pacing,
		logger:      logger,
	}
}

// Enrich never fails a batch: exhausted retries, auth walls and missing
// pages all yield a degraded profile. Only cancellation is returned.
func (e *Enricher) Enrich(ctx context.Context, ref types.IdentityReference) (types.EnrichedProfile, error) {
	onRetry := func(attempt int, err error) {
		e.logger.Warnf("Attempt %d/%d for %s failed: %v", attempt, e.policy.Attempts, ref.ProfileURL, err)
	}
	profile, err := utils.Retry(ctx, e.policy, IsRetryable, onRetry, func(ctx context.Context) (types.EnrichedProfile, error) {
		return e.attempt(ctx, ref)
	})
	if err == nil {
		return profile, nil
	}
	if ctx.Err() != nil {
		return types.EnrichedProfile{}, ctx.Err()
	}

	switch {
	case errors.Is(err, ErrAuthWall):
		e.logger.Warnf("Redirected to sign-in for %s, using URL fallback", ref.ProfileURL)
	case errors.Is(err, ErrNotFound):
		e.logger.Warnf("Profile %s not found, using URL fallback", ref.ProfileURL)
	default:
		e.logger.Errorf("Failed to enrich %s: %v", ref.ProfileURL, err)
	}
	return DegradedProfile(ref), nil
}

// DegradedProfile is the record kept when a profile could not be read.
func DegradedProfile(ref types.IdentityReference) types.EnrichedProfile {
	return types.EnrichedProfile{
		Name:         NameFromURL(ref.ProfileURL),
		JobTitle:     types.NotSpecified,
		Company:      types.NotSpecified,
		ProfileURL:   ref.ProfileURL,
		DiscoveredAt: ref.DiscoveredAt,
		Degraded:     true,
	}
}

func (e *Enricher) attempt(ctx context.Context, ref types.IdentityReference) (types.EnrichedProfile, error) {
	page, err := e.nav.Open(ctx, ref.ProfileURL, 0)
	if err != nil {
		return types.EnrichedProfile{}, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			e.logger.Warnf("Failed to close profile tab: %v", err)
		}
	}()

	if err := page.WaitFor(ctx, profileCardSelector, e.cardTimeout); err != nil {
		if !errors.Is(err, ErrElementMissing) {
			return types.EnrichedProfile{}, err
		}
		e.logger.Debugf("Profile card not found on %s, waiting a bit more", ref.ProfileURL)
		if err := sleep(ctx, e.pacing.PageSettle()); err != nil {
			return types.EnrichedProfile{}, err
		}
	}
	if err := sleep(ctx, e.pacing.ProfileSettle()); err != nil {
		return types.EnrichedProfile{}, err
	}

	doc, err := snapshot(ctx, page, "")
	if err != nil {
		return types.EnrichedProfile{}, err
	}
	card := ParseTopCard(doc)
	position := ResolvePosition(card)

	if position.NeedsExperience() {
		e.logger.Debugf("Company or job title missing for %s, checking experience section", ref.ProfileURL)
		exp, ok, err := e.experience(ctx, page)
		if err != nil {
			return types.EnrichedProfile{}, err
		}
		if ok {
			e.logger.Debugf("Experience strategy %s matched", exp.Strategy)
			position = MergeExperience(position, exp)
		}
	}
	position = position.Finalize()

	name := CleanName(card.Name)
	if name == types.NotSpecified {
		name = ref.Name
	}
	if IsPlaceholder(name) {
		name = NameFromURL(ref.ProfileURL)
	}

	e.logger.Infof("Extracted: %q | Job: %q | Company: %q", name, position.JobTitle, position.Company)
	return types.EnrichedProfile{
		Name:         name,
		JobTitle:     position.JobTitle,
		Company:      position.Company,
		ProfileURL:   ref.ProfileURL,
		DiscoveredAt: ref.DiscoveredAt,
	}, nil
}

// experience scrolls the lazily rendered sections into the DOM first.
func (e *Enricher) experience(ctx context.Context, page Page) (Experience, bool, error) {
	for i := 0; i < e.scrolls; i++ {
		if err := page.ScrollWindow(ctx, e.increment); err != nil {
			return Experience{}, false, err
		}
		if err := sleep(ctx, e.pacing.ExperienceScroll()); err != nil {
			return Experience{}, false, err
		}
	}
	doc, err := snapshot(ctx, page, "")
	if err != nil {
		return Experience{}, false, err
	}
	exp, ok := ExtractExperience(doc)
	return exp, ok, nil
}
