package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

// Layout experiments change which counter is rendered, so all are scanned.
var reactionCountSelectors = []string{
	`.feed-shared-social-counts a[href*="reactions"]`,
	`button[data-control-name*="likes"]`,
	`.social-details-social-counts__count`,
	`.social-details-social-counts__reactions-count`,
	`a[href*="reactions"] span`,
	`.feed-shared-social-action__count`,
}

var reactionCountSelector = strings.Join(reactionCountSelectors, ", ")

const (
	likeIndexAttr           = "data-like-index"
	postContainerSelector   = ".feed-shared-update-v2, .scaffold-layout__list-item, article"
	postAuthorSelector      = ".feed-shared-actor__name, .update-components-actor__name"
	postAuthorLinkSelector  = ".update-components-actor__meta-link, .feed-shared-actor__container-link, a.app-aware-link[href*=\"/in/\"]"
	postTextSelector        = ".feed-shared-update-v2__description, .update-components-text, .feed-shared-text, .feed-shared-inline-show-more-text"
	commentsCountSelector   = ".social-details-social-counts__comments, button[aria-label*=\"comment\"]"
	repostsCountSelector    = ".social-details-social-counts__item--right-aligned button[aria-label*=\"repost\"], button[aria-label*=\"repost\"]"
	commentItemSelector     = ".comments-comment-item, .comments-comment-entity, article.comments-comment-item"
	commentAuthorSelector   = ".comments-post-meta__name-text, .comments-comment-meta__description-title"
	commentAuthorLink       = "a.comments-post-meta__actor-link, a.comments-comment-meta__image-link, a[href*=\"/in/\"]"
	commentHeadlineSelector = ".comments-post-meta__headline, .comments-comment-meta__description-subtitle"
	commentTextSelector     = ".comments-comment-item__main-content, .comments-comment-item-content-body, .update-components-text"
	commentTimeSelector     = "time, .comments-comment-meta__data"
	commentReactSelector    = ".comments-comment-social-bar__reactions-count"
	contentSummaryLimit     = 200
)

// Discoverer finds reaction-count affordances on a loaded page.
type Discoverer struct {
	baseURL string
	steps   int
	pacing  config.PacingConfig
	logger  *logrus.Logger
}

func NewDiscoverer(cfg *config.Config, logger *logrus.Logger) *Discoverer {
	return &Discoverer{
		baseURL: cfg.LinkedIn.BaseURL,
		steps:   cfg.Scraper.FeedScrollSteps,
		pacing:  cfg.Pacing,
		logger:  logger,
	}
}

// Discover scrolls the page in stages so it renders its posts, then returns
// the accepted affordances in DOM order, each tagged for later clicks. The
// parsed snapshot is returned for comment and post extraction.
func (d *Discoverer) Discover(ctx context.Context, page Page) ([]types.EngagementSource, *goquery.Document, error) {
	for i := 0; i < d.steps; i++ {
		d.logger.Debugf("Staged scroll %d/%d", i+1, d.steps)
		if err := page.ScrollViewport(ctx, 0.8); err != nil {
			return nil, nil, fmt.Errorf("failed to scroll page: %w", err)
		}
		if err := sleep(ctx, d.pacing.FeedScroll()); err != nil {
			return nil, nil, err
		}
	}

	doc, err := snapshot(ctx, page, "")
	if err != nil {
		return nil, nil, err
	}
	sources, positions := ScanAffordances(doc, d.baseURL)
	if len(positions) > 0 {
		if err := page.Tag(ctx, reactionCountSelector, likeIndexAttr, positions); err != nil {
			return nil, nil, err
		}
	}
	d.logger.Infof("Found %d posts with reactions", len(sources))
	return sources, doc, nil
}

// ScanAffordances applies the acceptance rules to a snapshot. positions[i]
// is the DOM-order position, within the union of counter selectors, of
// sources[i].
func ScanAffordances(doc *goquery.Document, baseURL string) (sources []types.EngagementSource, positions []int) {
	accepted := make(map[*html.Node]bool)
	doc.Find(reactionCountSelector).Each(func(pos int, s *goquery.Selection) {
		count := ParseCount(CleanText(s.Text()))
		if count <= 0 || !isInteractive(s) || insideAccepted(s, accepted) {
			return
		}
		accepted[s.Get(0)] = true
		post := s.Closest(postContainerSelector)
		author, authorURL := postAuthor(post, baseURL)
		summary := truncate(CleanText(post.Find(postTextSelector).First().Text()), contentSummaryLimit)
		if summary == "" {
			summary = fmt.Sprintf("Post with %d likes", count)
		}
		// Mirror the live tag so the snapshot can be queried the same way.
		s.SetAttr(likeIndexAttr, strconv.Itoa(len(sources)))
		sources = append(sources, types.EngagementSource{
			Index:            len(sources),
			AuthorName:       author,
			AuthorProfileURL: authorURL,
			ReactionCount:    count,
			ContentSummary:   summary,
		})
		positions = append(positions, pos)
	})
	return sources, positions
}

// insideAccepted reports whether s is the inner count of a counter that
// already produced a source, which would double-count one post.
func insideAccepted(s *goquery.Selection, accepted map[*html.Node]bool) bool {
	for _, n := range s.ParentsFiltered(reactionCountSelector).Nodes {
		if accepted[n] {
			return true
		}
	}
	return false
}

func isInteractive(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "a", "button":
		return true
	}
	return s.Closest("a, button").Length() > 0
}

func postAuthor(post *goquery.Selection, baseURL string) (name, profileURL string) {
	name = types.UnknownAuthor
	if post.Length() == 0 {
		return name, ""
	}
	el := post.Find(postAuthorSelector).First()
	if el.Length() > 0 {
		// The actor name repeats itself for screen readers.
		text := CleanText(el.Find(`span[aria-hidden="true"]`).First().Text())
		if text == "" {
			text = CleanText(el.Text())
		}
		if cleaned := CleanName(text); cleaned != types.NotSpecified {
			name = cleaned
		}
	}
	link := el.Closest("a")
	if link.Length() == 0 {
		link = post.Find(postAuthorLinkSelector).First()
	}
	if href, ok := link.Attr("href"); ok {
		profileURL = absoluteURL(href, baseURL)
	}
	return name, profileURL
}

// ExtractComments reads the rendered comment items of a post page.
func ExtractComments(doc *goquery.Document, baseURL string, now time.Time) []types.CommentRecord {
	var comments []types.CommentRecord
	doc.Find(commentItemSelector).Each(func(_ int, s *goquery.Selection) {
		// Replies are nested items; the outer item already covers them.
		if s.ParentsFiltered(commentItemSelector).Length() > 0 {
			return
		}
		text := CleanText(s.Find(commentTextSelector).First().Text())
		if text == "" {
			return
		}
		c := types.CommentRecord{
			AuthorName:     CleanName(s.Find(commentAuthorSelector).First().Text()),
			AuthorHeadline: CleanText(s.Find(commentHeadlineSelector).First().Text()),
			Text:           text,
			PostedAgo:      CleanText(s.Find(commentTimeSelector).First().Text()),
			ReactionCount:  ParseCount(s.Find(commentReactSelector).First().Text()),
		}
		if href, ok := s.Find(commentAuthorLink).First().Attr("href"); ok {
			if canonical := CanonicalProfileURL(href, baseURL); canonical != "" {
				c.AuthorProfileURL = canonical
			} else {
				c.AuthorProfileURL = absoluteURL(href, baseURL)
			}
		}
		if c.AuthorName == types.NotSpecified && c.AuthorProfileURL != "" {
			c.AuthorName = NameFromURL(c.AuthorProfileURL)
		}
		if t, ok := utils.ParseRelativeAge(c.PostedAgo, now); ok {
			c.PostedAt = t
		}
		comments = append(comments, c)
	})
	return comments
}

// ExtractPost describes the primary post: the container of the first
// affordance, or the first post container on the page.
func ExtractPost(doc *goquery.Document, pageURL, baseURL string, sources []types.EngagementSource) *types.PostRecord {
	post := doc.Find(fmt.Sprintf(`[%s="0"]`, likeIndexAttr)).Closest(postContainerSelector)
	if post.Length() == 0 {
		post = doc.Find(postContainerSelector).First()
	}
	if post.Length() == 0 && len(sources) == 0 {
		return nil
	}
	author, authorURL := postAuthor(post, baseURL)
	rec := &types.PostRecord{
		URL:              pageURL,
		AuthorName:       author,
		AuthorProfileURL: authorURL,
		Content:          CleanText(post.Find(postTextSelector).First().Text()),
		CommentsCount:    ParseCount(post.Find(commentsCountSelector).First().Text()),
		RepostsCount:     ParseCount(post.Find(repostsCountSelector).First().Text()),
	}
	if len(sources) > 0 {
		rec.ReactionCount = sources[0].ReactionCount
		if rec.AuthorName == types.UnknownAuthor {
			rec.AuthorName = sources[0].AuthorName
			rec.AuthorProfileURL = sources[0].AuthorProfileURL
		}
		if rec.Content == "" {
			rec.Content = sources[0].ContentSummary
		}
	}
	if urn, ok := post.Attr("data-urn"); ok && strings.HasPrefix(urn, "urn:li:activity:") {
		rec.URL = strings.TrimRight(baseURL, "/") + "/feed/update/" + urn + "/"
	}
	return rec
}

func absoluteURL(href, baseURL string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		b, err := url.Parse(baseURL)
		if err != nil {
			return ""
		}
		u = b.ResolveReference(u)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
