package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const experienceEntrySelector = `li, .pvs-entity, [data-view-name="profile-components"], .pvs-list__item, .pvs-entity--padded`

var experienceClassPatterns = []string{
	`.pvs-list__container`,
	`.pvs-list`,
	`[data-view-name="profile-components"]`,
	`.pvs-entity`,
	`.pvs-list__item`,
	`.experience-item`,
	`.profile-section-card`,
}

var (
	dateRangeRe = regexp.MustCompile(`(?i)\d{4}\s*[-–—]\s*(\d{4}|Present|Current)`)
	yearRe      = regexp.MustCompile(`\d{4}`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
	titleAtRe   = regexp.MustCompile(`(?i)(.+?)\s+(?:at|@)\s+(.+)`)

	// Splits tried on the text block left of a date range, in order.
	dateBlockSeparators = []string{"\n", "·", "|", "•", "-", "–", "—"}
)

// blockPattern is one regular-expression reading of an entry's text.
type blockPattern struct {
	re         *regexp.Regexp
	jobIdx     int
	companyIdx int
}

var blockPatterns = []blockPattern{
	{regexp.MustCompile(`(?i)(.+?)\s+at\s+(.+?)(?:\n|$)`), 1, 2},
	{regexp.MustCompile(`(?i)(.+?)\s+@\s+(.+?)(?:\n|$)`), 1, 2},
	{regexp.MustCompile(`(?i)(.+?)\s+·\s+(.+?)(?:\n|$)`), 1, 2},
	{regexp.MustCompile(`(?i)(.+?)\s+[-–—]\s+(.+?)(?:\n|$)`), 1, 2},
	{regexp.MustCompile(`(?i)(.+?)\s+\|\s+(.+?)(?:\n|$)`), 2, 1},
	{regexp.MustCompile(`(?i)(.+?)\s+•\s+(.+?)(?:\n|$)`), 2, 1},
}

// Experience is the current position read from a profile's experience
// section. Strategy names the extractor that produced it.
type Experience struct {
	JobTitle string
	Company  string
	Strategy string
}

// ExperienceStrategy reads a title and company from one experience entry.
type ExperienceStrategy struct {
	Name    string
	Extract func(entry *goquery.Selection) (jobTitle, company string, ok bool)
}

// ExperienceStrategies are tried in order until one succeeds.
var ExperienceStrategies = []ExperienceStrategy{
	{"aria-hidden-pair", ariaHiddenPair},
	{"flex-pair", flexPair},
	{"bold-lead", boldLead},
	{"date-anchor", dateAnchor},
	{"block-pattern", blockPatternMatch},
	{"company-link", companyLink},
	{"first-fragments", firstFragments},
}

// ExtractExperience locates the experience section, takes its first entry
// and runs the strategy chain over it.
func ExtractExperience(doc *goquery.Document) (Experience, bool) {
	section := findExperienceSection(doc)
	if section == nil {
		return Experience{}, false
	}
	entry := section.Find(experienceEntrySelector).First()
	if entry.Length() == 0 {
		return Experience{}, false
	}
	for _, s := range ExperienceStrategies {
		if title, company, ok := s.Extract(entry); ok {
			return Experience{JobTitle: CleanText(title), Company: CleanText(company), Strategy: s.Name}, true
		}
	}
	return Experience{}, false
}

func findExperienceSection(doc *goquery.Document) *goquery.Selection {
	if anchor := doc.Find(`#experience, #experience-section, .experience-section`).First(); anchor.Length() > 0 {
		if section := anchor.Closest("section"); section.Length() > 0 {
			return section
		}
		return anchor
	}

	aria := doc.Find("section[aria-label]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		return strings.Contains(strings.ToLower(label), "experience")
	}).First()
	if aria.Length() > 0 {
		return aria
	}

	heading := doc.Find("h1, h2, h3, h4, h5, h6, span, div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.ToLower(CleanText(s.Text())) == "experience"
	}).First()
	if heading.Length() > 0 {
		if section := heading.Closest(`section, div[data-view-name], .pvs-list__container, .pvs-list, article`); section.Length() > 0 {
			return section
		}
		return heading.Parent()
	}

	for _, pattern := range experienceClassPatterns {
		found := doc.Find(pattern).FilterFunction(func(_ int, s *goquery.Selection) bool {
			if s.Find(`span[aria-hidden="true"]`).Length() > 0 {
				return true
			}
			text := strings.ToLower(s.Text())
			return yearRe.MatchString(text) || strings.Contains(text, "present") || strings.Contains(text, "current")
		}).First()
		if found.Length() > 0 {
			return found
		}
	}

	list := doc.Find("ul, ol, .pvs-list").FilterFunction(func(_ int, s *goquery.Selection) bool {
		item := s.Find("li, .pvs-list__item").First()
		if item.Length() == 0 {
			return false
		}
		text := item.Text()
		return strings.Contains(text, "·") || strings.Contains(text, " at ") ||
			strings.Contains(text, "@") || yearRe.MatchString(text)
	}).First()
	if list.Length() > 0 {
		return list
	}
	return nil
}

func ariaHiddenPair(entry *goquery.Selection) (string, string, bool) {
	spans := entry.Find(`span[aria-hidden="true"]`)
	if spans.Length() < 2 {
		return "", "", false
	}
	title := CleanText(spans.Eq(0).Text())
	company := CleanText(spans.Eq(1).Text())
	return title, company, title != "" && company != ""
}

func flexPair(entry *goquery.Selection) (title, company string, ok bool) {
	entry.Find(`.display-flex, .flex-row, .flex`).EachWithBreak(func(_ int, flex *goquery.Selection) bool {
		spans := flex.Find("span")
		if spans.Length() < 2 {
			return true
		}
		first, second := CleanText(spans.Eq(0).Text()), CleanText(spans.Eq(1).Text())
		if first == "" || second == "" {
			return true
		}
		switch {
		case LooksLikeJobTitle(first) && LooksLikeCompany(second):
			title, company, ok = first, second, true
		case LooksLikeCompany(first) && LooksLikeJobTitle(second):
			title, company, ok = second, first, true
		}
		return !ok
	})
	return title, company, ok
}

func boldLead(entry *goquery.Selection) (string, string, bool) {
	lead := entry.Find(`strong, b, .t-bold`).First()
	if lead.Length() == 0 {
		return "", "", false
	}
	title := CleanText(lead.Text())
	if title == "" {
		return "", "", false
	}
	container := lead.Closest(`div, li, .pvs-entity`)
	var company string
	container.Find(`span, div, .t-14, .t-normal, .t-black--light`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Contains(lead.Get(0)) {
			return true
		}
		text := CleanText(s.Text())
		if text != "" && text != title && len(text) > 2 && LooksLikeCompany(text) {
			company = text
			return false
		}
		return true
	})
	return title, company, company != ""
}

func dateAnchor(entry *goquery.Selection) (string, string, bool) {
	text := blockText(entry)
	loc := dateRangeRe.FindStringIndex(text)
	if loc == nil {
		return "", "", false
	}
	before := strings.TrimSpace(text[:loc[0]])
	parts := []string{before}
	for _, sep := range dateBlockSeparators {
		if strings.Contains(before, sep) {
			parts = nil
			for _, p := range strings.Split(before, sep) {
				if p = CleanText(p); p != "" {
					parts = append(parts, p)
				}
			}
			break
		}
	}
	switch {
	case len(parts) >= 2:
		return parts[0], parts[1], true
	case len(parts) == 1:
		if m := titleAtRe.FindStringSubmatch(parts[0]); m != nil {
			return CleanText(m[1]), CleanText(m[2]), true
		}
	}
	return "", "", false
}

func blockPatternMatch(entry *goquery.Selection) (string, string, bool) {
	text := blockText(entry)
	for _, p := range blockPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		title, company := CleanText(m[p.jobIdx]), CleanText(m[p.companyIdx])
		if len(title) > 2 && len(company) > 2 {
			return title, company, true
		}
	}
	return "", "", false
}

func companyLink(entry *goquery.Selection) (string, string, bool) {
	link := entry.Find(`a[href*="/company/"]`).First()
	if link.Length() == 0 {
		return "", "", false
	}
	company := CleanText(link.Text())
	if company == "" {
		return "", "", false
	}
	var title string
	entry.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := CleanText(s.Text())
		if text != "" && text != company && len(text) > 2 && LooksLikeJobTitle(text) {
			title = text
			return false
		}
		return true
	})
	return title, company, title != ""
}

func firstFragments(entry *goquery.Selection) (string, string, bool) {
	var fragments []string
	seen := make(map[string]bool)
	entry.Find(`span, div, .t-14, .t-bold, .t-normal`).Each(func(_ int, s *goquery.Selection) {
		text := CleanText(s.Text())
		if len(text) <= 2 || digitsRe.MatchString(text) || strings.Contains(text, "ago") || strings.Contains(text, "·") {
			return
		}
		if !seen[text] {
			seen[text] = true
			fragments = append(fragments, text)
		}
	})
	if len(fragments) < 2 {
		return "", "", false
	}
	return fragments[0], fragments[1], true
}

// blockText joins an element's text nodes with newlines, so visual lines
// survive for the separator and pattern strategies.
func blockText(s *goquery.Selection) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := CleanText(n.Data); t != "" {
				lines = append(lines, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}
