package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"engagement-scraper/pkg/types"
)

// Separators tried, in order, when a headline or experience line packs a job
// title and an employer into one string.
var HeadlineSeparators = []string{" at ", " @ ", " · ", " - ", " | ", " • ", " / ", " , "}

// combinedFieldSeparators mark a job title that still carries its employer.
var combinedFieldSeparators = []string{" at ", " @ "}

var companyLexicon = []string{
	"inc", "ltd", "llc", "corp", "corporation", "company",
	"group", "solutions", "technologies", "systems", "services",
	"consulting", "associates", "partners", "limited", "global",
	"industries", "holdings", "enterprises", "labs", "studio",
	"agency", "firm", "office", "institute", "university", "college",
	"school", "hospital", "clinic", "bank", "financial", "insurance",
	"healthcare", "pharma", "biotech", "software", "hardware", "networks",
}

// jobRoleStems match as word prefixes, so "Engineering" and "Leadership"
// count as role words too.
var jobRoleStems = []string{
	"engineer", "developer", "manag", "director", "specialist",
	"analyst", "consultant", "associate", "lead", "head", "chief",
	"officer", "coordinator", "assistant", "representative", "supervis",
	"architect", "design", "administrat", "technician", "scientist",
	"research", "instructor", "teacher", "professor", "president",
	"partner", "principal", "senior", "junior",
	"staff", "trainee", "apprentice", "fellow",
}

// jobRoleWords are too short to match by prefix ("intern" would veto
// "International").
var jobRoleWords = []string{"intern", "interns", "internship", "vp", "vice president"}

var (
	companyLexiconRe = lexiconRegexp(companyLexicon)
	jobRoleLexiconRe = roleRegexp(jobRoleStems, jobRoleWords)

	employmentTypes      = `Full[- ]?time|Part[- ]?time|Contract|Freelance|Self[- ]?employed|Internship|Trainee|Apprenticeship|Volunteer|Temporary|Seasonal|Remote|Hybrid`
	employmentSuffixRe   = regexp.MustCompile(`(?i)·\s*(` + employmentTypes + `)\s*`)
	employmentOnlyRe     = regexp.MustCompile(`(?i)^(` + employmentTypes + `)$`)
	trailingSeparatorRe  = regexp.MustCompile(`\s*[·\-–—|]\s*$`)
	viewSuffixRe         = regexp.MustCompile(`(?i)\bView\s`)
	trailingEllipsisRe   = regexp.MustCompile(`(\.{3,}|…)$`)
	whitespaceRe         = regexp.MustCompile(`\s+`)
	opaqueMemberIDRe     = regexp.MustCompile(`^[A-Z0-9]+$`)
	currentCompanyAriaRe = regexp.MustCompile(`(?i)Current company:\s*([^.]+)`)
	positiveIntegerRe    = regexp.MustCompile(`\d[\d,.]*(?:\s?[KkMm]\b)?`)
)

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func lexiconRegexp(words []string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + alternation(words) + `)\b`)
}

func roleRegexp(stems, words []string) *regexp.Regexp {
	return regexp.MustCompile(`\b(` + alternation(stems) + `)\w*|\b(` + alternation(words) + `)\b`)
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// IsPlaceholder reports whether a field value carries no information.
func IsPlaceholder(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "--", "-", types.NotSpecified, "flex":
		return true
	}
	return false
}

// OrNotSpecified normalizes an empty or placeholder value to the sentinel.
func OrNotSpecified(s string) string {
	if IsPlaceholder(s) {
		return types.NotSpecified
	}
	return strings.TrimSpace(s)
}

// LooksLikeCompany judges whether a fragment names an organization. Role words
// veto the capitalization heuristic but never a lexicon hit.
func LooksLikeCompany(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < 2 || n > 60 {
		return false
	}
	lower := strings.ToLower(text)
	if companyLexiconRe.MatchString(lower) {
		return true
	}
	if employmentOnlyRe.MatchString(text) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text)
	if !unicode.IsUpper(first) || n < 3 {
		return false
	}
	return !jobRoleLexiconRe.MatchString(lower)
}

// LooksLikeJobTitle is deliberately permissive: any short fragment qualifies
// unless it is clearly something else.
func LooksLikeJobTitle(text string) bool {
	text = strings.TrimSpace(text)
	if jobRoleLexiconRe.MatchString(strings.ToLower(text)) {
		return true
	}
	n := utf8.RuneCountInString(text)
	return n > 2 && n < 60
}

// CleanCompany strips employment-type qualifiers ("· Full-time", "· Remote")
// and dangling separators. A bare qualifier cleans to the empty string.
func CleanCompany(raw string) string {
	if IsPlaceholder(raw) {
		return ""
	}
	cleaned := strings.TrimSpace(employmentSuffixRe.ReplaceAllString(raw, " "))
	cleaned = strings.TrimSpace(trailingSeparatorRe.ReplaceAllString(cleaned, ""))
	cleaned = CleanText(cleaned)
	if employmentOnlyRe.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// CleanName removes trailing "View ..." UI text and ellipses.
func CleanName(raw string) string {
	name := CleanText(raw)
	if loc := viewSuffixRe.FindStringIndex(name); loc != nil {
		name = strings.TrimSpace(name[:loc[0]])
	}
	name = strings.TrimSpace(trailingEllipsisRe.ReplaceAllString(name, ""))
	if name == "" {
		return types.NotSpecified
	}
	return name
}

// ParseHeadline splits a headline into a job title and a validated company.
// The title is the text before the first separator present; the company is
// the first candidate after any separator that survives CleanCompany and
// LooksLikeCompany. Without a separator the whole headline is the title.
func ParseHeadline(headline string) (jobTitle, company string) {
	headline = CleanText(headline)
	if IsPlaceholder(headline) {
		return "", ""
	}
	jobTitle = headline
	for _, sep := range HeadlineSeparators {
		if idx := strings.Index(headline, sep); idx > 0 {
			jobTitle = strings.TrimSpace(headline[:idx])
			break
		}
	}
	return jobTitle, ExtractCompanyFromHeadline(headline)
}

// ExtractCompanyFromHeadline scans every separator and returns the first
// candidate that passes validation, or "".
func ExtractCompanyFromHeadline(headline string) string {
	for _, sep := range HeadlineSeparators {
		idx := strings.Index(headline, sep)
		if idx <= 0 {
			continue
		}
		candidate := CleanCompany(headline[idx+len(sep):])
		if LooksLikeCompany(candidate) {
			return candidate
		}
	}
	return ""
}

// HasCombinedField reports whether a job title still embeds its employer.
func HasCombinedField(jobTitle string) bool {
	for _, sep := range combinedFieldSeparators {
		if strings.Contains(jobTitle, sep) {
			return true
		}
	}
	return false
}

// TruncateCombinedField cuts a job title at the first embedded employer separator.
func TruncateCombinedField(jobTitle string) string {
	cut := len(jobTitle)
	for _, sep := range combinedFieldSeparators {
		if idx := strings.Index(jobTitle, sep); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(jobTitle[:cut])
}

// CompanyFromAriaLabel reads "Current company: X. Click to ..." labels.
func CompanyFromAriaLabel(label string) string {
	if m := currentCompanyAriaRe.FindStringSubmatch(label); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// ParseCount reads the first number in a reaction counter ("1,234",
// "2.5K", "12 reactions"). It returns 0 when there is none.
func ParseCount(text string) int {
	m := strings.TrimSpace(positiveIntegerRe.FindString(text))
	if m == "" {
		return 0
	}
	mult := 1.0
	switch m[len(m)-1] {
	case 'K', 'k':
		mult = 1e3
		m = strings.TrimSpace(m[:len(m)-1])
	case 'M', 'm':
		mult = 1e6
		m = strings.TrimSpace(m[:len(m)-1])
	}
	if mult == 1 {
		m = strings.NewReplacer(",", "", ".", "").Replace(m)
	} else {
		m = strings.ReplaceAll(m, ",", ".")
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return int(f * mult)
}

// IsProfileURL accepts person-profile links and rejects opaque internal ids.
func IsProfileURL(href string) bool {
	if !strings.Contains(href, "/in/") {
		return false
	}
	lower := strings.ToLower(href)
	for _, marker := range []string{"miniprofile", "urn:li", "urn%3ali"} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// CanonicalProfileURL resolves href against base and strips the query,
// fragment and any sub-page after the profile slug.
func CanonicalProfileURL(href, base string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		u = b.ResolveReference(u)
	}
	u.RawQuery = ""
	u.Fragment = ""
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "in" && i+1 < len(parts) && parts[i+1] != "" {
			u.Path = "/in/" + parts[i+1] + "/"
			u.RawPath = ""
			return u.String()
		}
	}
	return ""
}

// NameFromURL derives a readable name from the profile slug: hyphens become
// spaces, tokens carrying digits are dropped, words are title-cased. Opaque
// member ids yield "LinkedIn Member".
func NameFromURL(profileURL string) string {
	slug := profileSlug(profileURL)
	if slug == "" {
		return types.NotSpecified
	}
	if opaqueMemberIDRe.MatchString(slug) || strings.HasPrefix(slug, "ACoAA") {
		return "LinkedIn Member"
	}
	var words []string
	for _, tok := range strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || r == ' ' }) {
		if strings.IndexFunc(tok, unicode.IsDigit) >= 0 {
			continue
		}
		words = append(words, titleWord(tok))
	}
	if len(words) == 0 {
		return "LinkedIn Member"
	}
	return strings.Join(words, " ")
}

func profileSlug(profileURL string) string {
	s := profileURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	idx := strings.Index(s, "/in/")
	if idx < 0 {
		return ""
	}
	s = strings.Trim(s[idx+len("/in/"):], "/")
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	if unescaped, err := url.PathUnescape(s); err == nil {
		s = unescaped
	}
	return s
}

func titleWord(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}
