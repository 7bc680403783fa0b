package export

import (
	"fmt"
	"strings"

	"engagement-scraper/pkg/types"
)

// ProfileFilter narrows an export. Zero values disable each criterion.
type ProfileFilter struct {
	Companies       []string
	Keywords        []string
	ExcludeKeywords []string
	ExcludeDegraded bool
	RequireCompany  bool
}

type FilterStats struct {
	TotalProfiles    int
	FilteredProfiles int
	CompanyFiltered  int
	KeywordFiltered  int
	DegradedFiltered int
}

func (fs FilterStats) String() string {
	return fmt.Sprintf("Total: %d, Kept: %d (company: -%d, keyword: -%d, degraded: -%d)",
		fs.TotalProfiles, fs.FilteredProfiles, fs.CompanyFiltered, fs.KeywordFiltered, fs.DegradedFiltered)
}

// ApplyFilter reports whether a profile passes every criterion.
func ApplyFilter(p types.EnrichedProfile, filter *ProfileFilter) bool {
	if filter == nil {
		return true
	}
	if filter.ExcludeDegraded && p.Degraded {
		return false
	}
	if filter.RequireCompany && isUnresolved(p.Company) {
		return false
	}
	if len(filter.Companies) > 0 && !containsAny(p.Company, filter.Companies) {
		return false
	}
	if len(filter.Keywords) > 0 && !containsAny(p.JobTitle, filter.Keywords) {
		return false
	}
	if len(filter.ExcludeKeywords) > 0 && containsAny(p.JobTitle, filter.ExcludeKeywords) {
		return false
	}
	return true
}

// BatchFilter applies filter to profiles and counts why entries were dropped.
func BatchFilter(profiles []types.EnrichedProfile, filter *ProfileFilter) ([]types.EnrichedProfile, FilterStats) {
	stats := FilterStats{TotalProfiles: len(profiles)}
	if filter == nil {
		stats.FilteredProfiles = len(profiles)
		return profiles, stats
	}

	filtered := make([]types.EnrichedProfile, 0, len(profiles))
	for _, p := range profiles {
		if filter.ExcludeDegraded && p.Degraded {
			stats.DegradedFiltered++
		}
		if (filter.RequireCompany && isUnresolved(p.Company)) ||
			(len(filter.Companies) > 0 && !containsAny(p.Company, filter.Companies)) {
			stats.CompanyFiltered++
		}
		if (len(filter.Keywords) > 0 && !containsAny(p.JobTitle, filter.Keywords)) ||
			(len(filter.ExcludeKeywords) > 0 && containsAny(p.JobTitle, filter.ExcludeKeywords)) {
			stats.KeywordFiltered++
		}
		if ApplyFilter(p, filter) {
			filtered = append(filtered, p)
		}
	}
	stats.FilteredProfiles = len(filtered)
	return filtered, stats
}

func isUnresolved(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == types.NotSpecified
}

func containsAny(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
		if n = strings.TrimSpace(n); n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
