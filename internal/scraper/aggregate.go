package scraper

import (
	"time"

	"engagement-scraper/pkg/types"
)

// Aggregate merges one run's outputs into a result. Profiles are unique by
// URL: a later write for a URL replaces the earlier one in its original
// position. ScrapedAt is stamped here, at completion.
func Aggregate(target types.NavigationTarget, sources []types.EngagementSource, profiles []types.EnrichedProfile,
	comments []types.CommentRecord, post *types.PostRecord, started, now time.Time) types.ScrapeResult {
	index := make(map[string]int, len(profiles))
	likes := make([]types.EnrichedProfile, 0, len(profiles))
	duplicates := 0
	for _, p := range profiles {
		if i, ok := index[p.ProfileURL]; ok {
			likes[i] = p
			duplicates++
			continue
		}
		index[p.ProfileURL] = len(likes)
		likes = append(likes, p)
	}

	degraded := 0
	for _, p := range likes {
		if p.Degraded {
			degraded++
		}
	}
	if comments == nil {
		comments = []types.CommentRecord{}
	}

	return types.ScrapeResult{
		Success: true,
		Data: types.ScrapeData{
			SourceURL:  target.URL,
			TargetKind: target.Kind,
			Likes:      likes,
			Comments:   comments,
			Post:       post,
			Sources:    sources,
			ScrapedAt:  now,
			Stats: types.ScrapeStats{
				TotalSources:    len(sources),
				TotalProfiles:   len(likes),
				DegradedCount:   degraded,
				DuplicateCount:  duplicates,
				TotalComments:   len(comments),
				ExtractionMilli: now.Sub(started).Milliseconds(),
			},
		},
	}
}

// Failure builds the envelope of a fatal run.
func Failure(target types.NavigationTarget, err error, now time.Time) types.ScrapeResult {
	return types.ScrapeResult{
		Success: false,
		Error:   UserMessage(err),
		Data: types.ScrapeData{
			SourceURL:  target.URL,
			TargetKind: target.Kind,
			Likes:      []types.EnrichedProfile{},
			Comments:   []types.CommentRecord{},
			ScrapedAt:  now,
		},
	}
}
