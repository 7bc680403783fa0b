package types

import (
	"fmt"
	"time"
)

type TargetKind string

const (
	TargetProfile TargetKind = "profile"
	TargetPost    TargetKind = "post"
	TargetAuto    TargetKind = "auto"
)

type NavigationTarget struct {
	URL  string     `json:"url"`
	Kind TargetKind `json:"kind"`
}

type JobRequest struct {
	URL             string     `json:"url"`
	TargetKind      TargetKind `json:"type,omitempty"`
	MaxIdentities   int        `json:"maxProfiles,omitempty"`
	KeepSessionOpen bool       `json:"keepOpen,omitempty"`
	OutputFormat    string     `json:"format,omitempty"`
}

type ScrapeResult struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Data    ScrapeData `json:"data"`
}

type ScrapeData struct {
	SourceURL  string             `json:"sourceUrl"`
	TargetKind TargetKind         `json:"targetKind"`
	Likes      []EnrichedProfile  `json:"likes"`
	Comments   []CommentRecord    `json:"comments"`
	Post       *PostRecord        `json:"post,omitempty"`
	Sources    []EngagementSource `json:"sources,omitempty"`
	ScrapedAt  time.Time          `json:"scrapedAt"`
	Stats      ScrapeStats        `json:"stats"`
}

type ScrapeStats struct {
	TotalSources    int   `json:"totalSources"`
	TotalProfiles   int   `json:"totalProfiles"`
	DegradedCount   int   `json:"degradedCount"`
	DuplicateCount  int   `json:"duplicateCount"`
	TotalComments   int   `json:"totalComments"`
	ExtractionMilli int64 `json:"extractionTimeMs"`
}

func (s ScrapeStats) String() string {
	return fmt.Sprintf("Sources: %d, Profiles: %d, Degraded: %d, Duplicates: %d, Comments: %d",
		s.TotalSources, s.TotalProfiles, s.DegradedCount, s.DuplicateCount, s.TotalComments)
}

// BrowserStatus is the engine's health view of its browsing process.
type BrowserStatus struct {
	IsConnected   bool   `json:"isConnected"`
	IsInitialized bool   `json:"isInitialized"`
	CurrentURL    string `json:"currentUrl,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	Busy          bool   `json:"busy"`
}
