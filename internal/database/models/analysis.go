package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"engagement-scraper/pkg/types"
)

type Analysis struct {
	ID            int64        `json:"id" db:"id"`
	URL           string       `json:"url" db:"url"`
	TargetKind    string       `json:"targetKind" db:"target_kind"`
	Success       bool         `json:"success" db:"success"`
	ErrorMessage  string       `json:"error,omitempty" db:"error_message"`
	LikesCount    int          `json:"likesCount" db:"likes_count"`
	CommentsCount int          `json:"commentsCount" db:"comments_count"`
	DegradedCount int          `json:"degradedCount" db:"degraded_count"`
	SourcesCount  int          `json:"sourcesCount" db:"sources_count"`
	ExtractionMs  int64        `json:"extractionTimeMs" db:"extraction_ms"`
	Post          PostDocument `json:"post,omitempty" db:"post"`
	Comments      CommentList  `json:"comments" db:"comments"`
	ScrapedAt     time.Time    `json:"scrapedAt" db:"scraped_at"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// AnalysisProfile is one enriched profile row of an analysis.
type AnalysisProfile struct {
	ID           int64     `json:"id" db:"id"`
	AnalysisID   int64     `json:"analysisId" db:"analysis_id"`
	Position     int       `json:"position" db:"position"`
	Name         string    `json:"name" db:"name"`
	JobTitle     string    `json:"jobTitle" db:"job_title"`
	Company      string    `json:"company" db:"company"`
	ProfileURL   string    `json:"profileUrl" db:"profile_url"`
	PostAuthor   string    `json:"postAuthor" db:"post_author"`
	Degraded     bool      `json:"degraded" db:"degraded"`
	DiscoveredAt time.Time `json:"discoveredAt" db:"discovered_at"`
}

func (p AnalysisProfile) Enriched() types.EnrichedProfile {
	return types.EnrichedProfile{
		Name:         p.Name,
		JobTitle:     p.JobTitle,
		Company:      p.Company,
		ProfileURL:   p.ProfileURL,
		PostAuthor:   p.PostAuthor,
		DiscoveredAt: p.DiscoveredAt,
		Degraded:     p.Degraded,
	}
}

// CommentList stores comments as a JSON column.
type CommentList []types.CommentRecord

func (cl CommentList) Value() (driver.Value, error) {
	if len(cl) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]types.CommentRecord(cl))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (cl *CommentList) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*cl = CommentList{}
		return nil
	}
	return json.Unmarshal(b, (*[]types.CommentRecord)(cl))
}

// PostDocument stores the optional post record as a JSON column.
type PostDocument struct {
	*types.PostRecord
}

func (pd PostDocument) Value() (driver.Value, error) {
	if pd.PostRecord == nil {
		return nil, nil
	}
	b, err := json.Marshal(pd.PostRecord)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (pd *PostDocument) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 || string(b) == "null" {
		pd.PostRecord = nil
		return nil
	}
	pd.PostRecord = &types.PostRecord{}
	return json.Unmarshal(b, pd.PostRecord)
}

func (pd PostDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(pd.PostRecord)
}

// sqlite hands TEXT back as string, postgres as []byte.
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON column type %T", value)
}

// ScrapingStats summarizes the stored analyses.
type ScrapingStats struct {
	TotalAnalyses      int            `json:"totalAnalyses"`
	SuccessfulAnalyses int            `json:"successfulAnalyses"`
	RecentAnalyses     int            `json:"recentAnalyses"`
	TotalProfiles      int            `json:"totalProfiles"`
	DegradedProfiles   int            `json:"degradedProfiles"`
	AverageProfiles    float64        `json:"averageProfiles"`
	TopPostAuthor      string         `json:"topPostAuthor"`
	LastAnalysisAt     *time.Time     `json:"lastAnalysisAt,omitempty"`
	AnalysesByKind     map[string]int `json:"analysesByKind"`
}

// CompanyCount is one row of the most represented employers.
type CompanyCount struct {
	Company  string `json:"company"`
	Profiles int    `json:"profiles"`
}
