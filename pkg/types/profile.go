package types

import "time"

// NotSpecified is the sentinel for a field that could not be resolved.
const NotSpecified = "Not specified"

// UnknownAuthor stands in for a post author that could not be recovered.
const UnknownAuthor = "Unknown"

// IdentityReference points at a person profile before enrichment. ProfileURL
// is canonical and is the de-duplication key.
type IdentityReference struct {
	Name         string    `json:"name"`
	ProfileURL   string    `json:"profileUrl"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

type EnrichedProfile struct {
	Name         string    `json:"name"`
	JobTitle     string    `json:"jobTitle"`
	Company      string    `json:"company"`
	ProfileURL   string    `json:"profileUrl"`
	PostAuthor   string    `json:"postAuthor,omitempty"`
	PostContent  string    `json:"postContent,omitempty"`
	DiscoveredAt time.Time `json:"discoveredAt"`
	Degraded     bool      `json:"degraded,omitempty"`
}

// Session is a stored authentication token. Token never leaves the process.
type Session struct {
	ID         int64     `json:"id"`
	Token      string    `json:"-"`
	OwnerLabel string    `json:"ownerLabel"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	IsActive   bool      `json:"isActive"`
}
