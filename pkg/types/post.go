package types

import (
	"fmt"
	"time"
)

// EngagementSource is a reaction-count affordance found on a loaded page.
// Index only addresses the tagged element within one navigation.
type EngagementSource struct {
	Index            int    `json:"-"`
	AuthorName       string `json:"authorName"`
	AuthorProfileURL string `json:"authorProfileUrl,omitempty"`
	ReactionCount    int    `json:"reactionCount"`
	ContentSummary   string `json:"contentSummary,omitempty"`
}

type CommentRecord struct {
	AuthorName       string    `json:"authorName"`
	AuthorProfileURL string    `json:"authorProfileUrl,omitempty"`
	AuthorHeadline   string    `json:"authorHeadline,omitempty"`
	Text             string    `json:"text"`
	PostedAgo        string    `json:"postedAgo,omitempty"`
	PostedAt         time.Time `json:"postedAt,omitempty"`
	ReactionCount    int       `json:"reactionCount"`
}

type PostRecord struct {
	URL              string `json:"url"`
	AuthorName       string `json:"authorName"`
	AuthorProfileURL string `json:"authorProfileUrl,omitempty"`
	Content          string `json:"content"`
	ReactionCount    int    `json:"reactionCount"`
	CommentsCount    int    `json:"commentsCount"`
	RepostsCount     int    `json:"repostsCount"`
}

func (p PostRecord) String() string {
	return fmt.Sprintf("%s: %d reactions, %d comments, %d reposts",
		p.AuthorName, p.ReactionCount, p.CommentsCount, p.RepostsCount)
}
