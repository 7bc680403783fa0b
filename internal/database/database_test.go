package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// steppingClock advances one minute per reading so rows order by time.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return epoch.Add(time.Duration(n) * time.Minute)
	}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "data", "test.db")

	ctx := context.Background()
	db, err := NewConnection(ctx, &cfg, utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(ctx))
	require.NoError(t, db.RunMigrations(ctx), "migrations are idempotent")
	db.now = steppingClock()
	return db
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	lite := &DB{driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.GetActiveSession(ctx)
	require.ErrorIs(t, err, ErrNotFound)
	status, err := db.CookieStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.HasCookies)
	assert.Equal(t, "No LinkedIn cookies found in database. Please save an li_at session token first.", status.Message)

	alice, err := db.SaveSession(ctx, "alice", "AQEDone")
	require.NoError(t, err)
	bob, err := db.SaveSession(ctx, "bob", "AQEDtwo")
	require.NoError(t, err)
	assert.NotEqual(t, alice, bob)

	active, err := db.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", active.OwnerLabel)
	assert.Equal(t, "AQEDtwo", active.Token)
	assert.True(t, active.IsActive)

	again, err := db.SaveSession(ctx, "alice", "AQEDthree")
	require.NoError(t, err)
	assert.Equal(t, alice, again, "saving replaces the owner's token")

	active, err = db.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AQEDthree", active.Token)

	status, err = db.CookieStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.HasCookies)
	assert.Equal(t, "Using cookies from alice (never used)", status.Message)

	require.NoError(t, db.TouchSession(ctx, alice))
	status, err = db.CookieStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastUsedAt)
	assert.Equal(t, "Using cookies from alice (last used 0 hours ago)", status.Message)

	require.NoError(t, db.DeactivateSession(ctx, alice))
	active, err = db.GetActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", active.OwnerLabel)

	require.ErrorIs(t, db.DeactivateSession(ctx, 999), ErrNotFound)
	require.ErrorIs(t, db.TouchSession(ctx, 999), ErrNotFound)
}

func postResult() types.ScrapeResult {
	return types.ScrapeResult{
		Success: true,
		Data: types.ScrapeData{
			SourceURL:  "https://www.linkedin.com/posts/alice_launch-activity-1/",
			TargetKind: types.TargetPost,
			Likes: []types.EnrichedProfile{
				{Name: "Jane", JobTitle: "Engineer", Company: "Acme", ProfileURL: "https://www.linkedin.com/in/jane/", PostAuthor: "Alice"},
				{Name: "John", JobTitle: types.NotSpecified, Company: types.NotSpecified, ProfileURL: "https://www.linkedin.com/in/john/", PostAuthor: "Alice", Degraded: true},
				{Name: "Mary", JobTitle: "Designer", Company: "Acme", ProfileURL: "https://www.linkedin.com/in/mary/", PostAuthor: "Alice"},
				{Name: "Jane Doe", JobTitle: "Engineer", Company: "Acme", ProfileURL: "https://www.linkedin.com/in/jane/", PostAuthor: "Alice"},
			},
			Comments: []types.CommentRecord{{AuthorName: "Carol", Text: "Congrats!"}},
			Post:     &types.PostRecord{URL: "https://www.linkedin.com/feed/update/urn:li:activity:1/", AuthorName: "Alice", ReactionCount: 4},
			Sources:  []types.EngagementSource{{AuthorName: "Alice", ReactionCount: 4}},
			Stats:    types.ScrapeStats{DegradedCount: 1, ExtractionMilli: 1234},
		},
	}
}

func TestSaveAndGetAnalysis(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.SaveAnalysis(ctx, postResult())
	require.NoError(t, err)

	a, err := db.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "post", a.TargetKind)
	assert.True(t, a.Success)
	assert.Equal(t, 1, a.CommentsCount)
	assert.Equal(t, 1, a.DegradedCount)
	assert.Equal(t, 1, a.SourcesCount)
	assert.EqualValues(t, 1234, a.ExtractionMs)
	require.NotNil(t, a.Post.PostRecord)
	assert.Equal(t, "Alice", a.Post.AuthorName)
	require.Len(t, a.Comments, 1)
	assert.Equal(t, "Congrats!", a.Comments[0].Text)

	profiles, err := db.AnalysisProfiles(ctx, id)
	require.NoError(t, err)
	require.Len(t, profiles, 3, "profiles are unique per analysis")
	assert.Equal(t, "Jane Doe", profiles[0].Name, "a later write replaces the earlier one")
	assert.Equal(t, 0, profiles[0].Position)
	assert.Equal(t, "John", profiles[1].Name)
	assert.True(t, profiles[1].Degraded)
	assert.Equal(t, types.EnrichedProfile{
		Name:         "Mary",
		JobTitle:     "Designer",
		Company:      "Acme",
		ProfileURL:   "https://www.linkedin.com/in/mary/",
		PostAuthor:   "Alice",
		DiscoveredAt: profiles[2].DiscoveredAt,
	}, profiles[2].Enriched())

	_, err = db.GetAnalysis(ctx, id+100)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFailedAnalysisWithoutPost(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.SaveAnalysis(ctx, types.ScrapeResult{
		Error: "Target page not found.",
		Data:  types.ScrapeData{SourceURL: "https://www.linkedin.com/in/ghost/", TargetKind: types.TargetProfile},
	})
	require.NoError(t, err)

	a, err := db.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.False(t, a.Success)
	assert.Equal(t, "Target page not found.", a.ErrorMessage)
	assert.Nil(t, a.Post.PostRecord)
	assert.Empty(t, a.Comments)
}

func TestRecentAnalysesAndStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	stats, err := db.GetScrapingStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAnalyses)
	assert.Equal(t, "None", stats.TopPostAuthor)
	assert.Nil(t, stats.LastAnalysisAt)

	first, err := db.SaveAnalysis(ctx, postResult())
	require.NoError(t, err)
	second, err := db.SaveAnalysis(ctx, types.ScrapeResult{
		Error: "Target page not found.",
		Data:  types.ScrapeData{SourceURL: "https://www.linkedin.com/in/ghost/", TargetKind: types.TargetProfile},
	})
	require.NoError(t, err)

	recent, err := db.RecentAnalyses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second, recent[0].ID)
	assert.Equal(t, first, recent[1].ID)

	recent, err = db.RecentAnalyses(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	stats, err = db.GetScrapingStats(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAnalyses)
	assert.Equal(t, 1, stats.SuccessfulAnalyses)
	assert.Equal(t, 2, stats.RecentAnalyses)
	assert.Equal(t, 3, stats.TotalProfiles)
	assert.Equal(t, 1, stats.DegradedProfiles)
	assert.InDelta(t, 3.0, stats.AverageProfiles, 1e-9)
	assert.Equal(t, "Alice", stats.TopPostAuthor)
	assert.NotNil(t, stats.LastAnalysisAt)
	assert.Equal(t, map[string]int{"post": 1, "profile": 1}, stats.AnalysesByKind)

	companies, err := db.GetTopCompanies(ctx, 5)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme", companies[0].Company)
	assert.Equal(t, 2, companies[0].Profiles)
}
