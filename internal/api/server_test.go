package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/database"
	"engagement-scraper/internal/monitoring"
	"engagement-scraper/internal/scraper"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

const postURL = "https://www.linkedin.com/posts/alice_launch-activity-1/"

type stubAnalyzer struct {
	mu       sync.Mutex
	result   types.ScrapeResult
	err      error
	status   types.BrowserStatus
	requests []types.JobRequest
	sessions []types.Session
	// during, when set, runs inside Run before the result is returned.
	during func(ctx context.Context)
}

func (a *stubAnalyzer) Run(ctx context.Context, session types.Session, req types.JobRequest) (types.ScrapeResult, error) {
	if a.during != nil {
		a.during(ctx)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	a.sessions = append(a.sessions, session)
	return a.result, a.err
}

func (a *stubAnalyzer) Status() types.BrowserStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *stubAnalyzer) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = scraper.Failure(types.NavigationTarget{URL: postURL, Kind: types.TargetPost}, err, time.Now())
	a.err = err
}

type testEnv struct {
	server   *Server
	db       *database.DB
	analyzer *stubAnalyzer
	monitor  *monitoring.Monitor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	logger := utils.DiscardLogger()

	ctx := context.Background()
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(ctx))

	analyzer := &stubAnalyzer{result: successResult()}
	monitor := monitoring.NewMonitor(logger, "")
	return &testEnv{
		server:   NewServer(analyzer, db, monitor, cfg, logger),
		db:       db,
		analyzer: analyzer,
		monitor:  monitor,
	}
}

func (e *testEnv) saveSession(t *testing.T) int64 {
	t.Helper()
	id, err := e.db.SaveSession(context.Background(), "tester", "AQEDtoken")
	require.NoError(t, err)
	return id
}

func successResult() types.ScrapeResult {
	return types.ScrapeResult{
		Success: true,
		Data: types.ScrapeData{
			SourceURL:  postURL,
			TargetKind: types.TargetPost,
			Likes: []types.EnrichedProfile{
				{Name: "Jane Doe", JobTitle: "Engineer", Company: "Acme", ProfileURL: "https://www.linkedin.com/in/jane/"},
				{Name: "John Roe", JobTitle: types.NotSpecified, Company: types.NotSpecified, ProfileURL: "https://www.linkedin.com/in/john/", Degraded: true},
			},
			Comments:  []types.CommentRecord{},
			ScrapedAt: time.Now(),
			Stats:     types.ScrapeStats{TotalProfiles: 2, DegradedCount: 1},
		},
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Count   int             `json:"count"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r), rec.Body.String())
	return r
}

func analyzeBody(url string) string {
	return fmt.Sprintf(`{"url":%q,"maxProfiles":5}`, url)
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, decode(t, rec).Success)

	rec = env.do(t, http.MethodOptions, "/api/analyze", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzeValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/analyze", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode(t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/analyze", analyzeBody("https://example.com/posts/1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, scraper.UserMessage(scraper.ErrInvalidTarget), decode(t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/analyze", analyzeBody(postURL))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "No LinkedIn cookies found")

	assert.Empty(t, env.analyzer.requests, "nothing reaches the engine")
}

func TestAnalyzeSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t)

	rec := env.do(t, http.MethodPost, "/api/analyze", analyzeBody(postURL))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)

	var data AnalyzeData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Positive(t, data.AnalysisID)
	assert.Len(t, data.Likes, 2)

	require.Len(t, env.analyzer.requests, 1)
	assert.Equal(t, 5, env.analyzer.requests[0].MaxIdentities)
	assert.Equal(t, "AQEDtoken", env.analyzer.sessions[0].Token)

	status, err := env.db.CookieStatus(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, status.LastUsedAt, "the session is touched after a run")
	assert.Equal(t, 1, env.monitor.GetMetrics().Runs)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%d", data.AnalysisID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode(t, rec).Count)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%d/export.csv", data.AnalysisID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprintf(`attachment; filename="linkedin_analysis_%d.csv"`, data.AnalysisID), rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Name,Company,Job Title,Profile URL\n"+
		`"Jane Doe","Acme","Engineer","https://www.linkedin.com/in/jane/"`+"\n"+
		`"John Roe","Not specified","Not specified","https://www.linkedin.com/in/john/"`+"\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/analyses/%d/export.csv?exclude_degraded=true", data.AnalysisID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "John Roe")
	assert.Contains(t, rec.Body.String(), "Jane Doe")

	rec = env.do(t, http.MethodGet, "/api/analyses/recent?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(t, rec).Count)
}

func TestAnalyzeOutlivesClientDisconnect(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t)

	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	var (
		runErr      error
		deadline    time.Time
		hasDeadline bool
	)
	env.analyzer.during = func(ctx context.Context) {
		disconnect()
		runErr = ctx.Err()
		deadline, hasDeadline = ctx.Deadline()
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(analyzeBody(postURL))).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	started := time.Now()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, runErr, "the run survives the client going away")
	require.True(t, hasDeadline)
	assert.WithinDuration(t, started.Add(30*time.Minute), deadline, time.Minute)
	assert.Equal(t, 1, env.monitor.GetMetrics().Runs)
}

func TestAnalyzeCSVFormat(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t)

	rec := env.do(t, http.MethodPost, "/api/analyze", `{"url":"`+postURL+`","format":"csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Name,Company,Job Title,Profile URL\n"))
}

func TestAnalyzeFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"busy", scraper.ErrBrowserBusy, http.StatusConflict},
		{"no overlay", scraper.ErrNoOverlay, http.StatusUnprocessableEntity},
		{"empty", scraper.ErrExtractionEmpty, http.StatusUnprocessableEntity},
		{"not found", scraper.ErrNotFound, http.StatusNotFound},
		{"timeout", scraper.ErrNavigationTimeout, http.StatusGatewayTimeout},
		{"other", fmt.Errorf("chrome crashed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.saveSession(t)
			env.analyzer.fail(tt.err)

			rec := env.do(t, http.MethodPost, "/api/analyze", analyzeBody(postURL))
			assert.Equal(t, tt.code, rec.Code)
			resp := decode(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, scraper.UserMessage(tt.err), resp.Error)
		})
	}
}

func TestAnalyzeLoginRejectedDeactivatesSession(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t)
	env.analyzer.fail(scraper.ErrLoginRejected)

	rec := env.do(t, http.MethodPost, "/api/analyze", analyzeBody(postURL))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cookie-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status database.CookieStatus
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &status))
	assert.False(t, status.HasCookies)

	assert.True(t, env.monitor.GetMetrics().LoginRejected)
}

func TestAnalyzeStatus(t *testing.T) {
	env := newTestEnv(t)
	env.analyzer.status = types.BrowserStatus{IsConnected: true, Busy: true, JobID: "job-1"}

	rec := env.do(t, http.MethodGet, "/api/analyze?action=status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status types.BrowserStatus
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &status))
	assert.Equal(t, env.analyzer.status, status)

	rec = env.do(t, http.MethodGet, "/api/analyze", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisLookups(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/analyses/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/analyses/42", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/analyses/42/export.csv", "").Code)

	rec := env.do(t, http.MethodGet, "/api/analyses/recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode(t, rec).Count)
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Stats struct {
			TotalAnalyses int `json:"totalAnalyses"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &stats))
	assert.Zero(t, stats.Stats.TotalAnalyses)

	rec = env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Database)
	require.NotNil(t, health.Metrics)

	env.monitor.RecordRun(scraper.Failure(types.NavigationTarget{URL: postURL}, scraper.ErrLoginRejected, time.Now()), time.Second)
	rec = env.do(t, http.MethodGet, "/api/health", "")
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &health))
	assert.Equal(t, "critical", health.Status)

	require.NoError(t, env.db.Close())
	rec = env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
