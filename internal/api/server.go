package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/database"
	"engagement-scraper/internal/export"
	"engagement-scraper/internal/monitoring"
	"engagement-scraper/internal/scraper"
	"engagement-scraper/pkg/types"
)

// Analyzer runs one engagement analysis at a time. *scraper.Engine
// satisfies it.
type Analyzer interface {
	Run(ctx context.Context, session types.Session, req types.JobRequest) (types.ScrapeResult, error)
	Status() types.BrowserStatus
}

type Server struct {
	analyzer Analyzer
	db       *database.DB
	monitor  *monitoring.Monitor
	cfg      *config.Config
	logger   *logrus.Logger
	http     *http.Server
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Count   int         `json:"count,omitempty"`
}

// AnalyzeData is a run's data plus the ID it was stored under.
type AnalyzeData struct {
	AnalysisID int64 `json:"analysisId,omitempty"`
	types.ScrapeData
}

type AnalysisResponse struct {
	Analysis interface{} `json:"analysis"`
	Profiles interface{} `json:"profiles"`
}

type StatsResponse struct {
	Stats        interface{} `json:"stats"`
	TopCompanies interface{} `json:"top_companies"`
}

type HealthResponse struct {
	Status   string                   `json:"status"`
	Database string                   `json:"database"`
	Browser  types.BrowserStatus      `json:"browser"`
	Metrics  *monitoring.HealthStatus `json:"metrics,omitempty"`
}

// NewServer wires the handlers. monitor may be nil.
func NewServer(analyzer Analyzer, db *database.DB, monitor *monitoring.Monitor, cfg *config.Config, logger *logrus.Logger) *Server {
	s := &Server{
		analyzer: analyzer,
		db:       db,
		monitor:  monitor,
		cfg:      cfg,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.http.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/analyze", s.handleAnalyzeStatus)
	mux.HandleFunc("GET /api/cookie-status", s.handleCookieStatus)
	mux.HandleFunc("GET /api/analyses/recent", s.handleRecent)
	mux.HandleFunc("GET /api/analyses/{id}", s.handleAnalysis)
	mux.HandleFunc("GET /api/analyses/{id}/export.csv", s.handleExportCSV)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.cfg.API.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]string{
			"message":   "LinkedIn Engagement Scraper API",
			"version":   "1.0.0",
			"endpoints": "/api/analyze, /api/cookie-status, /api/analyses/recent, /api/stats, /api/health",
		},
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req types.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := scraper.ValidateTargetURL(req.URL, s.cfg.LinkedIn.BaseURL); err != nil {
		s.writeError(w, scraper.UserMessage(err), http.StatusBadRequest)
		return
	}

	session, err := s.db.GetActiveSession(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, "No LinkedIn cookies found in database. Please save an li_at session token first.", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to load session: %v", err), http.StatusInternalServerError)
		return
	}

	s.logger.Infof("Analyzing %s for %s", req.URL, session.OwnerLabel)
	started := time.Now()
	// A dropped client must not cancel the job: cancellation closes the
	// whole browser. The configured job timeout bounds it instead.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Scraper.JobTimeout())
	defer cancel()
	result, err := s.analyzer.Run(runCtx, *session, req)
	if errors.Is(err, scraper.ErrBrowserBusy) {
		s.writeError(w, scraper.UserMessage(err), http.StatusConflict)
		return
	}
	s.afterRun(r.Context(), session, result, err, time.Since(started))

	var id int64
	if result.Data.SourceURL != "" {
		id, err = s.db.SaveAnalysis(context.WithoutCancel(r.Context()), result)
		if err != nil {
			s.logger.Errorf("Failed to store analysis: %v", err)
		}
	}

	if !result.Success {
		s.writeJSON(w, statusFor(err), APIResponse{Success: false, Error: result.Error, Data: AnalyzeData{AnalysisID: id, ScrapeData: result.Data}})
		return
	}
	if strings.EqualFold(req.OutputFormat, "csv") {
		s.writeCSV(w, export.Filename("linkedin_analysis", "csv", id), result.Data.Likes)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    AnalyzeData{AnalysisID: id, ScrapeData: result.Data},
		Count:   len(result.Data.Likes),
	})
}

// afterRun updates the session bookkeeping and run metrics.
func (s *Server) afterRun(ctx context.Context, session *types.Session, result types.ScrapeResult, err error, took time.Duration) {
	ctx = context.WithoutCancel(ctx)
	if errors.Is(err, scraper.ErrLoginRejected) {
		if derr := s.db.DeactivateSession(ctx, session.ID); derr != nil {
			s.logger.Warnf("Failed to deactivate session: %v", derr)
		}
	} else if terr := s.db.TouchSession(ctx, session.ID); terr != nil {
		s.logger.Warnf("Failed to touch session: %v", terr)
	}
	if s.monitor != nil {
		s.monitor.RecordRun(result, took)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scraper.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrInvalidSession), errors.Is(err, scraper.ErrLoginRejected):
		return http.StatusUnauthorized
	case errors.Is(err, scraper.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrExtractionEmpty), errors.Is(err, scraper.ErrNoOverlay):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scraper.ErrNavigationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") != "status" {
		s.writeError(w, "Unsupported action", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.analyzer.Status()})
}

func (s *Server) handleCookieStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.db.CookieStatus(r.Context())
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to check cookies: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: status})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	analyses, err := s.db.RecentAnalyses(r.Context(), limit)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch analyses: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: analyses, Count: len(analyses)})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	analysis, err := s.db.GetAnalysis(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, "Analysis not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch analysis: %v", err), http.StatusInternalServerError)
		return
	}
	profiles, err := s.db.AnalysisProfiles(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch profiles: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    AnalysisResponse{Analysis: analysis, Profiles: profiles},
		Count:   len(profiles),
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetAnalysis(r.Context(), id); errors.Is(err, database.ErrNotFound) {
		s.writeError(w, "Analysis not found", http.StatusNotFound)
		return
	} else if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch analysis: %v", err), http.StatusInternalServerError)
		return
	}

	rows, err := s.db.AnalysisProfiles(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch profiles: %v", err), http.StatusInternalServerError)
		return
	}
	profiles := make([]types.EnrichedProfile, 0, len(rows))
	for _, p := range rows {
		profiles = append(profiles, p.Enriched())
	}

	filtered, stats := export.BatchFilter(profiles, filterFromQuery(r))
	s.logger.Debugf("Export filter for analysis %d: %s", id, stats)
	s.writeCSV(w, export.Filename("linkedin_analysis", "csv", id), filtered)
}

// filterFromQuery reads company, keyword, exclude and exclude_degraded.
// Repeated or comma-separated values are accepted; no parameters mean no filter.
func filterFromQuery(r *http.Request) *export.ProfileFilter {
	q := r.URL.Query()
	f := &export.ProfileFilter{
		Companies:       splitParam(q["company"]),
		Keywords:        splitParam(q["keyword"]),
		ExcludeKeywords: splitParam(q["exclude"]),
	}
	f.ExcludeDegraded, _ = strconv.ParseBool(q.Get("exclude_degraded"))
	if len(f.Companies) == 0 && len(f.Keywords) == 0 && len(f.ExcludeKeywords) == 0 && !f.ExcludeDegraded {
		return nil
	}
	return f
}

func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetScrapingStats(r.Context(), 24*time.Hour)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to get stats: %v", err), http.StatusInternalServerError)
		return
	}
	companies, err := s.db.GetTopCompanies(r.Context(), 10)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to get top companies: %v", err), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: StatsResponse{Stats: stats, TopCompanies: companies}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Database: "connected",
		Browser:  s.analyzer.Status(),
	}
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		code = http.StatusServiceUnavailable
	}
	if s.monitor != nil {
		h := s.monitor.GetHealthStatus(s.cfg.Monitoring)
		resp.Metrics = &h
		if h.Status != "healthy" && resp.Status == "healthy" {
			resp.Status = h.Status
		}
	}
	s.writeJSON(w, code, APIResponse{Success: code == http.StatusOK, Data: resp})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		s.writeError(w, "Invalid analysis ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeCSV(w http.ResponseWriter, filename string, profiles []types.EnrichedProfile) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := export.WriteCSV(w, profiles); err != nil {
		s.logger.Errorf("Failed to write CSV: %v", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, APIResponse{Success: false, Error: message})
}
