package monitoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/scraper"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

type Metrics struct {
	Runs             int                     `json:"runs"`
	SuccessfulRuns   int                     `json:"successful_runs"`
	FailedRuns       int                     `json:"failed_runs"`
	TotalProfiles    int                     `json:"total_profiles"`
	DegradedProfiles int                     `json:"degraded_profiles"`
	TotalComments    int                     `json:"total_comments"`
	LastRun          time.Time               `json:"last_run"`
	LastError        string                  `json:"last_error,omitempty"`
	LoginRejected    bool                    `json:"login_rejected"`
	AverageRunTime   time.Duration           `json:"average_run_time"`
	SuccessRate      float64                 `json:"success_rate"`
	DegradedRatio    float64                 `json:"degraded_ratio"`
	Targets          map[string]TargetMetric `json:"targets"`
}

// TargetMetric aggregates runs of one target kind.
type TargetMetric struct {
	Runs           int           `json:"runs"`
	Profiles       int           `json:"profiles"`
	LastRun        time.Time     `json:"last_run"`
	AverageRunTime time.Duration `json:"average_run_time"`
	ErrorCount     int           `json:"error_count"`
}

type Monitor struct {
	mu          sync.Mutex
	metrics     *Metrics
	logger      *logrus.Logger
	metricsFile string
	now         func() time.Time
}

func NewMonitor(logger *logrus.Logger, metricsFile string) *Monitor {
	monitor := &Monitor{
		metrics:     &Metrics{Targets: make(map[string]TargetMetric)},
		logger:      logger,
		metricsFile: metricsFile,
		now:         time.Now,
	}

	monitor.loadMetrics()
	return monitor
}

// RecordRun folds one finished job into the metrics and persists them.
func (m *Monitor) RecordRun(result types.ScrapeResult, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	data := result.Data
	mt := m.metrics

	mt.Runs++
	if result.Success {
		mt.SuccessfulRuns++
		mt.LastError = ""
	} else {
		mt.FailedRuns++
		mt.LastError = result.Error
	}
	mt.LoginRejected = !result.Success && result.Error == scraper.UserMessage(scraper.ErrLoginRejected)
	mt.TotalProfiles += len(data.Likes)
	mt.DegradedProfiles += data.Stats.DegradedCount
	mt.TotalComments += len(data.Comments)
	mt.LastRun = now
	mt.AverageRunTime = runningMean(mt.AverageRunTime, duration, mt.Runs)
	mt.SuccessRate = float64(mt.SuccessfulRuns) / float64(mt.Runs)
	if mt.TotalProfiles > 0 {
		mt.DegradedRatio = float64(mt.DegradedProfiles) / float64(mt.TotalProfiles)
	}

	kind := string(data.TargetKind)
	if kind == "" {
		kind = "unknown"
	}
	tm := mt.Targets[kind]
	tm.Runs++
	tm.Profiles += len(data.Likes)
	tm.LastRun = now
	tm.AverageRunTime = runningMean(tm.AverageRunTime, duration, tm.Runs)
	if !result.Success {
		tm.ErrorCount++
	}
	mt.Targets[kind] = tm

	m.saveMetrics()

	m.logger.Infof("Recorded %s run: success=%t, %d profiles (%d degraded), %v",
		kind, result.Success, len(data.Likes), data.Stats.DegradedCount, duration)
}

func runningMean(avg, sample time.Duration, n int) time.Duration {
	if n <= 1 {
		return sample
	}
	return avg + (sample-avg)/time.Duration(n)
}

// GetMetrics returns a copy of the current metrics.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *m.metrics
	cp.Targets = make(map[string]TargetMetric, len(m.metrics.Targets))
	for k, v := range m.metrics.Targets {
		cp.Targets[k] = v
	}
	return cp
}

type HealthStatus struct {
	Status         string   `json:"status"`
	LastRun        string   `json:"last_run,omitempty"`
	TotalRuns      int      `json:"total_runs"`
	SuccessRate    string   `json:"success_rate"`
	DegradedRatio  string   `json:"degraded_ratio"`
	AverageRuntime string   `json:"average_runtime"`
	Warnings       []string `json:"warnings,omitempty"`
}

// criticalRuns is how many runs must exist before a collapsed success rate
// is reported as critical rather than a warning.
const criticalRuns = 3

// GetHealthStatus reports "warning" when any threshold in cfg is crossed and
// "critical" when the session was rejected or most runs fail.
func (m *Monitor) GetHealthStatus(cfg config.MonitoringConfig) HealthStatus {
	mt := m.GetMetrics()
	status := HealthStatus{
		Status:         "healthy",
		TotalRuns:      mt.Runs,
		SuccessRate:    fmt.Sprintf("%.1f%%", mt.SuccessRate*100),
		DegradedRatio:  fmt.Sprintf("%.1f%%", mt.DegradedRatio*100),
		AverageRuntime: mt.AverageRunTime.String(),
	}
	if !mt.LastRun.IsZero() {
		status.LastRun = mt.LastRun.Format(time.RFC3339)
	}

	status.Warnings = thresholdViolations(mt, cfg, m.now())
	if len(status.Warnings) > 0 {
		status.Status = "warning"
	}
	switch {
	case mt.LoginRejected:
		status.Status = "critical"
		status.Warnings = append(status.Warnings, "Session token was rejected, re-authentication required")
	case mt.Runs >= criticalRuns && mt.SuccessRate < cfg.MinSuccessRate/2:
		status.Status = "critical"
	}
	return status
}

func thresholdViolations(mt Metrics, cfg config.MonitoringConfig, now time.Time) []string {
	var out []string
	stale := time.Duration(cfg.StaleAfterHours) * time.Hour
	if cfg.StaleAfterHours > 0 && !mt.LastRun.IsZero() && now.Sub(mt.LastRun) > stale {
		out = append(out, fmt.Sprintf("No scraping runs in the last %d hours", cfg.StaleAfterHours))
	}
	if mt.Runs > 0 && mt.SuccessRate < cfg.MinSuccessRate {
		out = append(out, fmt.Sprintf("Success rate %.1f%% below %.1f%%", mt.SuccessRate*100, cfg.MinSuccessRate*100))
	}
	if mt.TotalProfiles > 0 && cfg.MaxDegradedRatio > 0 && mt.DegradedRatio > cfg.MaxDegradedRatio {
		out = append(out, fmt.Sprintf("Degraded profile ratio %.1f%% above %.1f%%", mt.DegradedRatio*100, cfg.MaxDegradedRatio*100))
	}
	maxRun := time.Duration(cfg.MaxRunDurationMin) * time.Minute
	if cfg.MaxRunDurationMin > 0 && mt.AverageRunTime > maxRun {
		out = append(out, fmt.Sprintf("Average run time %s above %s", mt.AverageRunTime.Round(time.Second), maxRun))
	}
	return out
}

func (m *Monitor) GenerateReport() string {
	mt := m.GetMetrics()
	lastRun := "never"
	if !mt.LastRun.IsZero() {
		lastRun = utils.FormatTimestamp(mt.LastRun)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `
Engagement Scraper Monitoring Report
====================================
Generated: %s

Overall Statistics:
- Total Runs: %d
- Successful Runs: %d
- Failed Runs: %d
- Success Rate: %.2f%%
- Profiles Enriched: %d
- Degraded Profiles: %d (%.2f%%)
- Comments Collected: %d
- Average Run Time: %s
- Last Run: %s
`,
		utils.FormatTimestamp(m.now()),
		mt.Runs,
		mt.SuccessfulRuns,
		mt.FailedRuns,
		mt.SuccessRate*100,
		mt.TotalProfiles,
		mt.DegradedProfiles,
		mt.DegradedRatio*100,
		mt.TotalComments,
		mt.AverageRunTime.Round(time.Millisecond),
		lastRun,
	)
	if mt.LastError != "" {
		fmt.Fprintf(&b, "- Last Error: %s\n", mt.LastError)
	}

	if len(mt.Targets) == 0 {
		return b.String()
	}

	kinds := make([]string, 0, len(mt.Targets))
	for k := range mt.Targets {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Target", "Runs", "Profiles", "Errors", "Avg Runtime", "Last Run"})
	for _, k := range kinds {
		tm := mt.Targets[k]
		tw.AppendRow(table.Row{k, tm.Runs, tm.Profiles, tm.ErrorCount,
			tm.AverageRunTime.Round(time.Millisecond), utils.FormatTimestamp(tm.LastRun)})
	}
	b.WriteString("\nTarget Performance:\n")
	b.WriteString(tw.Render())
	b.WriteString("\n")
	return b.String()
}

func (m *Monitor) loadMetrics() {
	if m.metricsFile == "" {
		return
	}
	data, err := os.ReadFile(m.metricsFile)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Info("No existing metrics file found, starting fresh")
		return
	}
	if err != nil {
		m.logger.Warnf("Failed to read metrics file: %v", err)
		return
	}

	if err := json.Unmarshal(data, m.metrics); err != nil {
		m.logger.Warnf("Failed to parse metrics file: %v", err)
		return
	}
	if m.metrics.Targets == nil {
		m.metrics.Targets = make(map[string]TargetMetric)
	}

	m.logger.Info("Loaded existing metrics from file")
}

func (m *Monitor) saveMetrics() {
	if m.metricsFile == "" {
		return
	}
	data, err := json.MarshalIndent(m.metrics, "", "  ")
	if err != nil {
		m.logger.Errorf("Failed to marshal metrics: %v", err)
		return
	}

	if dir := filepath.Dir(m.metricsFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			m.logger.Errorf("Failed to create metrics directory: %v", err)
			return
		}
	}
	if err := os.WriteFile(m.metricsFile, data, 0644); err != nil {
		m.logger.Errorf("Failed to save metrics: %v", err)
	}
}

// AlertManager turns threshold violations into alert lines.
type AlertManager struct {
	monitor *Monitor
	cfg     config.MonitoringConfig
	logger  *logrus.Logger
}

func NewAlertManager(monitor *Monitor, cfg config.MonitoringConfig, logger *logrus.Logger) *AlertManager {
	return &AlertManager{
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
	}
}

func (am *AlertManager) CheckAlerts() []string {
	mt := am.monitor.GetMetrics()

	var alerts []string
	if mt.Runs == 0 {
		return append(alerts, "ALERT: No scraping runs recorded")
	}
	for _, v := range thresholdViolations(mt, am.cfg, am.monitor.now()) {
		alerts = append(alerts, "ALERT: "+v)
	}
	if mt.LoginRejected {
		alerts = append(alerts, "ALERT: Session token rejected, save a fresh li_at token")
	}
	if mt.TotalProfiles == 0 {
		alerts = append(alerts, "ALERT: No profiles have been enriched")
	}
	return alerts
}

func (am *AlertManager) SendAlerts(alerts []string) {
	for _, alert := range alerts {
		am.logger.Warn(alert)
	}
}
