package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"engagement-scraper/internal/database"
	"engagement-scraper/internal/export"
	"engagement-scraper/internal/monitoring"
	"engagement-scraper/internal/scraper"
	"engagement-scraper/pkg/types"
)

var runOpts struct {
	url     string
	kind    string
	max     int
	format  string
	out     string
	company []string
	keyword []string
	noSave  bool
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.url, "url", "", "LinkedIn post or profile URL")
	f.StringVar(&runOpts.kind, "type", "auto", "Target type: profile, post or auto")
	f.IntVar(&runOpts.max, "max", 0, "Maximum profiles to enrich (0 uses scraper.max_identities)")
	f.StringVar(&runOpts.format, "format", "table", "Output format: table, csv or json")
	f.StringVar(&runOpts.out, "out", "", "Write output to this file instead of stdout")
	f.StringSliceVar(&runOpts.company, "company", nil, "Only output profiles whose company contains one of these")
	f.StringSliceVar(&runOpts.keyword, "keyword", nil, "Only output profiles whose job title contains one of these")
	f.BoolVar(&runOpts.noSave, "no-save", false, "Do not store the analysis in the database")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run --url <linkedin url> [--type post|profile] [--format table|csv|json]",
	Short: "Runs one engagement analysis and prints the enriched profiles.",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch runOpts.format {
		case "table", "csv", "json":
		default:
			return fmt.Errorf("unknown format %q", runOpts.format)
		}
		ctx := cmd.Context()

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		session, err := activeSession(ctx, db)
		if err != nil {
			return err
		}

		engine := scraper.NewEngine(cfg, scraper.DefaultBrowserFactory(cfg, logger), logger)
		defer engine.Close()
		monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)

		req := types.JobRequest{
			URL:           runOpts.url,
			TargetKind:    types.TargetKind(runOpts.kind),
			MaxIdentities: runOpts.max,
			OutputFormat:  runOpts.format,
		}
		started := time.Now()
		result, runErr := engine.Run(ctx, session, req)
		monitor.RecordRun(result, time.Since(started))
		recordSession(db, session, runErr)

		if !runOpts.noSave && result.Data.SourceURL != "" {
			if id, err := db.SaveAnalysis(context.WithoutCancel(ctx), result); err != nil {
				logger.Errorf("Failed to store analysis: %v", err)
			} else {
				logger.Infof("Stored analysis %d", id)
			}
		}

		filter := &export.ProfileFilter{Companies: runOpts.company, Keywords: runOpts.keyword}
		if len(filter.Companies) > 0 || len(filter.Keywords) > 0 {
			var stats export.FilterStats
			result.Data.Likes, stats = export.BatchFilter(result.Data.Likes, filter)
			logger.Infof("Filtered profiles: %s", stats)
		}

		if err := writeResult(result); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("analysis failed: %s", result.Error)
		}
		return nil
	},
}

// recordSession stamps a used session, or retires one the site rejected.
// Sessions from the environment have no row and are skipped.
func recordSession(db *database.DB, session types.Session, runErr error) {
	if session.ID == 0 {
		return
	}
	ctx := context.Background()
	if errors.Is(runErr, scraper.ErrLoginRejected) {
		if err := db.DeactivateSession(ctx, session.ID); err != nil {
			logger.Warnf("Failed to deactivate session: %v", err)
		}
		return
	}
	if err := db.TouchSession(ctx, session.ID); err != nil {
		logger.Warnf("Failed to touch session: %v", err)
	}
}

func writeResult(result types.ScrapeResult) error {
	var w io.Writer = os.Stdout
	if runOpts.out != "" {
		f, err := os.Create(runOpts.out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch runOpts.format {
	case "csv":
		return export.WriteCSV(w, result.Data.Likes)
	case "json":
		return export.WriteJSON(w, result)
	}
	renderTable(w, result)
	return nil
}

func renderTable(w io.Writer, result types.ScrapeResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(result.Data.SourceURL)
	t.AppendHeader(table.Row{"#", "Name", "Company", "Job Title", "Profile URL"})
	for i, p := range result.Data.Likes {
		name := p.Name
		if p.Degraded {
			name += " *"
		}
		t.AppendRow(table.Row{i + 1, name, p.Company, p.JobTitle, p.ProfileURL})
	}
	t.AppendFooter(table.Row{"", result.Data.Stats.String()})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if !result.Success {
		fmt.Fprintf(w, "Error: %s\n", result.Error)
	}
	if result.Data.Stats.DegradedCount > 0 {
		fmt.Fprintln(w, "* profile could not be enriched")
	}
}
