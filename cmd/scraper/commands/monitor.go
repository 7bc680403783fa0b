package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"engagement-scraper/internal/database/models"
	"engagement-scraper/internal/monitoring"
)

var monitorOpts struct {
	report bool
	alerts bool
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOpts.report, "report", false, "Generate and display the monitoring report")
	monitorCmd.Flags().BoolVar(&monitorOpts.alerts, "alerts", false, "Check and display alerts")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [--report] [--alerts]",
	Short: "Shows scraper health, alerts or a full report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)

		if monitorOpts.alerts {
			am := monitoring.NewAlertManager(monitor, cfg.Monitoring, logger)
			alerts := am.CheckAlerts()
			if len(alerts) == 0 {
				fmt.Println("✅ No alerts - system is healthy")
				return nil
			}
			am.SendAlerts(alerts)
			fmt.Println("⚠️  Active Alerts:")
			for _, alert := range alerts {
				fmt.Printf("  - %s\n", alert)
			}
			return nil
		}

		if !monitorOpts.report {
			health := monitor.GetHealthStatus(cfg.Monitoring)
			fmt.Printf("Status: %s\n", health.Status)
			fmt.Printf("Total Runs: %d\n", health.TotalRuns)
			fmt.Printf("Success Rate: %s\n", health.SuccessRate)
			fmt.Printf("Degraded Ratio: %s\n", health.DegradedRatio)
			fmt.Printf("Average Runtime: %s\n", health.AverageRuntime)
			if health.LastRun != "" {
				fmt.Printf("Last Run: %s\n", health.LastRun)
			}
			for _, w := range health.Warnings {
				fmt.Printf("Warning: %s\n", w)
			}
			return nil
		}

		fmt.Println(monitor.GenerateReport())

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			logger.Errorf("Database statistics unavailable: %v", err)
			return nil
		}
		defer db.Close()

		var (
			stats     *models.ScrapingStats
			companies []models.CompanyCount
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			stats, err = db.GetScrapingStats(gctx, 24*time.Hour)
			return err
		})
		g.Go(func() error {
			var err error
			companies, err = db.GetTopCompanies(gctx, 10)
			return err
		})
		if err := g.Wait(); err != nil {
			logger.Errorf("Failed to get database stats: %v", err)
			return nil
		}

		fmt.Println("Database Statistics:")
		fmt.Printf("- Total Analyses: %d (%d successful)\n", stats.TotalAnalyses, stats.SuccessfulAnalyses)
		fmt.Printf("- Analyses in the last 24h: %d\n", stats.RecentAnalyses)
		fmt.Printf("- Profiles Stored: %d (%d degraded)\n", stats.TotalProfiles, stats.DegradedProfiles)
		fmt.Printf("- Average Profiles per Analysis: %.2f\n", stats.AverageProfiles)
		fmt.Printf("- Most Analyzed Author: %s\n", stats.TopPostAuthor)
		if stats.LastAnalysisAt != nil {
			fmt.Printf("- Last Analysis: %s\n", stats.LastAnalysisAt.Format("2006-01-02 15:04:05"))
		}

		if len(companies) > 0 {
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetTitle("Top Companies")
			t.AppendHeader(table.Row{"Company", "Profiles"})
			for _, c := range companies {
				t.AppendRow(table.Row{c.Company, c.Profiles})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
		}
		return nil
	},
}
