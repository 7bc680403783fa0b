package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"engagement-scraper/internal/api"
	"engagement-scraper/internal/monitoring"
	"engagement-scraper/internal/scraper"
)

const shutdownTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the analysis API until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		engine := scraper.NewEngine(cfg, scraper.DefaultBrowserFactory(cfg, logger), logger)
		monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)
		server := api.NewServer(engine, db, monitor, cfg, logger)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(server.Start)
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("Shutdown requested")
			// Cancel the running job before draining requests.
			engine.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}
