package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"engagement-scraper/internal/config"
	"engagement-scraper/internal/database"
	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

var (
	configFile string
	cfg        *config.Config
	logger     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "scraper analyzes who engages with LinkedIn posts and profiles.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger = utils.NewLogger(utils.LogOptions{
			Level:      cfg.Logging.Level,
			File:       cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "Configuration file path")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB connects and brings the schema up to date.
func openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// activeSession prefers the stored session and falls back to LI_AT.
func activeSession(ctx context.Context, db *database.DB) (types.Session, error) {
	s, err := db.GetActiveSession(ctx)
	if err == nil {
		return *s, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return types.Session{}, err
	}
	if cfg.LinkedIn.Token == "" {
		return types.Session{}, errors.New("no LinkedIn session stored; run `scraper check-session --save <li_at>` or set LI_AT")
	}
	return types.Session{Token: cfg.LinkedIn.Token, OwnerLabel: cfg.LinkedIn.Owner, IsActive: true}, nil
}
