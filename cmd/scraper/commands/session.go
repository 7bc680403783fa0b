package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"engagement-scraper/internal/scraper"
)

var sessionOpts struct {
	save   string
	owner  string
	verify bool
}

func init() {
	f := checkSessionCmd.Flags()
	f.StringVar(&sessionOpts.save, "save", "", "Store this li_at token as the active session")
	f.StringVar(&sessionOpts.owner, "owner", "", "Label of the account the token belongs to (defaults to linkedin.owner)")
	f.BoolVar(&sessionOpts.verify, "verify", false, "Log in with a browser to prove the token is accepted")
	rootCmd.AddCommand(checkSessionCmd)
}

var checkSessionCmd = &cobra.Command{
	Use:   "check-session [--save <li_at>] [--verify]",
	Short: "Reports, stores or verifies the LinkedIn session token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if token := strings.TrimSpace(sessionOpts.save); token != "" {
			if err := scraper.ValidateToken(token, cfg.LinkedIn.TokenPrefix); err != nil {
				return errors.New(scraper.UserMessage(err))
			}
			owner := sessionOpts.owner
			if owner == "" {
				owner = cfg.LinkedIn.Owner
			}
			if _, err := db.SaveSession(ctx, owner, token); err != nil {
				return err
			}
			fmt.Printf("Saved session token for %s\n", owner)
		}

		status, err := db.CookieStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Println(status.Message)

		if !sessionOpts.verify {
			return nil
		}
		session, err := activeSession(ctx, db)
		if err != nil {
			return err
		}
		fmt.Println("Testing authentication...")
		engine := scraper.NewEngine(cfg, scraper.DefaultBrowserFactory(cfg, logger), logger)
		defer engine.Close()
		if err := engine.VerifySession(ctx, session); err != nil {
			recordSession(db, session, err)
			return fmt.Errorf("authentication failed: %s", scraper.UserMessage(err))
		}
		recordSession(db, session, nil)
		fmt.Println("✅ Session token is valid and authentication successful!")
		return nil
	},
}
