package main

import (
	"fmt"
	"path/filepath"

	"pairpilot/internal/session"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and prune stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.Open(filepath.Join(cfg.StateDir, "sessions.db"))
		defer store.Close()

		sessions, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, s := range sessions {
			stats, _ := store.Stats(cmd.Context(), s.ProjectID)
			fmt.Printf("%s  project=%s  last_active=%s  suggested=%d accepted=%d rejected=%d\n",
				s.ID, s.ProjectID, s.LastActiveAt.Format("2006-01-02 15:04:05"),
				stats.TotalSuggested, stats.TotalAccepted, stats.TotalRejected)
		}
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.Open(filepath.Join(cfg.StateDir, "sessions.db"))
		defer store.Close()

		res, err := store.Prune(cmd.Context(), session.Policy{
			MaxAge:     cfg.Session.RetentionAge(),
			HistoryCap: cfg.Session.HistoryCap,
		})
		if err != nil {
			return err
		}
		fmt.Printf("removed %d sessions, %d suggestions\n", res.SessionsRemoved, res.SuggestionsRemoved)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}
