package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"pairpilot/internal/engine"
	"pairpilot/internal/gate"
	"pairpilot/internal/types"

	"github.com/spf13/cobra"
)

var (
	queryCursorFile string
	queryWait       bool
)

var queryCmd = &cobra.Command{
	Use:   "query <project-id> <query-text>",
	Short: "Submit a query and gate the resulting suggestion",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := args[0]
		queryText := strings.Join(args[1:], " ")

		eng, err := engine.New(cfg, engine.Options{Applier: gate.ApplierFunc(printApply)})
		if err != nil {
			return err
		}
		defer eng.Close()

		eng.Subscribe(func(ev types.SuggestionEvent) {
			fmt.Printf("[%s] suggestion %s (confidence %.2f)\n", ev.Status, ev.SuggestionID, ev.Confidence)
		})
		if st := eng.Status(); st.Degraded {
			fmt.Fprintln(os.Stderr, "warning: session store unavailable, running with ephemeral sessions")
		}

		sug, err := eng.SubmitQuery(cmd.Context(), engine.QueryRequest{
			ProjectID:  projectID,
			ClientID:   "cli",
			QueryText:  queryText,
			CursorFile: queryCursorFile,
		})
		if err != nil {
			return err
		}

		switch sug.Status {
		case types.StatusAutoApplied:
			fmt.Println(sug.RawText)
		case types.StatusAwaitingApproval:
			fmt.Printf("--- proposed (confidence %.2f) ---\n%s\n", sug.Confidence, sug.RawText)
			if queryWait {
				return promptApproval(cmd.Context(), eng, sug.ID)
			}
			fmt.Printf("approve with: pairpilot respond %s approve\n", sug.ID)
		default:
			fmt.Printf("suggestion %s: %s (%s)\n", sug.ID, sug.Status, sug.Reason)
		}
		return nil
	},
}

// promptApproval reads a y/n answer from stdin and forwards the decision.
// Expiry still wins if the answer takes longer than the approval window.
func promptApproval(ctx context.Context, eng *engine.Engine, suggestionID string) error {
	fmt.Print("apply this change? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')

	decision := types.DecisionDecline
	if answer := strings.ToLower(strings.TrimSpace(line)); answer == "y" || answer == "yes" {
		decision = types.DecisionApprove
	}
	return eng.RespondToApproval(ctx, suggestionID, decision)
}

// printApply is the CLI edit side effect: it prints the accepted change.
// Editor integrations replace this with a real buffer edit.
func printApply(_ context.Context, s types.Suggestion) error {
	if s.Target.FilePath != "" {
		fmt.Printf("applying to %s [%d:%d]\n", s.Target.FilePath, s.Target.ByteStart, s.Target.ByteEnd)
	}
	return nil
}

var respondCmd = &cobra.Command{
	Use:   "respond <suggestion-id> <approve|decline>",
	Short: "Respond to a suggestion awaiting approval",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := engine.New(cfg, engine.Options{Applier: gate.ApplierFunc(printApply)})
		if err != nil {
			return err
		}
		defer eng.Close()

		decision := types.DecisionDecline
		if args[1] == "approve" {
			decision = types.DecisionApprove
		}
		return eng.RespondToApproval(cmd.Context(), args[0], decision)
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryCursorFile, "cursor-file", "", "file the cursor is in (recency boost)")
	queryCmd.Flags().BoolVar(&queryWait, "wait", false, "prompt for approval interactively")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(respondCmd)
}
