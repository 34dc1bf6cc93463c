package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pairpilot/internal/engine"
	"pairpilot/internal/gate"
	"pairpilot/internal/watcher"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <project-id> <path>",
	Short: "Watch a project tree and keep the context store indexed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, root := args[0], args[1]

		eng, err := engine.New(cfg, engine.Options{Applier: gate.ApplierFunc(printApply)})
		if err != nil {
			return err
		}
		defer eng.Close()

		w, err := watcher.New(projectID, root, eng.OnFileChanged)
		if err != nil {
			return err
		}
		if err := w.Start(cmd.Context()); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("watching %s (project %s), ctrl-c to stop\n", root, projectID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-cmd.Context().Done():
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
