// pairpilot is a confidence-gated coding suggestion engine: it pairs a
// locally-run model with retrieval over your project and either auto-applies
// high-confidence suggestions or routes them to you for approval.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"pairpilot/internal/config"
	"pairpilot/internal/logging"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	verbose bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pairpilot",
	Short: "pairpilot - confidence-gated coding suggestions",
	Long: `pairpilot pairs a locally-run language model with retrieval over your
project. Every suggestion is scored; high-confidence suggestions apply
automatically, mid-confidence ones wait for your approval, and the rest are
dropped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return logging.Initialize(logging.Options{
			Debug:      verbose || cfg.Logging.Debug,
			JSON:       cfg.Logging.JSON,
			Dir:        filepath.Join(cfg.StateDir, "logs"),
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pairpilot.yaml"
	}
	return filepath.Join(home, ".pairpilot", "config.yaml")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
