package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pairpilot/internal/engine"
	"pairpilot/internal/gate"

	"github.com/spf13/cobra"
)

var indexVacuum bool

var indexCmd = &cobra.Command{
	Use:   "index <project-id> <path>",
	Short: "Index a project tree into the context store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, root := args[0], args[1]

		eng, err := engine.New(cfg, engine.Options{Applier: gate.ApplierFunc(printApply)})
		if err != nil {
			return err
		}
		defer eng.Close()

		files := 0
		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				name := d.Name()
				if name != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
					return filepath.SkipDir
				}
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				rel = path
			}
			if err := eng.OnFileChanged(cmd.Context(), projectID, rel, content); err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", rel, err)
				return nil
			}
			files++
			return nil
		})
		if err != nil {
			return err
		}

		embedded, err := eng.ReindexPending(cmd.Context(), projectID)
		if err != nil {
			return fmt.Errorf("indexed %d files but embedding failed: %w", files, err)
		}
		if indexVacuum {
			if err := eng.Vacuum(); err != nil {
				return fmt.Errorf("vacuum failed: %w", err)
			}
		}
		fmt.Printf("indexed %d files, embedded %d chunks\n", files, embedded)
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexVacuum, "vacuum", false, "reclaim space from superseded chunks afterwards")
	rootCmd.AddCommand(indexCmd)
}
