package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"filechat/internal/index"
	"filechat/internal/tui"

	"github.com/spf13/cobra"
)

var flagTUI bool

var indexCmd = &cobra.Command{
	Use:   "index [path]...",
	Short: "Index registered targets, or just the given paths",
	Long: `Index walks the registered targets and (re)indexes every new or
changed document. With explicit paths it re-indexes exactly those files,
whether or not they changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ix := newIndexer(cfg, st, logger)
		ctx := cmd.Context()

		var paths []string
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			paths = append(paths, path)
		}

		run := func(ctx context.Context, onProgress index.ProgressFunc) (*index.Stats, error) {
			if len(paths) > 0 {
				return ix.RunFiles(ctx, paths, cfg.Index, onProgress)
			}
			targets, err := st.ListTargets()
			if err != nil {
				return nil, err
			}
			if len(targets) == 0 {
				return nil, fmt.Errorf("no targets registered; add one with 'filechat targets add <path>'")
			}
			return ix.Run(ctx, targets, cfg.Index, onProgress)
		}

		if flagTUI {
			stats, err := tui.RunIndexing(ctx, run)
			printStats(stats)
			return err
		}

		start := time.Now()
		stats, err := run(ctx, func(ev index.Progress) {
			if ev.File == "" {
				return
			}
			fmt.Printf("  [%d/%d] %-8s %s\n", ev.Current, ev.Total, ev.Status, ev.File)
		})
		if stats != nil {
			fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
			printStats(stats)
		}
		return err
	},
}

func printStats(stats *index.Stats) {
	if stats == nil {
		return
	}
	if stats.Cleared {
		fmt.Println("  Index rebuilt: embedding model or chunk settings changed")
	}
	fmt.Printf("  Files:   %d total, %d indexed, %d skipped, %d failed\n",
		stats.FilesTotal, stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed)
	if stats.FilesMissing > 0 {
		fmt.Printf("  Missing: %d (run 'filechat prune' to remove)\n", stats.FilesMissing)
	}
	fmt.Printf("  Chunks:  %d\n", stats.ChunksTotal)
}

func init() {
	indexCmd.Flags().BoolVar(&flagTUI, "tui", false, "show interactive progress")
	rootCmd.AddCommand(indexCmd)
}
