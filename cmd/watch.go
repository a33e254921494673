package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"filechat/internal/index"
	"filechat/internal/watch"

	"github.com/spf13/cobra"
)

var flagDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch targets and re-index documents as they change",
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

		targets, err := st.ListTargets()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets registered; add one with 'filechat targets add <path>'")
		}

		ix := newIndexer(cfg, st, logger)
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Catch up on anything that changed while we were not running.
		if _, err := ix.Run(ctx, targets, cfg.Index, nil); err != nil {
			return err
		}

		onBatch := func(paths []string) {
			stats, err := ix.RunFiles(ctx, paths, cfg.Index, func(ev index.Progress) {
				if ev.File != "" {
					fmt.Printf("  %-8s %s\n", ev.Status, ev.File)
				}
			})
			if err != nil {
				logger.Error("re-index batch", "err", err)
				return
			}
			if stats.FilesIndexed > 0 {
				fmt.Printf("Re-indexed %d file(s), %d chunk(s).\n", stats.FilesIndexed, stats.ChunksTotal)
			}
		}

		fmt.Printf("Watching %d target(s). Ctrl+C to stop.\n", len(targets))
		w := watch.New(targets, flagDebounce, onBatch, logger)
		err = w.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", watch.DefaultDebounce, "settle time before re-indexing a changed file")
	rootCmd.AddCommand(watchCmd)
}
