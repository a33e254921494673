package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagPruneAll bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove indexed files that no longer fall under any target",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ix := newIndexer(cfg, st, newLogger())

		if flagPruneAll {
			removed, err := ix.Prune(nil)
			if err != nil {
				return err
			}
			fmt.Printf("Cleared the index: %d file(s) removed.\n", removed)
			return nil
		}

		targets, err := st.ListTargets()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets registered; use --all to clear the whole index")
		}
		removed, err := ix.Prune(targets)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d file(s).\n", removed)
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&flagPruneAll, "all", false, "remove every indexed file")
	rootCmd.AddCommand(pruneCmd)
}
