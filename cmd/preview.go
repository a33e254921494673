package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what the next index run would do, without indexing",
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

		targets, err := st.ListTargets()
		if err != nil {
			return err
		}
		previews, err := newIndexer(cfg, st, newLogger()).Preview(targets)
		if err != nil {
			return err
		}
		if len(previews) == 0 {
			fmt.Println("Nothing to index.")
			return nil
		}

		counts := make(map[string]int)
		for _, p := range previews {
			counts[string(p.Status)]++
			fmt.Printf("  %-8s %s\n", p.Status, p.Path)
		}
		fmt.Printf("\n%d file(s): %d new, %d changed, %d indexed, %d missing\n",
			len(previews), counts["new"], counts["changed"], counts["indexed"], counts["missing"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
}
