package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"filechat/internal/store"

	"github.com/spf13/cobra"
)

var flagRecursive bool

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage the files and folders that get indexed",
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered targets",
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
		if len(targets) == 0 {
			fmt.Println("No targets registered. Add one with 'filechat targets add <path>'.")
			return nil
		}
		for _, t := range targets {
			label := string(t.Kind)
			if t.Kind == store.TargetFolder && t.IncludeSubfolders {
				label += ", recursive"
			}
			fmt.Printf("  %s  (%s)\n", t.Path, label)
		}
		return nil
	},
}

var targetsAddCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Register files or folders for indexing",
	Args:  cobra.MinimumNArgs(1),
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
		have := make(map[string]bool, len(targets))
		for _, t := range targets {
			have[t.Path] = true
		}

		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}
			if have[path] {
				fmt.Printf("  already registered: %s\n", path)
				continue
			}
			t := store.IndexTarget{Path: path, Kind: store.TargetFile}
			if info.IsDir() {
				t.Kind = store.TargetFolder
				t.IncludeSubfolders = flagRecursive
			}
			targets = append(targets, t)
			have[path] = true
			fmt.Printf("  added %s (%s)\n", path, t.Kind)
		}
		return st.SaveTargets(targets)
	},
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <path>...",
	Short: "Unregister targets and prune their indexed files",
	Args:  cobra.MinimumNArgs(1),
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

		drop := make(map[string]bool, len(args))
		for _, arg := range args {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			drop[path] = true
		}

		kept := targets[:0]
		removed := 0
		for _, t := range targets {
			if drop[t.Path] {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if removed == 0 {
			fmt.Println("No matching targets.")
			return nil
		}
		if err := st.SaveTargets(kept); err != nil {
			return err
		}

		logger := newLogger()
		pruned, err := newIndexer(cfg, st, logger).Prune(kept)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d target(s), pruned %d indexed file(s).\n", removed, pruned)
		return nil
	},
}

func init() {
	targetsAddCmd.Flags().BoolVarP(&flagRecursive, "recursive", "r", true, "include subfolders for folder targets")
	targetsCmd.AddCommand(targetsListCmd, targetsAddCmd, targetsRemoveCmd)
	rootCmd.AddCommand(targetsCmd)
}
