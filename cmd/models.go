package cmd

import (
	"fmt"
	"time"

	"filechat/internal/llm"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List installed ollama models and check the configured ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		models, err := llm.ListModels(cmd.Context(), cfg.OllamaURL, 5*time.Second)
		if err != nil {
			return err
		}

		fmt.Printf("Installed models (%d):\n", len(models))
		for _, m := range models {
			fmt.Printf("  %s\n", m)
		}

		fmt.Println()
		for _, check := range []struct{ role, name string }{
			{"embed", cfg.Models.Embed},
			{"chat", cfg.Models.Chat},
		} {
			if llm.ModelInstalled(models, check.name) {
				fmt.Printf("  ✓ %s model %s\n", check.role, check.name)
			} else {
				fmt.Printf("  ✗ %s model %s missing; run 'ollama pull %s'\n", check.role, check.name, check.name)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
