package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"filechat/internal/llm"

	"github.com/spf13/cobra"
)

var flagNoSources bool

var chatCmd = &cobra.Command{
	Use:   "chat [question]",
	Short: "Ask questions about your indexed documents",
	Long: `Chat answers questions grounded in the indexed documents, citing the
files it drew from. With a question argument it answers once and exits;
without one it starts an interactive session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkModels(cfg.OllamaURL, cfg.Models.Embed, cfg.Models.Chat); err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := newEngine(cfg, st, newLogger())
		ctx := cmd.Context()

		ask := func(question string) error {
			result, err := engine.AskStream(ctx, question, cfg.Retrieval, func(delta string) {
				fmt.Print(delta)
			})
			if err != nil {
				return err
			}
			fmt.Println()
			if !flagNoSources && len(result.Sources) > 0 {
				fmt.Println("\nSources:")
				for i, src := range result.Sources {
					fmt.Printf("  [%d] %s (page %d)\n", i+1, src.FilePath, src.Page+1)
				}
			}
			return nil
		}

		if len(args) > 0 {
			return ask(strings.Join(args, " "))
		}

		fmt.Println("filechat: ask about your documents. Ctrl+D or 'exit' to quit.")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				fmt.Println()
				return scanner.Err()
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}
			if question == "exit" || question == "quit" {
				return nil
			}
			if err := ask(question); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	},
}

// checkModels verifies the configured models are installed in ollama.
func checkModels(baseURL, embedModel, chatModel string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	models, err := llm.ListModels(ctx, baseURL, 5*time.Second)
	if err != nil {
		return err
	}
	for _, required := range []string{embedModel, chatModel} {
		if !llm.ModelInstalled(models, required) {
			return fmt.Errorf("model %q is not installed; run 'ollama pull %s'", required, required)
		}
	}
	return nil
}

func init() {
	chatCmd.Flags().BoolVar(&flagNoSources, "no-sources", false, "suppress the source list after answers")
	rootCmd.AddCommand(chatCmd)
}
