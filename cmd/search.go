package cmd

import (
	"fmt"
	"strings"

	"filechat/internal/embedder"
	"filechat/internal/rag"

	"github.com/spf13/cobra"
)

var (
	flagTopK        int
	flagMaxDistance float64
	flagMMR         bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Retrieve the most relevant chunks without generating an answer",
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

		opts := cfg.Retrieval
		if cmd.Flags().Changed("top-k") {
			opts.TopK = flagTopK
		}
		if cmd.Flags().Changed("max-distance") {
			opts.MaxDistance = &flagMaxDistance
		}
		if cmd.Flags().Changed("mmr") {
			opts.UseMMR = flagMMR
		}

		emb := embedder.NewOllamaEmbedder(cfg.OllamaURL, cfg.Models.Embed)
		retriever := rag.New(st, emb, newLogger())

		query := strings.Join(args, " ")
		hits, err := retriever.Retrieve(cmd.Context(), query, opts)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("No results.")
			return nil
		}

		for i, hit := range hits {
			fmt.Printf("[%d] %s (page %d, distance %.4f)\n", i+1, hit.FilePath, hit.Page+1, hit.Distance)
			fmt.Printf("    %s\n\n", strings.ReplaceAll(hit.Snippet, "\n", "\n    "))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&flagTopK, "top-k", "k", 0, "number of chunks to return")
	searchCmd.Flags().Float64Var(&flagMaxDistance, "max-distance", 0, "drop results farther than this cosine distance")
	searchCmd.Flags().BoolVar(&flagMMR, "mmr", false, "re-rank for diversity with MMR")
	rootCmd.AddCommand(searchCmd)
}
