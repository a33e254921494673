package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"filechat/internal/config"
	"filechat/internal/embedder"
	"filechat/internal/extract"
	"filechat/internal/index"
	"filechat/internal/llm"
	"filechat/internal/ocr"
	"filechat/internal/rag"
	"filechat/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagConfig     string
	flagDB         string
	flagOllama     string
	flagEmbedModel string
	flagChatModel  string
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "filechat",
	Short: "Chat with your local documents powered by RAG",
	Long: `filechat indexes PDF, TXT, Markdown, and DOCX files into a local
vector database and answers questions about them with a local LLM.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config path (default ~/.config/filechat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default ~/.local/share/filechat/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "", "ollama base URL (default http://localhost:11434)")
	rootCmd.PersistentFlags().StringVar(&flagEmbedModel, "embed-model", "", "embedding model")
	rootCmd.PersistentFlags().StringVar(&flagChatModel, "chat-model", "", "generative model for chat")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the config file and overlays any global flags.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagOllama != "" {
		cfg.OllamaURL = flagOllama
	}
	if flagEmbedModel != "" {
		cfg.Models.Embed = flagEmbedModel
	}
	if flagChatModel != "" {
		cfg.Models.Chat = flagChatModel
	}
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = filepath.Join(home, ".local", "share", "filechat", "index.db")
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	return store.Open(cfg.DBPath)
}

func newIndexer(cfg *config.Config, st store.Store, logger *slog.Logger) *index.Indexer {
	var ocrClient ocr.Client
	if cfg.Index.OCREnabled {
		ocrClient = &ocr.Tesseract{}
	}
	ex := extract.New(ocrClient, logger)
	emb := embedder.NewOllamaEmbedder(cfg.OllamaURL, cfg.Models.Embed)
	return index.New(st, ex, emb, logger)
}

func newEngine(cfg *config.Config, st store.Store, logger *slog.Logger) *rag.Engine {
	emb := embedder.NewOllamaEmbedder(cfg.OllamaURL, cfg.Models.Embed)
	retriever := rag.New(st, emb, logger)
	chat := llm.NewOllamaChat(cfg.OllamaURL, cfg.Models.Chat)
	return rag.NewEngine(retriever, chat)
}
