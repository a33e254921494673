package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"filechat/internal/config"
	"filechat/internal/embedder"
	"filechat/internal/index"
	"filechat/internal/rag"
	"filechat/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing document search tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return fmt.Errorf("index not found at %s\nRun 'filechat index' first to build the index", cfg.DBPath)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer st.Close()

	logger := newLogger()
	emb := embedder.NewOllamaEmbedder(cfg.OllamaURL, cfg.Models.Embed)
	retriever := rag.New(st, emb, logger)
	ix := newIndexer(cfg, st, logger)

	s := mcpserver.NewMCPServer("filechat", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchLibraryTool(), makeSearchHandler(retriever, cfg))
	s.AddTool(listIndexedFilesTool(), makeListFilesHandler(st))
	s.AddTool(previewIndexTool(), makePreviewHandler(st, ix))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchLibraryTool() mcp.Tool {
	return mcp.NewTool("search_library",
		mcp.WithDescription("Semantically search the indexed document library using hybrid keyword + vector similarity. Returns relevant excerpts with file paths and page numbers."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query to search the documents"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of excerpts to return (default 8)"),
		),
	)
}

func listIndexedFilesTool() mcp.Tool {
	return mcp.NewTool("list_indexed_files",
		mcp.WithDescription("List all documents in the index with their type, page count, and chunk count."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("kind",
			mcp.Description("Optional type filter (pdf, txt, md, docx)"),
		),
	)
}

func previewIndexTool() mcp.Tool {
	return mcp.NewTool("preview_index",
		mcp.WithDescription("Report what the next index run would do: which registered files are new, changed, unchanged, or missing."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

// --- Handler factories ---

func makeSearchHandler(retriever *rag.Retriever, cfg *config.Config) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		opts := cfg.Retrieval
		if k := req.GetInt("k", 0); k > 0 {
			opts.TopK = k
		}

		hits, err := retriever.Retrieve(ctx, query, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcp.NewToolResultText(formatSearchResults(query, hits)), nil
	}
}

func makeListFilesHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kindFilter := strings.ToLower(req.GetString("kind", ""))

		files, err := st.ListFiles()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list files failed: %v", err)), nil
		}

		var filtered []store.FileRecord
		for _, f := range files {
			if kindFilter == "" || strings.ToLower(f.Kind) == kindFilter {
				filtered = append(filtered, f)
			}
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Indexed files (%d)\n\n", len(filtered))
		for _, f := range filtered {
			fmt.Fprintf(&sb, "- %s (%s, %d pages, %d chunks)\n", f.Path, f.Kind, f.Pages, f.Chunks)
		}
		if len(filtered) == 0 {
			sb.WriteString("No documents indexed yet.\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makePreviewHandler(st store.Store, ix *index.Indexer) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		targets, err := st.ListTargets()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list targets failed: %v", err)), nil
		}
		previews, err := ix.Preview(targets)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Index preview (%d files)\n\n", len(previews))
		for _, p := range previews {
			fmt.Fprintf(&sb, "- %-8s %s\n", p.Status, p.Path)
		}
		if len(previews) == 0 {
			sb.WriteString("No targets registered.\n")
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func formatSearchResults(query string, hits []rag.Hit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for %q (%d)\n\n", query, len(hits))
	for i, hit := range hits {
		fmt.Fprintf(&sb, "### [%d] %s (page %d, distance %.4f)\n\n%s\n\n", i+1, hit.FilePath, hit.Page+1, hit.Distance, hit.Snippet)
	}
	if len(hits) == 0 {
		sb.WriteString("No matching excerpts found.\n")
	}
	return sb.String()
}
