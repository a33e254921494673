package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"filechat/internal/chunker"
	"filechat/internal/config"
	"filechat/internal/embedder"
	"filechat/internal/extract"
	"filechat/internal/store"
	"filechat/internal/walker"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
)

// Embedder is the slice of the embedding adapter the indexer depends on.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Indexer orchestrates discovery, extraction, chunking, embedding, and
// storage for the document library.
type Indexer struct {
	store     store.Store
	extractor *extract.Extractor
	embedder  Embedder
	logger    *slog.Logger
}

// New creates an Indexer.
func New(s store.Store, ex *extract.Extractor, emb Embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: s, extractor: ex, embedder: emb, logger: logger}
}

// Stats reports the outcome of an index run.
type Stats struct {
	FilesTotal   int
	FilesIndexed int
	FilesSkipped int
	FilesMissing int
	FilesFailed  int
	ChunksTotal  int
	// Cleared is set when the embedding model, dimension, or chunk geometry
	// changed and the whole index was rebuilt from scratch.
	Cleared bool
}

// Run indexes every New or Changed document under the targets. Progress is
// reported through onProgress (may be nil). Cancellation via ctx takes
// effect between files; a file already being written is never left half
// stored.
func (ix *Indexer) Run(ctx context.Context, targets []store.IndexTarget, settings config.IndexSettings, onProgress ProgressFunc) (*Stats, error) {
	candidates := walker.Discover(targets, true)
	return ix.process(ctx, candidates, settings, onProgress, false)
}

// RunFiles re-indexes exactly the given paths, bypassing the unchanged-file
// skip. Used for explicit re-index requests and watcher notifications.
func (ix *Indexer) RunFiles(ctx context.Context, paths []string, settings config.IndexSettings, onProgress ProgressFunc) (*Stats, error) {
	var candidates []walker.Candidate
	seen := make(map[string]bool)
	for _, path := range paths {
		kind := extract.KindOf(path)
		if kind == "" || seen[path] {
			continue
		}
		seen[path] = true
		c := walker.Candidate{Path: path, Kind: kind}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			c.Size = info.Size()
			c.Mtime = info.ModTime().Unix()
			c.Exists = true
		}
		candidates = append(candidates, c)
	}
	return ix.process(ctx, candidates, settings, onProgress, true)
}

func (ix *Indexer) process(ctx context.Context, candidates []walker.Candidate, settings config.IndexSettings, onProgress ProgressFunc, force bool) (*Stats, error) {
	if settings.ChunkSize <= 0 || settings.ChunkOverlap < 0 || settings.ChunkOverlap >= settings.ChunkSize {
		return nil, chunker.ErrConfig
	}

	run := newRun(uuid.NewString(), len(candidates), onProgress)
	stats := &Stats{FilesTotal: len(candidates)}

	// Probe the embedding dimension up front; an unreachable service aborts
	// the run before any store mutation.
	probe, err := ix.embedder.EmbedSingle(ctx, "dimension probe")
	if err != nil {
		run.terminal(StatusError)
		return stats, fmt.Errorf("probe embedding dimension: %w", err)
	}

	cleared, err := ix.store.Prepare(len(probe), ix.embedder.Model(), settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		run.terminal(StatusError)
		return stats, err
	}
	stats.Cleared = cleared
	if cleared {
		ix.logger.Info("index cleared", "reason", "embedding model or chunk settings changed", "model", ix.embedder.Model())
	}

	hashes, err := ix.store.FileHashes()
	if err != nil {
		run.terminal(StatusError)
		return stats, err
	}

	run.start()

	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			run.terminal(StatusError)
			return stats, err
		}

		if !cand.Exists {
			// Flagged for display only; deletion happens through Prune.
			stats.FilesMissing++
			run.file(i, cand.Path, StatusMissing)
			continue
		}

		hash := Fingerprint(cand.Path, cand.Size, cand.Mtime)
		if !force && hashes[cand.Path] == hash {
			stats.FilesSkipped++
			run.file(i, cand.Path, StatusSkip)
			continue
		}

		chunksStored, err := ix.indexFile(ctx, run, i, cand, hash, settings)
		if err != nil {
			if runFatal(err) {
				run.terminal(StatusError)
				return stats, err
			}
			stats.FilesFailed++
			ix.logger.Warn("index skip", "path", cand.Path, "err", err)
			run.file(i, cand.Path, StatusError)
			continue
		}

		stats.FilesIndexed++
		stats.ChunksTotal += chunksStored
		run.file(i, cand.Path, StatusDone)
	}

	run.terminal(StatusDone)
	return stats, nil
}

// indexFile runs extract → chunk → embed → upsert for one document.
func (ix *Indexer) indexFile(ctx context.Context, run *runReporter, i int, cand walker.Candidate, hash string, settings config.IndexSettings) (int, error) {
	run.file(i, cand.Path, StatusExtract)
	pages, err := ix.extractor.Extract(ctx, cand.Path, settings)
	if err != nil {
		return 0, err
	}

	var chunks []store.Chunk
	for _, page := range pages {
		pieces, err := chunker.Page(page.Number, page.Text, settings.ChunkSize, settings.ChunkOverlap)
		if err != nil {
			return 0, err
		}
		for _, p := range pieces {
			chunks = append(chunks, store.Chunk{
				FilePath: cand.Path,
				Page:     p.Page,
				Ordinal:  p.Ordinal,
				Lang:     langCode(p.Text),
				Text:     p.Text,
			})
		}
	}

	var embeddings [][]float32
	if len(chunks) > 0 {
		run.file(i, cand.Path, StatusEmbed)
		texts := make([]string, len(chunks))
		for j, c := range chunks {
			texts[j] = c.Text
		}
		embeddings, err = ix.embedder.EmbedAll(ctx, texts)
		if err != nil {
			return 0, err
		}
	}

	rec := store.FileRecord{
		Path:  cand.Path,
		Kind:  string(cand.Kind),
		Hash:  hash,
		Size:  cand.Size,
		Mtime: cand.Mtime,
		Pages: len(pages),
	}
	if err := ix.store.UpsertFile(rec, chunks, embeddings); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// runFatal reports whether an error must abort the whole run instead of just
// the current file.
func runFatal(err error) bool {
	return errors.Is(err, store.ErrStorage) ||
		errors.Is(err, embedder.ErrDimensionMismatch) ||
		errors.Is(err, chunker.ErrConfig) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// langCode detects the chunk's language as an ISO 639-3 code, or "".
func langCode(text string) string {
	info := whatlanggo.Detect(text)
	if info.Lang == -1 {
		return ""
	}
	return whatlanggo.LangToString(info.Lang)
}

// Fingerprint is a cheap change-detection signature: sha256 over the path,
// size, and mtime. Content is not hashed; a touched file re-indexes.
func Fingerprint(path string, size, mtime int64) string {
	h := sha256.New()
	h.Write([]byte(path))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(mtime))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Prune removes indexed files that no longer fall under any of the given
// targets, returning how many records were deleted. An empty target set
// clears the whole index.
func (ix *Indexer) Prune(targets []store.IndexTarget) (int, error) {
	if len(targets) == 0 {
		return ix.store.DeleteAll()
	}

	files, err := ix.store.ListFiles()
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, f := range files {
		if !walker.MatchesAny(f.Path, targets) {
			stale = append(stale, f.Path)
		}
	}
	return ix.store.RemoveFiles(stale)
}
