package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"filechat/internal/config"
	"filechat/internal/store"

	"github.com/abadojack/whatlanggo"
)

// ErrConfig reports invalid retrieval settings.
var ErrConfig = errors.New("invalid retrieval settings")

// Candidate pools larger than this are never requested, no matter what the
// configuration asks for.
const maxCandidates = 64

// rrfK is the rank smoothing constant for reciprocal rank fusion.
const rrfK = 60

// Embedder is the slice of the embedding adapter retrieval depends on.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Hit is one retrieved chunk with its provenance.
type Hit struct {
	ChunkID  int64
	FilePath string
	Page     int
	Ordinal  int
	Text     string
	Snippet  string
	Distance float64
}

// Retriever answers queries against the indexed library.
type Retriever struct {
	store    store.Store
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Retriever.
func New(s store.Store, emb Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: s, embedder: emb, logger: logger}
}

// Retrieve returns up to opts.TopK chunks relevant to the query. Vector
// search is fused with keyword search by reciprocal rank, then optionally
// re-ranked with MMR for diversity. An empty index yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts config.RetrievalSettings) ([]Hit, error) {
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrConfig)
	}
	if opts.UseMMR && (opts.MMRLambda < 0 || opts.MMRLambda > 1) {
		return nil, fmt.Errorf("%w: mmr_lambda must be in [0, 1]", ErrConfig)
	}

	candidateK := candidatePool(opts)

	queryVec, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := r.store.Search(queryVec, candidateK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	if opts.MaxDistance != nil {
		results = filterByDistance(results, *opts.MaxDistance)
		if len(results) == 0 {
			return []Hit{}, nil
		}
	}

	results = filterByLanguage(query, results)
	results = r.fuseKeywordRanks(query, results, candidateK)

	if opts.UseMMR && len(results) > opts.TopK {
		results, err = r.rerankMMR(queryVec, results, opts.TopK, opts.MMRLambda)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	hits := make([]Hit, len(results))
	for i, res := range results {
		hits[i] = Hit{
			ChunkID:  res.Chunk.ID,
			FilePath: res.Chunk.FilePath,
			Page:     res.Chunk.Page,
			Ordinal:  res.Chunk.Ordinal,
			Text:     res.Chunk.Text,
			Snippet:  snippet(res.Chunk.Text),
			Distance: res.Distance,
		}
	}
	return hits, nil
}

// candidatePool sizes the first-stage retrieval. Without MMR the pool is
// exactly TopK; with MMR it widens to the configured candidate count,
// clamped so it never falls below TopK nor exceeds min(4*TopK, maxCandidates).
func candidatePool(opts config.RetrievalSettings) int {
	if !opts.UseMMR {
		return opts.TopK
	}
	ceil := 4 * opts.TopK
	if ceil > maxCandidates {
		ceil = maxCandidates
	}
	if ceil < opts.TopK {
		ceil = opts.TopK
	}
	c := opts.MMRCandidates
	if c < opts.TopK {
		c = opts.TopK
	}
	if c > ceil {
		c = ceil
	}
	return c
}

func filterByDistance(results []store.SearchResult, maxDistance float64) []store.SearchResult {
	kept := results[:0]
	for _, res := range results {
		if res.Distance <= maxDistance {
			kept = append(kept, res)
		}
	}
	return kept
}

// filterByLanguage keeps only chunks in the query's language when the query
// language is detected reliably and at least one chunk matches it. Chunks
// with no detected language always survive.
func filterByLanguage(query string, results []store.SearchResult) []store.SearchResult {
	info := whatlanggo.Detect(query)
	if info.Lang == -1 || !info.IsReliable() {
		return results
	}
	lang := whatlanggo.LangToString(info.Lang)

	matched := false
	for _, res := range results {
		if res.Chunk.Lang == lang {
			matched = true
			break
		}
	}
	if !matched {
		return results
	}

	kept := results[:0]
	for _, res := range results {
		if res.Chunk.Lang == lang || res.Chunk.Lang == "" {
			kept = append(kept, res)
		}
	}
	return kept
}

// fuseKeywordRanks blends the vector ordering with FTS5 keyword ranks using
// reciprocal rank fusion. Chunks absent from the keyword results keep only
// their vector contribution. Any keyword-side failure degrades to pure
// vector ordering.
func (r *Retriever) fuseKeywordRanks(query string, results []store.SearchResult, limit int) []store.SearchResult {
	match := ftsQuery(query)
	if match == "" {
		return results
	}
	ranks, err := r.store.KeywordRanks(match, limit)
	if err != nil {
		r.logger.Warn("keyword search failed", "err", err)
		return results
	}
	if len(ranks) == 0 {
		return results
	}

	scores := make(map[int64]float64, len(results))
	for i, res := range results {
		score := 1.0 / float64(rrfK+i+1)
		if rank, ok := ranks[res.Chunk.ID]; ok {
			score += 1.0 / float64(rrfK+rank)
		}
		scores[res.Chunk.ID] = score
	}

	sort.SliceStable(results, func(i, j int) bool {
		si, sj := scores[results[i].Chunk.ID], scores[results[j].Chunk.ID]
		if si != sj {
			return si > sj
		}
		return results[i].Distance < results[j].Distance
	})
	return results
}

// ftsQuery turns free text into a prefix-match FTS5 query, dropping
// punctuation and single-rune tokens.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " OR ")
}

const snippetRunes = 600

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes])
}
