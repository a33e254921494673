package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnavailable means the embedding service could not be reached or
	// answered with a server error. Retried with backoff before surfacing.
	ErrUnavailable = errors.New("embedding service unavailable")
	// ErrEmbedding is a model-side failure: bad input, count mismatch, or a
	// vector whose dimension disagrees with the rest of the run. Not retried.
	ErrEmbedding = errors.New("embedding error")
	// ErrDimensionMismatch means a vector disagreed with the dimension
	// pinned earlier in the run. Mixing dimensions would corrupt the index,
	// so this aborts the whole run rather than just the current file.
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension changed mid-run", ErrEmbedding)
)

const (
	defaultBatchSize = 32
	maxRetries       = 2
	retryBaseDelay   = 400 * time.Millisecond
)

// OllamaEmbedder calls the Ollama /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client

	mu  sync.Mutex
	dim int // pinned by the first successful vector
}

// NewOllamaEmbedder creates an embedder for the given Ollama instance. An
// empty baseURL falls back to OLLAMA_BASE_URL / OLLAMA_HOST, then localhost.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: normalizeBaseURL(baseURL),
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Model returns the configured model name.
func (e *OllamaEmbedder) Model() string { return e.model }

// normalizeBaseURL accepts "host:port", adds a scheme when missing, and
// strips any trailing slash or /api suffix.
func normalizeBaseURL(raw string) string {
	if raw == "" {
		raw = os.Getenv("OLLAMA_BASE_URL")
	}
	if raw == "" {
		raw = os.Getenv("OLLAMA_HOST")
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "http://localhost:11434"
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	raw = strings.TrimRight(raw, "/")
	return strings.TrimSuffix(raw, "/api")
}

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends one batch of texts and returns their embeddings in input
// order. Transport failures and server errors are retried with exponential
// backoff; model-side errors are not.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		vecs, err := e.post(ctx, body, len(texts))
		if err == nil {
			return vecs, e.checkDims(vecs)
		}
		if !errors.Is(err, ErrUnavailable) || attempt >= maxRetries {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
		case <-time.After(retryBaseDelay << attempt):
		}
	}
}

func (e *OllamaEmbedder) post(ctx context.Context, body []byte, want int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, respBody)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, respBody)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbedding, err)
	}
	if len(result.Embeddings) != want {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedding, want, len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// checkDims pins the vector dimension on first success and rejects any later
// vector of a different length. A mismatch mid-run means the served model
// changed under us; the index must not mix dimensions.
func (e *OllamaEmbedder) checkDims(vecs [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range vecs {
		if e.dim == 0 {
			e.dim = len(v)
			continue
		}
		if len(v) != e.dim {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), e.dim)
		}
	}
	return nil
}

// EmbedAll embeds texts in batches, returning one vector per input.
func (e *OllamaEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += defaultBatchSize {
		end := start + defaultBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedSingle embeds one text.
func (e *OllamaEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrEmbedding)
	}
	return vecs[0], nil
}
