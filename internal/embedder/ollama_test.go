package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embedServer answers /api/embed with one deterministic vector per input.
func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func echoEmbeddings(dim int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(len(req.Input[i]))
			out[i] = vec
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: out})
	}
}

func TestEmbedReturnsVectorsInOrder(t *testing.T) {
	srv := embedServer(t, echoEmbeddings(4))
	e := NewOllamaEmbedder(srv.URL, "test-model")

	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
}

func TestEmbedSendsModelAndTruncate(t *testing.T) {
	var got embedRequest
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	})
	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text")

	_, err := e.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, []string{"hello"}, got.Input)
	assert.True(t, got.Truncate)
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		echoEmbeddings(2)(w, r)
	})
	e := NewOllamaEmbedder(srv.URL, "test-model")

	vecs, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusNotFound)
	})
	e := NewOllamaEmbedder(srv.URL, "missing-model")

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedUnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	e := NewOllamaEmbedder(srv.URL, "test-model")

	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1+maxRetries), calls.Load())
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	})
	e := NewOllamaEmbedder(srv.URL, "test-model")

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedDimensionMismatchMidRun(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		dim := 4
		if calls.Add(1) > 1 {
			dim = 8
		}
		echoEmbeddings(dim)(w, r)
	})
	e := NewOllamaEmbedder(srv.URL, "test-model")

	_, err := e.Embed(context.Background(), []string{"first"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), []string{"second"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrEmbedding)
}

func TestEmbedAllBatches(t *testing.T) {
	var batches [][]string
	srv := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req embedRequest
		require.NoError(t, json.Unmarshal(body, &req))
		batches = append(batches, req.Input)
		r.Body = io.NopCloser(bytes.NewReader(body))
		echoEmbeddings(2)(w, r)
	})
	e := NewOllamaEmbedder(srv.URL, "test-model")

	texts := make([]string, defaultBatchSize+5)
	for i := range texts {
		texts[i] = "t"
	}
	vecs, err := e.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, len(texts))
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], defaultBatchSize)
	assert.Len(t, batches[1], 5)
}

func TestEmbedEmptyInput(t *testing.T) {
	e := NewOllamaEmbedder("http://localhost:1", "test-model")
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	t.Setenv("OLLAMA_HOST", "")
	assert.Equal(t, "http://localhost:11434", normalizeBaseURL(""))
	assert.Equal(t, "http://remote:11434", normalizeBaseURL("remote:11434"))
	assert.Equal(t, "https://ollama.lan", normalizeBaseURL("https://ollama.lan/"))
	assert.Equal(t, "http://host", normalizeBaseURL("http://host/api"))
}
