package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ollama_url: http://remote:11434
models:
  chat: qwen3:8b
index:
  chunk_size: 800
retrieval:
  top_k: 4
  use_mmr: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://remote:11434", cfg.OllamaURL)
	assert.Equal(t, "qwen3:8b", cfg.Models.Chat)
	assert.Equal(t, 800, cfg.Index.ChunkSize)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.UseMMR)

	// Untouched fields keep their defaults.
	assert.Equal(t, "nomic-embed-text", cfg.Models.Embed)
	assert.Equal(t, "pol+eng", cfg.Index.OCRLang)
	assert.Equal(t, 300, cfg.Index.OCRDPI)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "dir", "config.yaml")
	want := Default()
	want.Models.Chat = "mistral"
	want.Retrieval.TopK = 3

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1400, cfg.Index.ChunkSize)
	assert.Equal(t, 250, cfg.Index.ChunkOverlap)
	assert.True(t, cfg.Index.OCREnabled)
	assert.Equal(t, 120, cfg.Index.OCRMinChars)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 0.5, cfg.Retrieval.MMRLambda)
	assert.Equal(t, 24, cfg.Retrieval.MMRCandidates)
	assert.Nil(t, cfg.Retrieval.MaxDistance)
}
