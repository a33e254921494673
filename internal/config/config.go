package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// IndexSettings controls extraction and chunking. Changing chunk geometry
// does not retroactively affect indexed chunks until the next index run,
// which rebuilds the store when the geometry differs from what it was built
// with.
type IndexSettings struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	OCREnabled   bool   `yaml:"ocr_enabled"`
	OCRLang      string `yaml:"ocr_lang"`
	OCRMinChars  int    `yaml:"ocr_min_chars"`
	OCRDPI       int    `yaml:"ocr_dpi"`
}

// RetrievalSettings is pure query-time configuration.
type RetrievalSettings struct {
	TopK          int      `yaml:"top_k"`
	MaxDistance   *float64 `yaml:"max_distance,omitempty"`
	UseMMR        bool     `yaml:"use_mmr"`
	MMRLambda     float64  `yaml:"mmr_lambda"`
	MMRCandidates int      `yaml:"mmr_candidates"`
}

// Models names the Ollama models the engine talks to.
type Models struct {
	Chat  string `yaml:"chat"`
	Embed string `yaml:"embed"`
}

// Config is the on-disk configuration file. Engine calls always receive the
// settings structs explicitly; this file only supplies defaults for the CLI.
type Config struct {
	OllamaURL string            `yaml:"ollama_url"`
	DBPath    string            `yaml:"db_path"`
	Models    Models            `yaml:"models"`
	Index     IndexSettings     `yaml:"index"`
	Retrieval RetrievalSettings `yaml:"retrieval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		OllamaURL: "http://localhost:11434",
		Models: Models{
			Chat:  "llama3.1:8b",
			Embed: "nomic-embed-text",
		},
		Index: IndexSettings{
			ChunkSize:    1400,
			ChunkOverlap: 250,
			OCREnabled:   true,
			OCRLang:      "pol+eng",
			OCRMinChars:  120,
			OCRDPI:       300,
		},
		Retrieval: RetrievalSettings{
			TopK:          8,
			UseMMR:        false,
			MMRLambda:     0.5,
			MMRCandidates: 24,
		},
	}
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. Missing fields keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// DefaultPath is ~/.config/filechat/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "filechat", "config.yaml"), nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = def.OllamaURL
	}
	if cfg.Models.Chat == "" {
		cfg.Models.Chat = def.Models.Chat
	}
	if cfg.Models.Embed == "" {
		cfg.Models.Embed = def.Models.Embed
	}
	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = def.Index.ChunkSize
	}
	if cfg.Index.OCRLang == "" {
		cfg.Index.OCRLang = def.Index.OCRLang
	}
	if cfg.Index.OCRDPI == 0 {
		cfg.Index.OCRDPI = def.Index.OCRDPI
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.MMRLambda == 0 {
		cfg.Retrieval.MMRLambda = def.Retrieval.MMRLambda
	}
	if cfg.Retrieval.MMRCandidates == 0 {
		cfg.Retrieval.MMRCandidates = def.Retrieval.MMRCandidates
	}
}
