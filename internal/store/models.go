package store

import "time"

// TargetKind distinguishes single-file targets from folder targets.
type TargetKind string

const (
	TargetFile   TargetKind = "file"
	TargetFolder TargetKind = "folder"
)

// IndexTarget is a user-registered root the indexer discovers documents under.
type IndexTarget struct {
	Path              string
	Kind              TargetKind
	IncludeSubfolders bool
}

// FileRecord represents a successfully indexed document.
type FileRecord struct {
	Path      string
	Kind      string
	Hash      string
	Size      int64
	Mtime     int64
	IndexedAt time.Time
	Pages     int
	Chunks    int
}

// Chunk is one embedded slice of a document's extracted text.
type Chunk struct {
	ID       int64
	FilePath string
	Page     int
	Ordinal  int
	Lang     string
	Text     string
}

// SearchResult is a chunk with its cosine distance to the query vector.
type SearchResult struct {
	Chunk    Chunk
	Distance float64
}
