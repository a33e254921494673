package store

import (
	"database/sql"
	"fmt"
)

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=NORMAL;

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    path       TEXT PRIMARY KEY,
    kind       TEXT NOT NULL DEFAULT '',
    hash       TEXT NOT NULL,
    size       INTEGER NOT NULL DEFAULT 0,
    mtime      INTEGER NOT NULL DEFAULT 0,
    indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    pages      INTEGER NOT NULL DEFAULT 0,
    chunks     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path TEXT NOT NULL,
    page      INTEGER NOT NULL,
    ordinal   INTEGER NOT NULL,
    lang      TEXT NOT NULL DEFAULT '',
    text      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

CREATE TABLE IF NOT EXISTS targets (
    path               TEXT NOT NULL,
    kind               TEXT NOT NULL,
    include_subfolders INTEGER NOT NULL,
    added_at           INTEGER NOT NULL,
    PRIMARY KEY (path, kind)
);
`

// Meta keys tracked to detect when the whole index must be rebuilt.
const (
	metaEmbedModel   = "embedding_model"
	metaEmbedDim     = "embedding_dim"
	metaChunkSize    = "chunk_size"
	metaChunkOverlap = "chunk_overlap"
)

// Init creates the base tables. The vec0 and FTS5 virtual tables are created
// lazily once the embedding dimension is known (see Prepare).
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}

func createDerived(db *sql.DB, dim int) error {
	vec := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding float[%d] distance_metric=cosine);",
		dim,
	)
	if _, err := db.Exec(vec); err != nil {
		return err
	}
	_, err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(text);")
	return err
}

func hasTable(db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRow(
		"SELECT 1 FROM sqlite_master WHERE type='table' AND name = ? LIMIT 1", name,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
