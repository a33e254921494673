package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrStorage marks database I/O failures. Fatal for the operation, not the
// process; re-running the operation is safe because upserts fully replace a
// file's chunks.
var ErrStorage = errors.New("storage")

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// Store provides persistence for targets, indexed files, chunks, and vectors.
type Store interface {
	// Prepare validates the embedding dimension, model, and chunk geometry
	// against what the index was built with, clearing everything when any of
	// them changed, and creates the vector and keyword tables. Reports
	// whether the index was cleared.
	Prepare(dim int, model string, chunkSize, overlap int) (bool, error)
	// UpsertFile replaces all chunks for rec.Path atomically and writes the
	// file record. len(chunks) must equal len(embeddings).
	UpsertFile(rec FileRecord, chunks []Chunk, embeddings [][]float32) error
	// RemoveFiles deletes the given file records and all their chunks,
	// returning how many file records were removed.
	RemoveFiles(paths []string) (int, error)
	// DeleteAll removes every file, chunk, and vector. Targets are kept.
	DeleteAll() (int, error)
	// FileHashes returns path → fingerprint for every indexed file.
	FileHashes() (map[string]string, error)
	// IndexedModel returns the embedding model the index was built with, or
	// "" for a fresh database.
	IndexedModel() (string, error)
	ListFiles() ([]FileRecord, error)
	// Search returns the k chunks nearest to the query vector, ordered by
	// ascending distance with ties broken by lowest chunk id.
	Search(query []float32, k int) ([]SearchResult, error)
	// ChunkVectors returns the stored embedding for each given chunk id.
	ChunkVectors(ids []int64) (map[int64][]float32, error)
	// KeywordRanks runs an FTS5 query and returns chunk id → 1-based rank.
	KeywordRanks(match string, limit int) (map[int64]int, error)
	ListTargets() ([]IndexTarget, error)
	// SaveTargets replaces the persisted target set.
	SaveTargets(targets []IndexTarget) error
	Close() error
}

// SQLiteStore implements Store backed by SQLite + sqlite-vec. All mutations
// go through a single writer lock so concurrent upserts cannot interleave;
// reads see either the state before or after a file's replace transaction.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens the library database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, storageErr("open db", err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, storageErr("init schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Prepare(dim int, model string, chunkSize, overlap int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := s.metaChanged(metaEmbedDim, strconv.Itoa(dim)) ||
		s.metaChanged(metaEmbedModel, model) ||
		s.metaChanged(metaChunkSize, strconv.Itoa(chunkSize)) ||
		s.metaChanged(metaChunkOverlap, strconv.Itoa(overlap))

	if stale {
		if err := s.clearAll(); err != nil {
			return false, err
		}
	}

	if err := createDerived(s.db, dim); err != nil {
		return false, storageErr("create vector tables", err)
	}

	for key, value := range map[string]string{
		metaEmbedDim:     strconv.Itoa(dim),
		metaEmbedModel:   model,
		metaChunkSize:    strconv.Itoa(chunkSize),
		metaChunkOverlap: strconv.Itoa(overlap),
	} {
		if err := s.setMeta(key, value); err != nil {
			return false, err
		}
	}
	return stale, nil
}

// metaChanged reports whether the stored value exists and differs. A missing
// key (fresh database) never triggers a rebuild.
func (s *SQLiteStore) metaChanged(key, want string) bool {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		return false
	}
	return value != want
}

func (s *SQLiteStore) setMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return storageErr("set meta", err)
	}
	return nil
}

// clearAll drops the virtual tables and wipes files and chunks. The vec0
// table must be dropped rather than emptied because its dimension may change.
func (s *SQLiteStore) clearAll() error {
	stmts := []string{
		"DROP TABLE IF EXISTS vec_chunks",
		"DROP TABLE IF EXISTS chunks_fts",
		"DELETE FROM chunks",
		"DELETE FROM files",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return storageErr("clear index", err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertFile(rec FileRecord, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return storageErr("upsert file", fmt.Errorf("mismatched chunks (%d) and embeddings (%d)", len(chunks), len(embeddings)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin upsert", err)
	}
	defer tx.Rollback()

	if err := deleteFileChunks(tx, rec.Path); err != nil {
		return storageErr("delete old chunks", err)
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO files (path, kind, hash, size, mtime, indexed_at, pages, chunks)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.Kind, rec.Hash, rec.Size, rec.Mtime, time.Now().UTC(), rec.Pages, len(chunks),
	)
	if err != nil {
		return storageErr("insert file record", err)
	}

	stmt, err := tx.Prepare("INSERT INTO chunks (file_path, page, ordinal, lang, text) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return storageErr("prepare chunk insert", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		res, err := stmt.Exec(rec.Path, c.Page, c.Ordinal, c.Lang, c.Text)
		if err != nil {
			return storageErr("insert chunk", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return storageErr("chunk id", err)
		}
		if _, err := tx.Exec("INSERT INTO chunks_fts (rowid, text) VALUES (?, ?)", id, c.Text); err != nil {
			return storageErr("insert fts row", err)
		}
		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return storageErr("serialize embedding", err)
		}
		if _, err := tx.Exec("INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)", id, blob); err != nil {
			return storageErr("insert embedding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveFiles(paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, storageErr("begin remove", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, path := range paths {
		if err := deleteFileChunks(tx, path); err != nil {
			return 0, storageErr("delete chunks", err)
		}
		res, err := tx.Exec("DELETE FROM files WHERE path = ?", path)
		if err != nil {
			return 0, storageErr("delete file record", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit remove", err)
	}
	return removed, nil
}

// deleteFileChunks removes a file's chunks plus their vector and keyword rows
// inside the caller's transaction. The virtual tables may not exist yet on a
// database that has never been indexed.
func deleteFileChunks(tx *sql.Tx, path string) error {
	for _, table := range []string{"vec_chunks", "chunks_fts"} {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE rowid IN (SELECT id FROM chunks WHERE file_path = ?)", table)
		if _, err := tx.Exec(stmt, path); err != nil && !isMissingTable(err) {
			return err
		}
	}
	_, err := tx.Exec("DELETE FROM chunks WHERE file_path = ?", path)
	return err
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func (s *SQLiteStore) DeleteAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&total); err != nil {
		return 0, storageErr("count files", err)
	}
	if err := s.clearAll(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQLiteStore) FileHashes() (map[string]string, error) {
	rows, err := s.db.Query("SELECT path, hash FROM files")
	if err != nil {
		return nil, storageErr("query hashes", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, storageErr("scan hash row", err)
		}
		out[path] = hash
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IndexedModel() (string, error) {
	var model string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", metaEmbedModel).Scan(&model)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("query indexed model", err)
	}
	return model, nil
}

func (s *SQLiteStore) ListFiles() ([]FileRecord, error) {
	rows, err := s.db.Query(
		"SELECT path, kind, hash, size, mtime, indexed_at, pages, chunks FROM files ORDER BY path",
	)
	if err != nil {
		return nil, storageErr("query files", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(&r.Path, &r.Kind, &r.Hash, &r.Size, &r.Mtime, &r.IndexedAt, &r.Pages, &r.Chunks); err != nil {
			return nil, storageErr("scan file row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Search(query []float32, k int) ([]SearchResult, error) {
	if ok, err := hasTable(s.db, "vec_chunks"); err != nil {
		return nil, storageErr("check vec table", err)
	} else if !ok {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, storageErr("serialize query", err)
	}

	rows, err := s.db.Query(`
		WITH knn AS (
			SELECT rowid AS id, distance
			FROM vec_chunks
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT c.id, c.file_path, c.page, c.ordinal, c.lang, c.text, knn.distance
		FROM knn
		JOIN chunks c ON c.id = knn.id
		ORDER BY knn.distance, c.id
	`, blob, k)
	if err != nil {
		return nil, storageErr("knn query", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.FilePath, &r.Chunk.Page, &r.Chunk.Ordinal, &r.Chunk.Lang, &r.Chunk.Text, &r.Distance); err != nil {
			return nil, storageErr("scan result", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) ChunkVectors(ids []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(ids))
	for _, id := range ids {
		var blob []byte
		err := s.db.QueryRow("SELECT embedding FROM vec_chunks WHERE rowid = ?", id).Scan(&blob)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, storageErr("read embedding", err)
		}
		out[id] = deserializeFloat32(blob)
	}
	return out, nil
}

// deserializeFloat32 decodes the little-endian blob sqlite-vec stores.
func deserializeFloat32(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// isFTSQueryErr reports whether err is FTS5 rejecting the MATCH expression
// itself, as opposed to an I/O or schema failure. SQLite surfaces both under
// the generic SQLITE_ERROR code, so the fts5 message prefix is the only
// reliable discriminator.
func isFTSQueryErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "fts5: syntax error")
}

func (s *SQLiteStore) KeywordRanks(match string, limit int) (map[int64]int, error) {
	if ok, err := hasTable(s.db, "chunks_fts"); err != nil {
		return nil, storageErr("check fts table", err)
	} else if !ok {
		return nil, nil
	}

	rows, err := s.db.Query(
		"SELECT rowid FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?",
		match, limit,
	)
	if err != nil {
		// Malformed FTS queries are a caller concern, not storage failure.
		if isFTSQueryErr(err) {
			return nil, nil
		}
		return nil, storageErr("query fts", err)
	}
	defer rows.Close()

	ranks := make(map[int64]int)
	rank := 1
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan fts row", err)
		}
		ranks[id] = rank
		rank++
	}
	return ranks, rows.Err()
}

func (s *SQLiteStore) ListTargets() ([]IndexTarget, error) {
	// rowid breaks added_at ties so targets saved in one call keep their order.
	rows, err := s.db.Query("SELECT path, kind, include_subfolders FROM targets ORDER BY added_at, rowid")
	if err != nil {
		return nil, storageErr("query targets", err)
	}
	defer rows.Close()

	var out []IndexTarget
	for rows.Next() {
		var t IndexTarget
		var kind string
		var sub int
		if err := rows.Scan(&t.Path, &kind, &sub); err != nil {
			return nil, storageErr("scan target row", err)
		}
		t.Kind = TargetFile
		if kind == string(TargetFolder) {
			t.Kind = TargetFolder
		}
		t.IncludeSubfolders = sub != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveTargets(targets []IndexTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return storageErr("begin save targets", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM targets"); err != nil {
		return storageErr("clear targets", err)
	}
	now := time.Now().Unix()
	for _, t := range targets {
		sub := 0
		if t.IncludeSubfolders {
			sub = 1
		}
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO targets (path, kind, include_subfolders, added_at) VALUES (?, ?, ?, ?)",
			t.Path, string(t.Kind), sub, now,
		)
		if err != nil {
			return storageErr("insert target", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit targets", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
