package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func prepared(t *testing.T, dim int) *SQLiteStore {
	t.Helper()
	s := newTestStore(t)
	cleared, err := s.Prepare(dim, "test-model", 1400, 250)
	require.NoError(t, err)
	require.False(t, cleared)
	return s
}

func fileRec(path string) FileRecord {
	return FileRecord{Path: path, Kind: "txt", Hash: "h-" + path, Size: 10, Mtime: 1000, Pages: 1}
}

func chunk(path, text string, ordinal int) Chunk {
	return Chunk{FilePath: path, Page: 0, Ordinal: ordinal, Lang: "eng", Text: text}
}

func TestPrepareFreshDatabase(t *testing.T) {
	s := newTestStore(t)

	cleared, err := s.Prepare(3, "test-model", 1400, 250)
	require.NoError(t, err)
	assert.False(t, cleared, "a fresh database has nothing to clear")

	// Same settings again: no rebuild.
	cleared, err = s.Prepare(3, "test-model", 1400, 250)
	require.NoError(t, err)
	assert.False(t, cleared)

	model, err := s.IndexedModel()
	require.NoError(t, err)
	assert.Equal(t, "test-model", model)
}

func TestPrepareClearsOnModelChange(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.UpsertFile(fileRec("/a.txt"), []Chunk{chunk("/a.txt", "hello", 0)}, [][]float32{{1, 0, 0}}))

	cleared, err := s.Prepare(3, "other-model", 1400, 250)
	require.NoError(t, err)
	assert.True(t, cleared)

	files, err := s.ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)

	results, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPrepareClearsOnDimensionChange(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.UpsertFile(fileRec("/a.txt"), []Chunk{chunk("/a.txt", "hello", 0)}, [][]float32{{1, 0, 0}}))

	cleared, err := s.Prepare(4, "test-model", 1400, 250)
	require.NoError(t, err)
	assert.True(t, cleared)

	// The vec table is recreated at the new dimension.
	results, err := s.Search([]float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPrepareClearsOnChunkGeometryChange(t *testing.T) {
	s := prepared(t, 3)

	cleared, err := s.Prepare(3, "test-model", 700, 100)
	require.NoError(t, err)
	assert.True(t, cleared)
}

func TestSearchBeforePrepare(t *testing.T) {
	s := newTestStore(t)
	results, err := s.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestUpsertReplacesChunks(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"

	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "old first", 0), chunk(path, "old second", 1)},
		[][]float32{{1, 0, 0}, {0, 1, 0}}))

	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "replacement text", 0)},
		[][]float32{{0, 0, 1}}))

	files, err := s.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 1, files[0].Chunks)

	results, err := s.Search([]float32{0, 0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "replacement text", results[0].Chunk.Text)

	// The keyword side must not retain the old rows either.
	ranks, err := s.KeywordRanks(`"old"`, 10)
	require.NoError(t, err)
	assert.Empty(t, ranks)
}

func TestUpsertMismatchedEmbeddings(t *testing.T) {
	s := prepared(t, 3)
	err := s.UpsertFile(fileRec("/a.txt"), []Chunk{chunk("/a.txt", "x", 0)}, nil)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestSearchOrdersByDistance(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"
	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "east", 0), chunk(path, "north", 1), chunk(path, "diagonal", 2)},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}))

	results, err := s.Search([]float32{1, 0.1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "east", results[0].Chunk.Text)
	assert.Equal(t, "diagonal", results[1].Chunk.Text)
	assert.Equal(t, "north", results[2].Chunk.Text)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)
}

func TestSearchTiesBreakOnChunkID(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"
	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "first", 0), chunk(path, "second", 1)},
		[][]float32{{1, 0, 0}, {1, 0, 0}}))

	results, err := s.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Chunk.Text)
	assert.Less(t, results[0].Chunk.ID, results[1].Chunk.ID)
}

func TestSearchHonorsK(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"
	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "a", 0), chunk(path, "b", 1), chunk(path, "c", 2)},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	results, err := s.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRemoveFiles(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.UpsertFile(fileRec("/a.txt"), []Chunk{chunk("/a.txt", "alpha", 0)}, [][]float32{{1, 0, 0}}))
	require.NoError(t, s.UpsertFile(fileRec("/b.txt"), []Chunk{chunk("/b.txt", "beta", 0)}, [][]float32{{0, 1, 0}}))

	removed, err := s.RemoveFiles([]string{"/a.txt", "/not-indexed.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	files, err := s.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/b.txt", files[0].Path)

	results, err := s.Search([]float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "beta", results[0].Chunk.Text)
}

func TestRemoveFilesEmpty(t *testing.T) {
	s := prepared(t, 3)
	removed, err := s.RemoveFiles(nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestDeleteAllKeepsTargets(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.SaveTargets([]IndexTarget{{Path: "/docs", Kind: TargetFolder, IncludeSubfolders: true}}))
	require.NoError(t, s.UpsertFile(fileRec("/docs/a.txt"), []Chunk{chunk("/docs/a.txt", "alpha", 0)}, [][]float32{{1, 0, 0}}))

	removed, err := s.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	files, err := s.ListFiles()
	require.NoError(t, err)
	assert.Empty(t, files)

	targets, err := s.ListTargets()
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestFileHashes(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.UpsertFile(fileRec("/a.txt"), nil, nil))
	require.NoError(t, s.UpsertFile(fileRec("/b.txt"), nil, nil))

	hashes, err := s.FileHashes()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/a.txt": "h-/a.txt", "/b.txt": "h-/b.txt"}, hashes)
}

func TestChunkVectors(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"
	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{chunk(path, "alpha", 0), chunk(path, "beta", 1)},
		[][]float32{{1, 0, 0}, {0, 0.5, 0.5}}))

	results, err := s.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	ids := []int64{results[0].Chunk.ID, results[1].Chunk.ID, 9999}
	vectors, err := s.ChunkVectors(ids)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0}, vectors[results[0].Chunk.ID])
	assert.NotContains(t, vectors, int64(9999))
}

func TestKeywordRanks(t *testing.T) {
	s := prepared(t, 3)
	path := "/doc.txt"
	require.NoError(t, s.UpsertFile(fileRec(path),
		[]Chunk{
			chunk(path, "the quick brown fox", 0),
			chunk(path, "a lazy dog sleeps", 1),
			chunk(path, "quick quick quick repetition", 2),
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	ranks, err := s.KeywordRanks(`"quick"*`, 10)
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	for _, rank := range ranks {
		assert.Positive(t, rank)
	}
}

func TestKeywordRanksMalformedQuery(t *testing.T) {
	s := prepared(t, 3)
	ranks, err := s.KeywordRanks(`(((`, 10)
	require.NoError(t, err)
	assert.Nil(t, ranks)
}

func TestKeywordRanksStorageError(t *testing.T) {
	s := prepared(t, 3)
	require.NoError(t, s.Close())
	_, err := s.KeywordRanks(`"anything"`, 10)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestIsFTSQueryErr(t *testing.T) {
	assert.True(t, isFTSQueryErr(errors.New(`fts5: syntax error near "("`)))
	assert.False(t, isFTSQueryErr(errors.New("disk I/O error")))
	assert.False(t, isFTSQueryErr(nil))
}

func TestKeywordRanksBeforePrepare(t *testing.T) {
	s := newTestStore(t)
	ranks, err := s.KeywordRanks(`"anything"`, 10)
	require.NoError(t, err)
	assert.Nil(t, ranks)
}

func TestSaveTargetsReplacesAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTargets([]IndexTarget{
		{Path: "/a", Kind: TargetFolder, IncludeSubfolders: true},
		{Path: "/b.txt", Kind: TargetFile},
	}))
	require.NoError(t, s.SaveTargets([]IndexTarget{
		{Path: "/c", Kind: TargetFolder, IncludeSubfolders: false},
	}))

	targets, err := s.ListTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "/c", targets[0].Path)
	assert.Equal(t, TargetFolder, targets[0].Kind)
	assert.False(t, targets[0].IncludeSubfolders)
}

func TestListTargetsKeepsSaveOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveTargets([]IndexTarget{
		{Path: "/zulu", Kind: TargetFolder, IncludeSubfolders: true},
		{Path: "/alpha", Kind: TargetFolder, IncludeSubfolders: true},
		{Path: "/mike.txt", Kind: TargetFile},
	}))

	targets, err := s.ListTargets()
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, "/zulu", targets[0].Path)
	assert.Equal(t, "/alpha", targets[1].Path)
	assert.Equal(t, "/mike.txt", targets[2].Path)
}

func TestListTargetsEmpty(t *testing.T) {
	s := newTestStore(t)
	targets, err := s.ListTargets()
	require.NoError(t, err)
	assert.Empty(t, targets)
}
