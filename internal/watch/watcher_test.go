package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filechat/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushRespectsDebounce(t *testing.T) {
	var batches [][]string
	w := New(nil, 2*time.Second, func(paths []string) {
		batches = append(batches, paths)
	}, nil)

	now := time.Now()
	pending := map[string]time.Time{
		"/docs/settled.txt":  now.Add(-3 * time.Second),
		"/docs/too-soon.txt": now.Add(-500 * time.Millisecond),
	}

	w.flush(pending, now)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"/docs/settled.txt"}, batches[0])
	assert.NotContains(t, pending, "/docs/settled.txt")
	assert.Contains(t, pending, "/docs/too-soon.txt")

	// Nothing new settled: no batch.
	w.flush(pending, now)
	assert.Len(t, batches, 1)
}

func TestFlushSortsBatch(t *testing.T) {
	var got []string
	w := New(nil, time.Second, func(paths []string) { got = paths }, nil)

	old := time.Now().Add(-time.Minute)
	pending := map[string]time.Time{"/b.txt": old, "/a.txt": old, "/c.txt": old}
	w.flush(pending, time.Now())
	assert.Equal(t, []string{"/a.txt", "/b.txt", "/c.txt"}, got)
}

func TestHandleEventFilters(t *testing.T) {
	dir := t.TempDir()
	targets := []store.IndexTarget{{Path: dir, Kind: store.TargetFolder, IncludeSubfolders: true}}
	w := New(targets, time.Second, func([]string) {}, nil)

	fw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fw.Close()

	pending := make(map[string]time.Time)

	w.handleEvent(fw, fsnotify.Event{Name: filepath.Join(dir, "doc.txt"), Op: fsnotify.Write}, pending)
	assert.Contains(t, pending, filepath.Join(dir, "doc.txt"))

	w.handleEvent(fw, fsnotify.Event{Name: filepath.Join(dir, "image.png"), Op: fsnotify.Write}, pending)
	assert.NotContains(t, pending, filepath.Join(dir, "image.png"))

	w.handleEvent(fw, fsnotify.Event{Name: "/elsewhere/doc.txt", Op: fsnotify.Write}, pending)
	assert.NotContains(t, pending, "/elsewhere/doc.txt")

	// Chmod churn from sync tools is ignored.
	w.handleEvent(fw, fsnotify.Event{Name: filepath.Join(dir, "other.txt"), Op: fsnotify.Chmod}, pending)
	assert.NotContains(t, pending, filepath.Join(dir, "other.txt"))
}

func TestUnderRecursiveTarget(t *testing.T) {
	targets := []store.IndexTarget{
		{Path: "/docs", Kind: store.TargetFolder, IncludeSubfolders: true},
		{Path: "/flat", Kind: store.TargetFolder},
	}
	w := New(targets, time.Second, func([]string) {}, nil)

	assert.True(t, w.underRecursiveTarget("/docs/sub"))
	assert.True(t, w.underRecursiveTarget("/docs/sub/deep"))
	assert.False(t, w.underRecursiveTarget("/flat/sub"), "non-recursive targets do not adopt new dirs")
	assert.False(t, w.underRecursiveTarget("/elsewhere"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	targets := []store.IndexTarget{{Path: dir, Kind: store.TargetFolder, IncludeSubfolders: true}}
	w := New(targets, time.Second, func([]string) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatchesChangesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	targets := []store.IndexTarget{{Path: dir, Kind: store.TargetFolder, IncludeSubfolders: true}}

	batches := make(chan []string, 1)
	w := New(targets, 100*time.Millisecond, func(paths []string) {
		select {
		case batches <- paths:
		default:
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("fresh content"), 0o644))

	select {
	case got := <-batches:
		assert.Equal(t, []string{path}, got)
	case <-ctx.Done():
		t.Fatal("no batch arrived for the new file")
	}
}
