package index

import (
	"sort"

	"filechat/internal/store"
	"filechat/internal/walker"
)

// PreviewStatus classifies what an index run would do with a file.
type PreviewStatus string

const (
	PreviewNew     PreviewStatus = "new"
	PreviewIndexed PreviewStatus = "indexed"
	PreviewChanged PreviewStatus = "changed"
	PreviewMissing PreviewStatus = "missing"
)

// FilePreview is one row of a dry-run report.
type FilePreview struct {
	Path   string
	Kind   string
	Status PreviewStatus
	Size   int64
	Mtime  int64
}

// Preview reports what Run would do for the given targets without touching
// the index. Files already stored under a different embedding model all show
// as new, since the next run rebuilds the index.
func (ix *Indexer) Preview(targets []store.IndexTarget) ([]FilePreview, error) {
	hashes, err := ix.store.FileHashes()
	if err != nil {
		return nil, err
	}
	indexedModel, err := ix.store.IndexedModel()
	if err != nil {
		return nil, err
	}
	if indexedModel != "" && indexedModel != ix.embedder.Model() {
		hashes = nil
	}

	candidates := walker.Discover(targets, true)
	out := make([]FilePreview, 0, len(candidates))
	discovered := make(map[string]bool, len(candidates))

	for _, cand := range candidates {
		discovered[cand.Path] = true
		fp := FilePreview{
			Path:  cand.Path,
			Kind:  string(cand.Kind),
			Size:  cand.Size,
			Mtime: cand.Mtime,
		}
		switch {
		case !cand.Exists:
			fp.Status = PreviewMissing
		case hashes[cand.Path] == "":
			fp.Status = PreviewNew
		case hashes[cand.Path] == Fingerprint(cand.Path, cand.Size, cand.Mtime):
			fp.Status = PreviewIndexed
		default:
			fp.Status = PreviewChanged
		}
		out = append(out, fp)
	}

	// Stored records no longer reachable from any target.
	files, err := ix.store.ListFiles()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if discovered[f.Path] {
			continue
		}
		out = append(out, FilePreview{
			Path:   f.Path,
			Kind:   f.Kind,
			Status: PreviewMissing,
			Size:   f.Size,
			Mtime:  f.Mtime,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
