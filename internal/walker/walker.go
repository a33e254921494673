package walker

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"filechat/internal/extract"
	"filechat/internal/store"
)

// Candidate is a document found under a registered target.
type Candidate struct {
	Path   string
	Kind   extract.Kind
	Size   int64
	Mtime  int64
	Exists bool
}

// Discover expands targets into a deduplicated set of supported documents in
// stable sorted path order. Folder targets are walked recursively only when
// IncludeSubfolders is set. When includeMissing is true, file targets that no
// longer exist are still reported with Exists=false so previews can show
// them; otherwise they are dropped.
func Discover(targets []store.IndexTarget, includeMissing bool) []Candidate {
	seen := make(map[string]bool)
	visitedDirs := make(map[string]bool)
	var out []Candidate

	for _, target := range targets {
		switch target.Kind {
		case store.TargetFile:
			kind := extract.KindOf(target.Path)
			if kind == "" || seen[target.Path] {
				continue
			}
			info, err := os.Stat(target.Path)
			if err != nil || !info.Mode().IsRegular() {
				if includeMissing {
					seen[target.Path] = true
					out = append(out, Candidate{Path: target.Path, Kind: kind})
				}
				continue
			}
			seen[target.Path] = true
			out = append(out, Candidate{
				Path:   target.Path,
				Kind:   kind,
				Size:   info.Size(),
				Mtime:  info.ModTime().Unix(),
				Exists: true,
			})

		case store.TargetFolder:
			walkFolder(target, seen, visitedDirs, &out)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// walkFolder collects supported files under one folder target. Symlinks are
// skipped and already-visited directories are not rescanned, which guards
// against cycles and overlapping targets.
func walkFolder(target store.IndexTarget, seen, visitedDirs map[string]bool, out *[]Candidate) {
	root := filepath.Clean(target.Path)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return
	}

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, the walk continues
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if !target.IncludeSubfolders || visitedDirs[path] {
				return filepath.SkipDir
			}
			visitedDirs[path] = true
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		kind := extract.KindOf(path)
		if kind == "" || seen[path] {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}

		seen[path] = true
		*out = append(*out, Candidate{
			Path:   path,
			Kind:   kind,
			Size:   fi.Size(),
			Mtime:  fi.ModTime().Unix(),
			Exists: true,
		})
		return nil
	})
}

// MatchesTarget reports whether path falls under the target: equal for file
// targets, direct child or any descendant for folder targets depending on
// IncludeSubfolders.
func MatchesTarget(path string, target store.IndexTarget) bool {
	if strings.TrimSpace(target.Path) == "" {
		return false
	}
	targetPath := filepath.Clean(target.Path)
	path = filepath.Clean(path)

	switch target.Kind {
	case store.TargetFile:
		return path == targetPath
	case store.TargetFolder:
		if target.IncludeSubfolders {
			rel, err := filepath.Rel(targetPath, path)
			return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
		}
		return filepath.Dir(path) == targetPath
	}
	return false
}

// MatchesAny reports whether path falls under any of the targets.
func MatchesAny(path string, targets []store.IndexTarget) bool {
	for _, t := range targets {
		if MatchesTarget(path, t) {
			return true
		}
	}
	return false
}
