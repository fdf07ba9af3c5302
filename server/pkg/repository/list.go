package repository

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thinkparq/updater-go/common/filesystem"
)

// ListEntry is one child of a browsed repository directory.
type ListEntry struct {
	Name string
	// Path is relative to the repository base and slash separated.
	Path  string
	IsDir bool
	Size  int64
}

// HiddenFunc reports whether name, found somewhere below the root of app, is hidden from
// listings.
type HiddenFunc func(app string, name string) bool

// List returns the children of rel (relative to the repository base, "" for the base itself).
// Directories come first, then files, each sorted by name. Latest pointers, lock and temporary
// files, and anything hidden reports are omitted. A missing directory yields an empty listing.
func (r *Repository) List(rel string, hidden HiddenFunc) ([]ListEntry, error) {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel != "" {
		if err := checkRelative(rel); err != nil {
			return nil, err
		}
	}
	dir := filepath.Join(r.base, filepath.FromSlash(rel))
	if !within(r.base, dir) {
		return nil, fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}

	infos, err := r.fs.Open(dir)
	if err != nil {
		if filesystem.IsNotExist(err) {
			return []ListEntry{}, nil
		}
		return nil, err
	}
	defer infos.Close()
	children, err := infos.Readdir(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(children))
	for _, c := range children {
		name := c.Name()
		p := path.Join(rel, name)
		app, _, _ := strings.Cut(p, "/")
		if name == LatestFileName || name == lockFileName || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if hidden != nil && hidden(app, name) {
			continue
		}
		entry := ListEntry{Name: name, Path: p, IsDir: c.IsDir()}
		if !c.IsDir() {
			entry.Size = c.Size()
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}
