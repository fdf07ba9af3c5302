// Package filesystem walks content trees and applies the filters used to decide which files are
// published. Traversal and filtering are kept apart: Walk and ListFiles only enumerate, while the
// predicates in filter.go and ignore.go decide what is kept.
package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// WalkFunc is called for every entry visited by Walk. rel is the slash separated path relative to
// the walk root ("." for the root itself). Returning filepath.SkipDir from a directory skips its
// children, returning filepath.SkipAll stops the walk without error.
type WalkFunc func(rel string, info os.FileInfo, err error) error

// Walk works like filepath.Walk on an afero.Fs except that it appends a slash to directories when
// sorting entries so that paths are walked in lexicographical order. For example:
//
//	arm/rockchip.yaml
//	arm/rockchip/pmu.yaml
//	arm/rtsm-dcscb.txt
//
// A period (.) sorts before a slash (/) so rockchip.yaml is visited ahead of files that share the
// same prefix like rockchip/pmu.yaml.
func Walk(fsys afero.Fs, root string, fn WalkFunc) error {
	info, err := lstat(fsys, root)
	if err != nil {
		err = fn(".", nil, err)
	} else {
		err = walk(fsys, root, ".", info, fn)
	}
	if errors.Is(err, filepath.SkipDir) || errors.Is(err, filepath.SkipAll) {
		return nil
	}
	return err
}

func walk(fsys afero.Fs, root string, rel string, info os.FileInfo, fn WalkFunc) error {
	if err := fn(rel, info, nil); err != nil || !info.IsDir() {
		if errors.Is(err, filepath.SkipDir) && info.IsDir() {
			err = nil
		}
		return err
	}

	entries, err := readDir(fsys, filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		// Second call, to report the ReadDir error.
		err = fn(rel, info, err)
		if err != nil {
			if errors.Is(err, filepath.SkipDir) {
				err = nil
			}
			return err
		}
	}

	for _, entry := range entries {
		child := entry.Name()
		if rel != "." {
			child = path.Join(rel, entry.Name())
		}
		if err := walk(fsys, root, child, entry, fn); err != nil {
			if errors.Is(err, filepath.SkipDir) {
				break
			}
			return err
		}
	}
	return nil
}

// readDir returns a lexically sorted directory listing. It should be used instead of
// afero.ReadDir to avoid its plain name sort.
func readDir(fsys afero.Fs, dir string) ([]os.FileInfo, error) {
	f, err := fsys.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := f.Readdir(-1)
	if err != nil {
		return nil, err
	}

	// Directories receive a trailing '/' so they sort distinctly from files with the same prefix.
	sortName := func(entry os.FileInfo) string {
		if entry.IsDir() {
			return entry.Name() + "/"
		}
		return entry.Name()
	}
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})
	return entries, nil
}

func lstat(fsys afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fsys.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fsys.Stat(name)
}

// Entry is a regular file discovered by ListFiles.
type Entry struct {
	// Path is relative to the listing root and always uses forward slashes.
	Path string
	Info os.FileInfo
}

// Predicate reports whether the entry at rel should be kept. Predicates are called for directories
// as well as files; rejecting a directory prunes everything below it.
type Predicate func(rel string, info os.FileInfo) (bool, error)

// ListFiles walks root and returns a flat list of every regular file accepted by keep, in walk
// order. Directories contribute no entry of their own. A nil keep accepts everything.
func ListFiles(fsys afero.Fs, root string, keep Predicate) ([]Entry, error) {
	var files []Entry
	err := Walk(fsys, root, func(rel string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if keep != nil {
			ok, err := keep(rel, info)
			if err != nil {
				return err
			}
			if !ok {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if info.Mode().IsRegular() {
			files = append(files, Entry{Path: rel, Info: info})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

const globCharacters = "*?["

// IsGlobPattern returns whether the pattern contains a glob pattern.
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, globCharacters)
}

// IsNotExist reports whether err indicates a missing file on any afero backend.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
