// Package archive reads and writes the zip archives applications are published and downloaded as.
// All access goes through an afero.Fs.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/filesystem"
)

var (
	// ErrArchiveIO is returned when reading or writing an archive fails for reasons other than the
	// archive contents.
	ErrArchiveIO = errors.New("archive I/O failure")
	// ErrCorrupt is returned for data that is not a zip archive, or that holds entries which would
	// be written outside of the destination directory.
	ErrCorrupt = errors.New("corrupt archive")
)

const (
	defaultFilePerm = 0644
	defaultDirPerm  = 0755
)

// Extract expands the zip archive at src into dest, creating dest if needed. It returns the number
// of regular files written. Entries with absolute names or ".." segments are rejected before
// anything below them is written.
func Extract(ctx context.Context, fsys afero.Fs, src string, dest string) (int, error) {
	f, err := fsys.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) || errors.Is(err, zip.ErrInsecurePath) {
			return 0, fmt.Errorf("%w: %s: %w", ErrCorrupt, filepath.Base(src), err)
		}
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}

	// Validate every name first so a hostile archive writes nothing at all.
	for _, zf := range zr.File {
		if _, err := entryPath(dest, zf.Name); err != nil {
			return 0, err
		}
	}

	if err := fsys.MkdirAll(dest, defaultDirPerm); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	written := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		target, _ := entryPath(dest, zf.Name)
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := fsys.MkdirAll(target, defaultDirPerm); err != nil {
				return written, fmt.Errorf("%w: %w", ErrArchiveIO, err)
			}
			continue
		case !mode.IsRegular():
			// Links and devices have no place in published content.
			continue
		}
		if err := extractFile(fsys, zf, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractFile(fsys afero.Fs, zf *zip.File, target string) error {
	if err := fsys.MkdirAll(filepath.Dir(target), defaultDirPerm); err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	perm := zf.Mode().Perm()
	if perm == 0 {
		perm = defaultFilePerm
	}
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, zf.Name, err)
	}
	defer rc.Close()
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0200)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	_, err = io.Copy(out, rc)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return fmt.Errorf("%w: %s: %w", ErrCorrupt, zf.Name, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrArchiveIO, zf.Name, err)
	}
	return nil
}

// entryPath returns where the entry name is written below dest.
func entryPath(dest string, name string) (string, error) {
	clean := strings.ReplaceAll(name, `\`, "/")
	if clean == "" || strings.HasPrefix(clean, "/") || filepath.IsAbs(name) || (len(clean) > 1 && clean[1] == ':') {
		return "", fmt.Errorf("%w: entry %q has an absolute name", ErrCorrupt, name)
	}
	for seg := range strings.SplitSeq(clean, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: entry %q escapes the destination", ErrCorrupt, name)
		}
	}
	return filepath.Join(dest, filepath.FromSlash(path.Clean(clean))), nil
}

// Create writes every regular file below srcDir into a new zip archive at dst. When prefix is set
// the entries are stored below that directory name inside the archive. The archive is written to
// a temporary sibling of dst and renamed into place, replacing any previous archive. It returns the
// size of the archive in bytes.
func Create(ctx context.Context, fsys afero.Fs, srcDir string, dst string, prefix string) (int64, error) {
	files, err := filesystem.ListFiles(fsys, srcDir, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}

	tmp, err := afero.TempFile(fsys, filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func(err error) (int64, error) {
		tmp.Close()
		fsys.Remove(tmpName)
		return 0, err
	}

	zw := zip.NewWriter(tmp)
	if prefix != "" {
		if _, err := zw.CreateHeader(&zip.FileHeader{Name: prefix + "/", Method: zip.Store}); err != nil {
			return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
		}
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return cleanup(err)
		}
		name := file.Path
		if prefix != "" {
			name = prefix + "/" + name
		}
		if err := addFile(fsys, zw, filepath.Join(srcDir, filepath.FromSlash(file.Path)), name, file.Info); err != nil {
			return cleanup(err)
		}
	}
	if err := zw.Close(); err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
	}
	info, err := tmp.Stat()
	if err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
	}
	if err := tmp.Close(); err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
	}
	if err := fsys.Chmod(tmpName, defaultFilePerm); err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
	}
	if err := fsys.Rename(tmpName, dst); err != nil {
		return cleanup(fmt.Errorf("%w: %w", ErrArchiveIO, err))
	}
	return info.Size(), nil
}

func addFile(fsys afero.Fs, zw *zip.Writer, src string, name string, info os.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	header.Name = name
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	f, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveIO, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArchiveIO, name, err)
	}
	return nil
}
