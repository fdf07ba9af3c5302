package manifest

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/checksum"
	"github.com/thinkparq/updater-go/common/filesystem"
)

// Build walks contentRoot and returns a manifest listing the checksum and size of every regular
// file accepted by keep (nil keeps everything). The CHECKLIST at the top of contentRoot is never
// listed in itself.
func Build(ctx context.Context, fsys afero.Fs, contentRoot string, appName string, version string, keep filesystem.Predicate) (Manifest, error) {
	files, err := filesystem.ListFiles(fsys, contentRoot, func(rel string, info os.FileInfo) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if rel == FileName && !info.IsDir() {
			return false, nil
		}
		if keep == nil {
			return true, nil
		}
		return keep(rel, info)
	})
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		AppName: appName,
		Version: version,
		Entries: make([]Entry, 0, len(files)),
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		sum, size, err := checksum.File(fsys, filepath.Join(contentRoot, filepath.FromSlash(f.Path)))
		if err != nil {
			return Manifest{}, err
		}
		m.Entries = append(m.Entries, Entry{Path: path.Clean(f.Path), Checksum: sum, Size: size})
	}
	return m, nil
}
