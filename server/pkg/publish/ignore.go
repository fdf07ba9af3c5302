package publish

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/filesystem"
)

// removeIgnored deletes every file and directory below root that ignorer matches and returns how
// many were removed. A removed directory counts once.
func removeIgnored(fsys afero.Fs, root string, ignorer *filesystem.Ignorer) (int, error) {
	var doomed []string
	err := filesystem.Walk(fsys, root, func(rel string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		ignored, err := ignorer.Ignored(rel, info)
		if err != nil {
			return err
		}
		if !ignored {
			return nil
		}
		doomed = append(doomed, rel)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, rel := range doomed {
		if err := fsys.RemoveAll(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}
