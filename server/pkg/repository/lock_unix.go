//go:build unix

package repository

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// fileLock takes an exclusive flock on <root>/.latest.lock when the repository lives on the real
// file system. Other backends only get the in-process mutex.
func fileLock(fsys afero.Fs, root string) (func(), error) {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return func() {}, nil
	}
	f, err := os.OpenFile(filepath.Join(root, lockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
