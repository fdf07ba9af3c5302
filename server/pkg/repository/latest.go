package repository

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
)

// ResolveLatestVersion reads the latest pointer of app. Readers resolve "latest" strictly through
// the pointer and never by scanning version directories.
func (r *Repository) ResolveLatestVersion(app string) (string, error) {
	path, err := r.LatestPointerFile(app, true)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if filesystem.IsNotExist(err) {
			return "", fmt.Errorf("%w: latest version of %q", ErrNotFound, app)
		}
		return "", err
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("%w: latest version of %q (pointer is empty)", ErrNotFound, app)
	}
	return version, nil
}

// SetLatest atomically points the latest pointer of app at version. Updates for the same
// application are serialized, both within this process and, where the backing file system
// supports it, across processes sharing the repository.
func (r *Repository) SetLatest(app string, version string) error {
	h, err := r.Handle(app, version)
	if err != nil {
		return err
	}
	if _, err := r.VersionDir(app, version, true); err != nil {
		return err
	}
	unlock, err := r.locks.lock(app, h.Root)
	if err != nil {
		return fmt.Errorf("unable to lock latest pointer of %q: %w", app, err)
	}
	defer unlock()
	return manifest.WriteFileAtomic(r.fs, h.Latest, []byte(version), 0644)
}

// appLocks hands out one mutex per application.
type appLocks struct {
	fs    afero.Fs
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAppLocks(fsys afero.Fs) *appLocks {
	return &appLocks{fs: fsys, locks: make(map[string]*sync.Mutex)}
}

func (l *appLocks) lock(app string, root string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[app]
	if !ok {
		m = new(sync.Mutex)
		l.locks[app] = m
	}
	l.mu.Unlock()

	m.Lock()
	release, err := fileLock(l.fs, root)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		release()
		m.Unlock()
	}, nil
}
