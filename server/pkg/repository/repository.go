// Package repository is the single source of truth for where published application versions live
// on disk. Both the publish path and the check/download paths resolve locations through it.
//
//	<base>/<app>/LATEST                       latest pointer
//	<base>/<app>/<version>/<app>.zip          canonical archive
//	<base>/<app>/<version>/Content/           expanded, filtered content root
//	<base>/<app>/<version>/Content/CHECKLIST  manifest
//
// Nothing is cached: every call reflects what is on disk at the time it is made.
package repository

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
)

const (
	ContentDirName = "Content"
	LatestFileName = "LATEST"
	ArchiveExt     = ".zip"
	lockFileName   = ".latest.lock"
)

type Config struct {
	// Base is the repository root directory holding one directory per application.
	Base string `mapstructure:"base"`
}

type Repository struct {
	fs    afero.Fs
	base  string
	locks *appLocks
}

func New(fsys afero.Fs, config Config) *Repository {
	return &Repository{
		fs:    fsys,
		base:  filepath.Clean(config.Base),
		locks: newAppLocks(fsys),
	}
}

// Fs returns the file system backing the repository.
func (r *Repository) Fs() afero.Fs {
	return r.fs
}

// Base returns the repository root directory.
func (r *Repository) Base() string {
	return r.base
}

// Handle is a resolved set of locations for one application version. Handles are cheap and must
// not be kept across requests.
type Handle struct {
	App        string
	Version    string
	Root       string
	VersionDir string
	ContentDir string
	Archive    string
	Manifest   string
	Latest     string
}

// ArchiveName is the file name an archive is offered under when downloaded.
func (h Handle) ArchiveName() string {
	return h.App + "-" + h.Version + ArchiveExt
}

// Handle derives every location for app and version without touching the disk.
func (r *Repository) Handle(app string, version string) (Handle, error) {
	root, err := r.Root(app, false)
	if err != nil {
		return Handle{}, err
	}
	if err := validName("version", version); err != nil {
		return Handle{}, err
	}
	versionDir := filepath.Join(root, version)
	contentDir := filepath.Join(versionDir, ContentDirName)
	return Handle{
		App:        app,
		Version:    version,
		Root:       root,
		VersionDir: versionDir,
		ContentDir: contentDir,
		Archive:    filepath.Join(versionDir, app+ArchiveExt),
		Manifest:   filepath.Join(contentDir, manifest.FileName),
		Latest:     filepath.Join(root, LatestFileName),
	}, nil
}

// Root returns <base>/<app>.
func (r *Repository) Root(app string, mustExist bool) (string, error) {
	if err := validName("application", app); err != nil {
		return "", err
	}
	root := filepath.Join(r.base, app)
	return root, r.check(mustExist, root, "application %q", app)
}

// VersionDir returns <base>/<app>/<version>.
func (r *Repository) VersionDir(app string, version string, mustExist bool) (string, error) {
	h, err := r.resolve(app, version, mustExist)
	if err != nil {
		return "", err
	}
	return h.VersionDir, nil
}

// ContentDir returns <base>/<app>/<version>/Content.
func (r *Repository) ContentDir(app string, version string, mustExist bool) (string, error) {
	h, err := r.resolve(app, version, mustExist)
	if err != nil {
		return "", err
	}
	return h.ContentDir, r.check(mustExist, h.ContentDir, "content of %s %s", app, version)
}

// ArchiveFile returns <base>/<app>/<version>/<app>.zip.
func (r *Repository) ArchiveFile(app string, version string, mustExist bool) (string, error) {
	h, err := r.resolve(app, version, mustExist)
	if err != nil {
		return "", err
	}
	return h.Archive, r.check(mustExist, h.Archive, "archive of %s %s", app, version)
}

// ManifestFile returns <base>/<app>/<version>/Content/CHECKLIST.
func (r *Repository) ManifestFile(app string, version string, mustExist bool) (string, error) {
	contentDir, err := r.ContentDir(app, version, mustExist)
	if err != nil {
		return "", err
	}
	path := filepath.Join(contentDir, manifest.FileName)
	return path, r.check(mustExist, path, "%s of %s %s", manifest.FileName, app, version)
}

// LatestPointerFile returns <base>/<app>/LATEST.
func (r *Repository) LatestPointerFile(app string, mustExist bool) (string, error) {
	root, err := r.Root(app, mustExist)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, LatestFileName)
	return path, r.check(mustExist, path, "latest version of %q", app)
}

// SingleFile returns the location of rel inside the content root of app and version. Any rel that
// contains a ".." segment, is absolute, or otherwise resolves outside of the content root is
// rejected with ErrPathTraversal before the disk is consulted.
func (r *Repository) SingleFile(app string, version string, rel string, mustExist bool) (string, error) {
	if err := checkRelative(rel); err != nil {
		return "", err
	}
	contentDir, err := r.ContentDir(app, version, mustExist)
	if err != nil {
		return "", err
	}
	path := filepath.Join(contentDir, filepath.FromSlash(rel))
	if !within(contentDir, path) || path == contentDir {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	if err := r.check(mustExist, path, "file %q in %s %s", rel, app, version); err != nil {
		return "", err
	}
	if mustExist {
		if info, err := r.fs.Stat(path); err == nil && info.IsDir() {
			return "", fmt.Errorf("%w: file %q in %s %s is a directory", ErrNotFound, rel, app, version)
		}
	}
	return path, nil
}

// LoadManifest reads and parses the manifest of app and version. It is re-read on every call.
func (r *Repository) LoadManifest(app string, version string) (manifest.Manifest, error) {
	path, err := r.ManifestFile(app, version, true)
	if err != nil {
		return manifest.Manifest{}, err
	}
	m, err := manifest.FromDisk(r.fs, path)
	if err != nil {
		if filesystem.IsNotExist(err) {
			return manifest.Manifest{}, fmt.Errorf("%w: %s of %s %s", ErrNotFound, manifest.FileName, app, version)
		}
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (r *Repository) resolve(app string, version string, mustExist bool) (Handle, error) {
	if _, err := r.Root(app, mustExist); err != nil {
		return Handle{}, err
	}
	h, err := r.Handle(app, version)
	if err != nil {
		return Handle{}, err
	}
	return h, r.check(mustExist, h.VersionDir, "version %q of %q", version, app)
}

func (r *Repository) check(mustExist bool, path string, format string, args ...any) error {
	if !mustExist {
		return nil
	}
	if _, err := r.fs.Stat(path); err != nil {
		if filesystem.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
		}
		return err
	}
	return nil
}

// validName checks a name used as a single path component.
func validName(kind string, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: %s name is blank", ErrInvalidName, kind)
	case name != strings.TrimSpace(name) || strings.ContainsAny(name, "\r\n"):
		return fmt.Errorf("%w: %s name %q has surrounding whitespace or line breaks", ErrInvalidName, kind, name)
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %s name %q", ErrPathTraversal, kind, name)
	}
	return nil
}

func checkRelative(rel string) error {
	if strings.TrimSpace(rel) == "" {
		return fmt.Errorf("%w: path is blank", ErrInvalidName)
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) || strings.ContainsRune(rel, 0) {
		return fmt.Errorf("%w: %q is absolute", ErrPathTraversal, rel)
	}
	for _, seg := range strings.FieldsFunc(rel, func(c rune) bool { return c == '/' || c == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrPathTraversal, rel)
		}
	}
	return nil
}

func within(root string, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
