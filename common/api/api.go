// Package api defines the JSON bodies exchanged between the update server and its clients.
package api

import (
	"errors"
	"fmt"
	"path"

	"github.com/thinkparq/updater-go/common/manifest"
)

// Routes served by the update server.
const (
	PathUpload        = "/upload"
	PathCheck         = "/update/check"
	PathUpdateFile    = "/update" // /update/:app/:version/*path
	PathDownload      = "/download"
	PathRepository    = "/repository"
	PathLatestVersion = "/repository/latest"
)

// Multipart form fields accepted by PathUpload.
const (
	FormFile    = "file"
	FormAppName = "appName"
	FormVersion = "version"
	FormLatest  = "latest"
)

// ErrBadRequest marks request bodies that are structurally invalid.
var ErrBadRequest = errors.New("bad request")

// Result is the envelope for every JSON response. Code mirrors the HTTP status.
type Result[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data,omitempty"`
}

// Success reports whether the server accepted the request.
func (r Result[T]) Success() bool {
	return r.Code >= 200 && r.Code < 300
}

// File types reported by repository listings.
const (
	TypeFile      = "FILE"
	TypeDirectory = "DIRECTORY"
)

// FileModel describes one file in a check request or response, or one entry in a repository
// listing.
type FileModel struct {
	Path   string `json:"path"`
	Name   string `json:"name,omitempty"`
	CRC32  uint32 `json:"crc32"`
	Size   int64  `json:"size,omitempty"`
	Option string `json:"option,omitempty"`
	Type   string `json:"type,omitempty"`
}

// UpdateModel is both the check-for-update request (the client's installed state) and its
// response (the latest manifest annotated with actions).
type UpdateModel struct {
	AppName string      `json:"appName"`
	Version string      `json:"version"`
	Files   []FileModel `json:"files"`
}

// FromEntries converts manifest entries to their wire form.
func FromEntries(entries []manifest.Entry) []FileModel {
	files := make([]FileModel, 0, len(entries))
	for _, e := range entries {
		files = append(files, FileModel{
			Path:   e.Path,
			Name:   path.Base(e.Path),
			CRC32:  e.Checksum,
			Size:   e.Size,
			Option: string(e.Action),
			Type:   TypeFile,
		})
	}
	return files
}

// NewUpdateModel converts a manifest to its wire form.
func NewUpdateModel(m manifest.Manifest) UpdateModel {
	return UpdateModel{AppName: m.AppName, Version: m.Version, Files: FromEntries(m.Entries)}
}

// Entries validates the files and converts them back to manifest entries. Invalid paths are
// rejected with manifest.ErrMalformed, the same as a malformed CHECKLIST line.
func (u UpdateModel) Entries() ([]manifest.Entry, error) {
	entries := make([]manifest.Entry, 0, len(u.Files))
	seen := make(map[string]struct{}, len(u.Files))
	for i, f := range u.Files {
		if err := manifest.ValidatePath(f.Path); err != nil {
			return nil, fmt.Errorf("%w: file %d: %w", manifest.ErrMalformed, i, err)
		}
		if _, dup := seen[f.Path]; dup {
			return nil, fmt.Errorf("%w: file %d: duplicate path %q", manifest.ErrMalformed, i, f.Path)
		}
		seen[f.Path] = struct{}{}
		action, err := manifest.ParseAction(f.Option)
		if err != nil {
			return nil, fmt.Errorf("%w: file %d: %w", manifest.ErrMalformed, i, err)
		}
		entries = append(entries, manifest.Entry{Path: f.Path, Checksum: f.CRC32, Size: f.Size, Action: action})
	}
	return entries, nil
}

// Manifest converts the model to a manifest.
func (u UpdateModel) Manifest() (manifest.Manifest, error) {
	entries, err := u.Entries()
	if err != nil {
		return manifest.Manifest{}, err
	}
	return manifest.Manifest{AppName: u.AppName, Version: u.Version, Entries: entries}, nil
}

// CheckRequest is the body of a check-for-update call: the client's installed state.
type CheckRequest = UpdateModel

// BrowseEntry is one child in a repository listing.
type BrowseEntry struct {
	Name string `json:"name"`
	// Path is relative to the repository base and can be passed back to the listing endpoint.
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
	// Latest marks the version the latest pointer of its application names.
	Latest bool `json:"latest,omitempty"`
}

// UploadResponse is returned by a successful publish.
type UploadResponse struct {
	AppName     string `json:"appName"`
	Version     string `json:"version"`
	Latest      bool   `json:"latest"`
	Files       int    `json:"files"`
	Ignored     int    `json:"ignored"`
	ContentSize int64  `json:"contentSize"`
	ArchiveSize int64  `json:"archiveSize"`
}
