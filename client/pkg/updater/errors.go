package updater

import "errors"

var (
	// ErrNotConfigured is returned when no local CHECKLIST exists and the application name or
	// version needed to create one is missing.
	ErrNotConfigured = errors.New("application name and version are required to initialize a CHECKLIST")
	// ErrServer wraps any response the update server did not answer with success.
	ErrServer = errors.New("update server error")
	// ErrNotFound is returned when the server has no published version of the application.
	ErrNotFound = errors.New("not found")
	// ErrUnsafePath is returned for server supplied paths that would escape the install root.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrChecksumMismatch is returned when a downloaded file does not match its advertised checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)
