package repository

import "errors"

var (
	// ErrNotFound is returned when an application, version, manifest, archive, latest pointer, or
	// single file does not exist. The wrapping error names the missing resource.
	ErrNotFound = errors.New("not found")
	// ErrPathTraversal is returned for any name or relative path that would resolve outside of its
	// root directory.
	ErrPathTraversal = errors.New("path escapes its root directory")
	// ErrInvalidName is returned for blank application or version names and for names that would
	// not survive a CHECKLIST round trip.
	ErrInvalidName = errors.New("invalid name")
)
