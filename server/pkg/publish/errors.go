package publish

import "errors"

var (
	// ErrVersionConflict is returned when the version being published already exists. Published
	// versions are immutable.
	ErrVersionConflict = errors.New("version already exists")
	// ErrInvalidArchive is returned for uploads that are not zip archives or whose contents can't
	// be expanded safely.
	ErrInvalidArchive = errors.New("invalid archive")
)
