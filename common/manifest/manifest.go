// Package manifest implements the CHECKLIST format that describes one published application
// version: its name, its version and the checksum of every file in its content root.
//
// A CHECKLIST looks like:
//
//	# CHECKLIST generated by updater, do not edit.
//	# Each entry is <relative path>:<CRC-32 of the file contents>.
//	AppName: demo
//	Version: 1.2.0
//	bin/demo.exe:3512109331
//	lib/core.dll:220491872
//
// The file is the durable contract between server and client and must remain byte compatible.
package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// FileName is the name of the manifest inside a content root.
const FileName = "CHECKLIST"

const (
	appNamePrefix = "AppName: "
	versionPrefix = "Version: "
	separator     = ":"
)

// header is the fixed banner written ahead of the AppName line. Parsers skip exactly len(header)
// lines without inspecting them.
var header = []string{
	"# CHECKLIST generated by updater, do not edit.",
	"# Each entry is <relative path>:<CRC-32 of the file contents>.",
}

// Action is the change a client must apply to bring one file up to date.
type Action string

const (
	// ActionNone marks entries read from storage and files that are already up to date.
	ActionNone      Action = ""
	ActionAdd       Action = "ADD"
	ActionOverwrite Action = "OVERWRITE"
	ActionDelete    Action = "DELETE"
)

// ParseAction accepts the wire form of an action. An empty string is ActionNone.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionNone, ActionAdd, ActionOverwrite, ActionDelete:
		return a, nil
	default:
		return ActionNone, fmt.Errorf("unknown file action %q", s)
	}
}

// Entry is a single file in a manifest.
type Entry struct {
	// Path is relative to the content root, slash separated and unique within a manifest.
	Path     string
	Checksum uint32
	// Size in bytes when known. It is not part of the CHECKLIST format.
	Size int64
	// Action is only populated on entries produced by the diff engine.
	Action Action
}

type Manifest struct {
	AppName string
	Version string
	// Entries are kept in traversal order when the manifest is built from a directory.
	Entries []Entry
}

// Index returns the entries keyed by path.
func (m Manifest) Index() map[string]Entry {
	idx := make(map[string]Entry, len(m.Entries))
	for _, e := range m.Entries {
		idx[e.Path] = e
	}
	return idx
}

var (
	// ErrMalformed is returned for any CHECKLIST that can't be parsed.
	ErrMalformed = errors.New("malformed manifest")
	// ErrInvalidPath is returned for entry paths that are blank, absolute, or escape the root.
	ErrInvalidPath = errors.New("invalid manifest path")
)

// ValidatePath checks an entry path is safe to join to a content root: non-blank, relative, free
// of ".." segments and line breaks.
func ValidatePath(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return fmt.Errorf("%w: path is blank", ErrInvalidPath)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	case strings.ContainsAny(p, "\r\n"):
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidPath, p)
	}
	for seg := range strings.SplitSeq(p, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q contains a parent directory reference", ErrInvalidPath, p)
		}
	}
	return nil
}

// HeaderOnly returns a manifest without entries, the baseline of a fresh installation. Surrounding
// whitespace is dropped from both values.
func HeaderOnly(appName string, version string) Manifest {
	return Manifest{AppName: strings.TrimSpace(appName), Version: strings.TrimSpace(version), Entries: []Entry{}}
}
