// Package diff computes the per-file actions that bring a client's installed files in line with a
// published manifest.
package diff

import (
	"github.com/thinkparq/updater-go/common/manifest"
)

// Result is the latest manifest annotated with the actions a client must apply. Files the client
// already holds with a matching checksum are omitted.
type Result struct {
	AppName string
	Version string
	Entries []manifest.Entry
}

// HasChanges reports whether any action is required.
func (r Result) HasChanges() bool {
	return len(r.Entries) > 0
}

// Actionable returns the entries carrying the given action.
func (r Result) Actionable(action manifest.Action) []manifest.Entry {
	var out []manifest.Entry
	for _, e := range r.Entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Compare diffs the client's entries against reference, the latest published manifest.
//
// Every reference path missing from client is ADD, every shared path with a different checksum is
// OVERWRITE and every client-only path is DELETE. Unchanged files are dropped. An empty client
// means nothing is installed, so every reference entry is ADD. When any action results, checklist
// is appended as an ADD so the client can adopt the new manifest as its baseline once everything
// else is applied. Pass a zero Entry to skip the synthetic entry.
//
// Neither input is modified. DELETE entries are placed ahead of ADD and OVERWRITE entries.
func Compare(reference manifest.Manifest, client []manifest.Entry, checklist manifest.Entry) Result {
	result := Result{AppName: reference.AppName, Version: reference.Version}

	if len(client) == 0 {
		for _, e := range reference.Entries {
			e.Action = manifest.ActionAdd
			result.Entries = append(result.Entries, e)
		}
		return withChecklist(result, checklist)
	}

	referenceIdx := reference.Index()
	clientIdx := make(map[string]manifest.Entry, len(client))
	for _, e := range client {
		// The client's copy of the manifest is replaced by the synthetic entry, never deleted.
		if checklist.Path != "" && e.Path == checklist.Path {
			continue
		}
		if _, dup := clientIdx[e.Path]; dup {
			continue
		}
		clientIdx[e.Path] = e
		if _, ok := referenceIdx[e.Path]; ok {
			continue
		}
		e.Action = manifest.ActionDelete
		result.Entries = append(result.Entries, e)
	}

	for _, e := range reference.Entries {
		installed, ok := clientIdx[e.Path]
		switch {
		case !ok:
			e.Action = manifest.ActionAdd
		case installed.Checksum != e.Checksum:
			e.Action = manifest.ActionOverwrite
		default:
			continue
		}
		result.Entries = append(result.Entries, e)
	}

	return withChecklist(result, checklist)
}

func withChecklist(result Result, checklist manifest.Entry) Result {
	if len(result.Entries) == 0 || checklist.Path == "" {
		return result
	}
	checklist.Action = manifest.ActionAdd
	result.Entries = append(result.Entries, checklist)
	return result
}
