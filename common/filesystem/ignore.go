package filesystem

import (
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

// IgnoreRules selects files and directories that are stripped from published content.
type IgnoreRules struct {
	// Names are exact base names matched at any depth (e.g. ".DS_Store").
	Names []string `mapstructure:"names"`
	// Patterns are doublestar globs. Patterns without a slash are matched against the base name at
	// any depth, patterns with a slash against the full relative path.
	Patterns []string `mapstructure:"patterns"`
	// Filter is an optional expression in the syntax described by FilterFilesHelp.
	Filter string `mapstructure:"filter"`
}

// Merge returns the union of r and other. Filters are combined with "or".
func (r IgnoreRules) Merge(other IgnoreRules) IgnoreRules {
	merged := IgnoreRules{
		Names:    append(slices.Clone(r.Names), other.Names...),
		Patterns: append(slices.Clone(r.Patterns), other.Patterns...),
	}
	switch {
	case r.Filter != "" && other.Filter != "":
		merged.Filter = fmt.Sprintf("(%s) or (%s)", r.Filter, other.Filter)
	case r.Filter != "":
		merged.Filter = r.Filter
	default:
		merged.Filter = other.Filter
	}
	return merged
}

// Ignorer is the compiled form of IgnoreRules. The zero value ignores nothing.
type Ignorer struct {
	names    map[string]struct{}
	patterns []string
	filter   FileInfoFilter
}

// Compile validates the rules and prepares them for matching.
func (r IgnoreRules) Compile() (*Ignorer, error) {
	i := &Ignorer{names: make(map[string]struct{}, len(r.Names))}
	for _, n := range r.Names {
		if n = strings.TrimSpace(n); n != "" {
			i.names[n] = struct{}{}
		}
	}
	for _, p := range r.Patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
		i.patterns = append(i.patterns, p)
	}
	if strings.TrimSpace(r.Filter) != "" {
		filter, err := CompileFilter(r.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore filter %q: %w", r.Filter, err)
		}
		i.filter = filter
	}
	return i, nil
}

// IgnoredName reports whether a bare name is ignored by the name list or a slash-free pattern.
// It is used where only names are known, such as directory listings.
func (i *Ignorer) IgnoredName(name string) bool {
	if i == nil {
		return false
	}
	if _, ok := i.names[name]; ok {
		return true
	}
	for _, p := range i.patterns {
		if strings.Contains(p, "/") {
			continue
		}
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Ignored reports whether the entry at rel (slash separated, relative to the content root) is
// ignored.
func (i *Ignorer) Ignored(rel string, info fs.FileInfo) (bool, error) {
	if i == nil {
		return false, nil
	}
	if i.IgnoredName(path.Base(rel)) {
		return true, nil
	}
	for _, p := range i.patterns {
		if !strings.Contains(p, "/") {
			continue
		}
		match, err := doublestar.Match(p, rel)
		if err != nil {
			return false, fmt.Errorf("failed to match path %q with pattern %q: %w", rel, p, err)
		}
		if match {
			return true, nil
		}
	}
	return ApplyFilter(rel, info, i.filter)
}

// Keep adapts the Ignorer to a Predicate for ListFiles.
func (i *Ignorer) Keep(rel string, info fs.FileInfo) (bool, error) {
	ignored, err := i.Ignored(rel, info)
	return !ignored, err
}
