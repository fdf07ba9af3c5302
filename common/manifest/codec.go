package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// maxLineLength bounds a single CHECKLIST line. Paths are far shorter in practice.
const maxLineLength = 1 << 20

// Parse reads a CHECKLIST. Any malformed line aborts the whole parse with an error wrapping
// ErrMalformed that names the offending line number.
func Parse(r io.Reader) (Manifest, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	lineNum := 0
	next := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		lineNum++
		return strings.TrimSuffix(scanner.Text(), "\r"), true
	}

	for range header {
		if _, ok := next(); !ok {
			return Manifest{}, malformed(scanner.Err(), lineNum+1, "missing header")
		}
	}

	var m Manifest
	for _, field := range []struct {
		prefix string
		dst    *string
	}{
		{appNamePrefix, &m.AppName},
		{versionPrefix, &m.Version},
	} {
		line, ok := next()
		if !ok {
			return Manifest{}, malformed(scanner.Err(), lineNum+1, "missing "+strings.TrimSpace(field.prefix))
		}
		value, found := strings.CutPrefix(line, field.prefix)
		if !found || strings.TrimSpace(value) == "" {
			return Manifest{}, malformed(nil, lineNum, "expected non-blank "+strings.TrimSpace(field.prefix))
		}
		*field.dst = strings.TrimSpace(value)
	}

	seen := make(map[string]struct{})
	for {
		line, ok := next()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			return Manifest{}, malformed(err, lineNum, "invalid entry")
		}
		if _, dup := seen[entry.Path]; dup {
			return Manifest{}, malformed(nil, lineNum, fmt.Sprintf("duplicate path %q", entry.Path))
		}
		seen[entry.Path] = struct{}{}
		m.Entries = append(m.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, malformed(err, lineNum+1, "read failed")
	}
	return m, nil
}

// parseEntry splits on the last separator so a path containing a colon still parses.
func parseEntry(line string) (Entry, error) {
	i := strings.LastIndex(line, separator)
	if i < 0 {
		return Entry{}, fmt.Errorf("no %q separator in %q", separator, line)
	}
	path, digits := line[:i], line[i+1:]
	if err := ValidatePath(path); err != nil {
		return Entry{}, err
	}
	sum, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("checksum of %q: %w", path, err)
	}
	return Entry{Path: path, Checksum: uint32(sum)}, nil
}

func malformed(cause error, line int, msg string) error {
	if cause != nil {
		return fmt.Errorf("%w: line %d: %s: %w", ErrMalformed, line, msg, cause)
	}
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, line, msg)
}

// Serialize writes m as a CHECKLIST. Entries are written in their current order and must have
// valid paths.
func Serialize(w io.Writer, m Manifest) error {
	if strings.TrimSpace(m.AppName) == "" || strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: app name and version are required", ErrMalformed)
	}
	if strings.ContainsAny(m.AppName+m.Version, "\r\n") {
		return fmt.Errorf("%w: app name and version must be a single line", ErrMalformed)
	}
	// Parse trims both values, so surrounding whitespace would not survive a round trip.
	if m.AppName != strings.TrimSpace(m.AppName) || m.Version != strings.TrimSpace(m.Version) {
		return fmt.Errorf("%w: app name %q and version %q must not have surrounding whitespace", ErrMalformed, m.AppName, m.Version)
	}
	bw := bufio.NewWriter(w)
	for _, line := range header {
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	bw.WriteString(appNamePrefix + m.AppName + "\n")
	bw.WriteString(versionPrefix + m.Version + "\n")
	for _, e := range m.Entries {
		if err := ValidatePath(e.Path); err != nil {
			return err
		}
		bw.WriteString(e.Path)
		bw.WriteString(separator)
		bw.WriteString(strconv.FormatUint(uint64(e.Checksum), 10))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Marshal returns the serialized form of m.
func Marshal(m Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := Serialize(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromDisk parses the CHECKLIST at path.
func FromDisk(fsys afero.Fs, path string) (Manifest, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ToDisk writes m to path. The file is written to a temporary file in the same directory first
// and renamed into place so readers never observe a partial manifest.
func ToDisk(fsys afero.Fs, m Manifest, path string) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	return WriteFileAtomic(fsys, path, data, 0644)
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it into place.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = fsys.Chmod(tmpName, perm)
	}
	if err == nil {
		err = fsys.Rename(tmpName, path)
	}
	if err != nil {
		fsys.Remove(tmpName)
		return fmt.Errorf("unable to write %s: %w", path, err)
	}
	return nil
}
