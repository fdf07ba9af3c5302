package filesystem

import (
	"fmt"
	"io/fs"
	"maps"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// FileInfo is the environment an ignore filter expression is evaluated against.
type FileInfo struct {
	Path  string    // Path relative to the content root
	Name  string    // Base name of the file
	Size  int64     // File size in bytes
	Mode  uint32    // stat style mode bits (type + permissions)
	Perm  uint32    // just the permission bits (mode & 07777)
	Mtime time.Time // Modification time
}

const FilterFilesHelp = "Ignore files matching an expression over name, path (strings), size (bytes or 512KB, 3MiB), " +
	"mtime (age like 30m, 12h, 7d, 2w), perm (octal like 644), mode (0100644 or decimal) and " +
	"type (file, directory, symlink, fifo, socket, block, char). Supports ==, !=, <, >, <=, >=, and, or, not " +
	"plus glob(name|path, pattern) and regex(name|path, pattern). " +
	"Example: \"type == file and (size > 512MiB or glob(name, '*.pdb'))\""

const fileTypeMask = 0o170000

var fileTypes = map[string]uint32{
	"file":      0o100000,
	"directory": 0o040000,
	"symlink":   0o120000,
	"block":     0o060000,
	"char":      0o020000,
	"fifo":      0o010000,
	"socket":    0o140000,
}

var (
	fileTypeGroup = "(?:" + strings.Join(slices.Sorted(maps.Keys(fileTypes)), "|") + ")"
	fileTypeRe    = regexp.MustCompile(`\b(?i)type\s*(==|!=)\s*(` + fileTypeGroup + `(?:\s*,\s*` + fileTypeGroup + `)*)\b`)
	// mode literals need a leading 0 and five or six octal digits so decimal values like 33188 pass
	// through untouched. perm literals are chmod style.
	modeOctRe = regexp.MustCompile(`\b(?i)(mode)\s*(==|!=|<=|>=|<|>)\s*(0[0-7]{5,6})\b`)
	permOctRe = regexp.MustCompile(`\b(?i)(perm)\s*(==|!=|<=|>=|<|>)\s*(0?[0-7]{3,4})\b`)
	mtimeRe   = regexp.MustCompile(`\b(?i)(mtime)\s*(<=|>=|<|>)\s*([0-9]+(?:\.[0-9]+)?(?:ms|s|m|h|d|w))\b`)
	sizeRe    = regexp.MustCompile(`\b(?i)(size)\s*(<=|>=|<|>|!=|==)\s*([0-9]+(?:\.[0-9]+)?(?:B|KB|MB|GB|TB|KiB|MiB|GiB|TiB))\b`)
	fieldRe   = regexp.MustCompile(`\b(?i)(mtime|size|name|path|mode|perm)\b`)
)

// An mtime is compared as an age: "mtime > 1d" selects files modified more than a day ago, which
// is Mtime < ago("1d").
var invertedOps = map[string]string{">": "<", "<": ">", ">=": "<=", "<=": ">="}

var sizeUnits = map[string]float64{
	"B":  1,
	"KB": 1e3, "MB": 1e6, "GB": 1e9, "TB": 1e12,
	"KiB": 1 << 10, "MiB": 1 << 20, "GiB": 1 << 30, "TiB": 1 << 40,
}

type FileInfoFilter func(FileInfo) (bool, error)

// CompileFilter turns a filter expression into a FileInfoFilter.
func CompileFilter(query string) (FileInfoFilter, error) {
	prog, err := expr.Compile(preprocessDSL(query),
		expr.Env(FileInfo{}),
		expr.AsBool(),
		expr.Function("ago", func(params ...any) (any, error) { return ago(params[0].(string)) }),
		expr.Function("bytes", func(params ...any) (any, error) { return parseBytes(params[0].(string)) }),
		expr.Function("glob", func(params ...any) (any, error) { return path.Match(params[1].(string), params[0].(string)) }),
		expr.Function("regex", func(params ...any) (any, error) { return regexp.MatchString(params[1].(string), params[0].(string)) }),
	)
	if err != nil {
		return nil, err
	}
	return func(fi FileInfo) (bool, error) {
		out, err := expr.Run(prog, fi)
		if err != nil {
			return false, fmt.Errorf("filter %q on %s: %w", query, fi.Path, err)
		}
		return out.(bool), nil
	}, nil
}

// preprocessDSL rewrites the user facing syntax into an expr program over FileInfo.
func preprocessDSL(q string) string {
	q = octalToDecimal(q, permOctRe)
	q = octalToDecimal(q, modeOctRe)
	q = expandFileTypes(q)
	q = mtimeRe.ReplaceAllStringFunc(q, func(m string) string {
		parts := mtimeRe.FindStringSubmatch(m)
		return fmt.Sprintf("Mtime %s ago(%q)", invertedOps[parts[2]], parts[3])
	})
	q = sizeRe.ReplaceAllString(q, `$1 $2 bytes("$3")`)
	return fieldRe.ReplaceAllStringFunc(q, func(s string) string {
		s = strings.ToLower(s)
		return strings.ToUpper(s[:1]) + s[1:]
	})
}

// expandFileTypes turns "type == file, directory" into a check of the type bits of Mode.
func expandFileTypes(q string) string {
	return fileTypeRe.ReplaceAllStringFunc(q, func(m string) string {
		parts := fileTypeRe.FindStringSubmatch(m)
		var clauses []string
		for name := range strings.SplitSeq(parts[2], ",") {
			bits, ok := fileTypes[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return m
			}
			clause := fmt.Sprintf("bitand(int(Mode), %d) == %d", fileTypeMask, bits)
			if !slices.Contains(clauses, clause) {
				clauses = append(clauses, clause)
			}
		}
		joined := "(" + strings.Join(clauses, " or ") + ")"
		if parts[1] == "!=" {
			return "not " + joined
		}
		return joined
	})
}

// octalToDecimal rewrites the octal literal matched by re, so 644, 0644 and 0o644 all become 420.
func octalToDecimal(q string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(q, func(m string) string {
		parts := re.FindStringSubmatch(m)
		digits := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(parts[3]), "0o"), "0")
		val, err := strconv.ParseInt(digits, 8, 64)
		if err != nil {
			return m
		}
		return fmt.Sprintf("%s %s %d", parts[1], parts[2], val)
	})
}

// ToFileInfo converts the fs.FileInfo of the entry at rel into the fields a filter can reference.
// Mode is expressed with stat(2) style type bits so expressions behave the same on every afero
// backend.
func ToFileInfo(rel string, info fs.FileInfo) FileInfo {
	mode := statMode(info.Mode())
	return FileInfo{
		Path:  rel,
		Name:  path.Base(rel),
		Size:  info.Size(),
		Mode:  mode,
		Perm:  mode & 0o7777,
		Mtime: info.ModTime(),
	}
}

func statMode(m fs.FileMode) uint32 {
	t := fileTypes["file"]
	switch {
	case m.IsDir():
		t = fileTypes["directory"]
	case m&fs.ModeSymlink != 0:
		t = fileTypes["symlink"]
	case m&fs.ModeNamedPipe != 0:
		t = fileTypes["fifo"]
	case m&fs.ModeSocket != 0:
		t = fileTypes["socket"]
	case m&fs.ModeCharDevice != 0:
		t = fileTypes["char"]
	case m&fs.ModeDevice != 0:
		t = fileTypes["block"]
	}
	perm := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		perm |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		perm |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		perm |= 0o1000
	}
	return t | perm
}

// ago returns the point in time that lies the given age in the past. Ages accept the units of
// time.ParseDuration plus d (days) and w (weeks).
func ago(age string) (time.Time, error) {
	day := 24 * time.Hour
	for suffix, unit := range map[string]time.Duration{"d": day, "w": 7 * day} {
		if num, ok := strings.CutSuffix(age, suffix); ok {
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid age %q: %w", age, err)
			}
			return time.Now().Add(-time.Duration(n * float64(unit))), nil
		}
	}
	d, err := time.ParseDuration(age)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

// parseBytes converts sizes like 512KB or 3MiB into a byte count.
func parseBytes(size string) (int64, error) {
	end := strings.LastIndexAny(size, "0123456789.") + 1
	num, unit := size[:end], size[end:]
	if unit == "" {
		unit = "B"
	}
	factor, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", size, err)
	}
	return int64(n * factor), nil
}

// ApplyFilter returns whether filter matches the entry at rel. If filter==nil then (false, nil)
// is returned so an unset filter never ignores anything.
func ApplyFilter(rel string, info fs.FileInfo, filter FileInfoFilter) (bool, error) {
	if filter == nil {
		return false, nil
	}
	match, err := filter(ToFileInfo(rel, info))
	if err != nil {
		return false, fmt.Errorf("unable to apply filter: %w", err)
	}
	return match, nil
}
