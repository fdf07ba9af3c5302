package filesystem

import (
	"io/fs"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFilter_ValidExpressions(t *testing.T) {
	now := time.Now()
	fi := FileInfo{
		Path:  "bin/testfile.txt",
		Name:  "testfile.txt",
		Size:  123456,
		Mode:  0100644,
		Perm:  0644,
		Mtime: now.Add(-2 * time.Hour),
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"MatchName", `name == "testfile.txt"`, true},
		{"NoMatchName", `name == "other.txt"`, false},
		{"MatchPath", `path == "bin/testfile.txt"`, true},
		{"NoMatchPath", `path == "notfound"`, false},
		{"MatchSize", `size == 123456`, true},
		{"NoMatchSize", `size > 200000`, false},
		{"MatchModeDecimal", `mode == 33188`, true},              // Decimals are allowed for mode.
		{"MatchModeOctalNoLeadingZero", `mode == 100644`, false}, // A leading zero is required for mode when specifying octal.
		{"MatchModeOctalLeadingZero", `mode == 0100644`, true},
		{"MatchPermDecimal", `perm == 420`, false}, // Decimals are not allowed for perm.
		{"MatchPermOctalNoLeadingZero", `perm == 644`, true},
		{"MatchPermOctalLeadingZero", `perm == 0644`, true},
		{"MtimeOlderThan1h", `mtime > 1h`, true},
		{"MtimeNewerThan30m", `mtime < 30m`, false},
		{"SizeUnitsKB", `size >= 120KB`, true},
		{"SizeUnitsMiB", `size < 1MiB`, true},
		{"GlobName", `glob(name, "*file.txt")`, true},
		{"NoGlobMatch", `glob(name, "foo*")`, false},
		{"RegexNameFunc", `regex(name, "test.*\\.txt")`, true},
		{"NoRegexFunc", `regex(name, "^foo")`, false},
		{"Combined", `name == "testfile.txt" && size > 100000 && perm == 0644`, true},
		{"ComplexCond1", `(mtime > 1h && mtime < 3h)`, true},
		{"ComplexCond2", `glob(path, "bin/*.txt") and size <= 200KB`, true},
		{"ComplexNeg1", `size < 100000 && perm == 0644`, false},
		{"ComplexNeg2", `!(size == 123456)`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := CompileFilter(tt.expr)
			require.NoError(t, err, "compileFilter(%q) returned error", tt.expr)
			ok, err := filter(fi)
			assert.NoError(t, err, "filter(%q) returned error", tt.expr)
			assert.Equal(t, tt.want, ok, "filter(%q) = %v, want %v", tt.expr, ok, tt.want)
		})
	}
}

func TestCompileFilter_TypeExpressions(t *testing.T) {
	cases := []struct {
		name string
		expr string
		mode uint32
		want bool
	}{
		{"EqualsFile", `type == file`, 0o100644, true},
		{"EqualsFileWhitespace", `type == file, directory`, 0o100644, true},
		{"EqualsMixedCase", `type == SyMLinK`, 0o120777, true},
		{"NotEqualsDirectory", `type != directory`, 0o100644, true},
		{"NotEqualsMultiple", `type != file, directory`, 0o100644, false},
		{"NotFile", "not type == file", 0o100644, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := CompileFilter(tt.expr)
			require.NoError(t, err)
			ok, err := filter(FileInfo{Path: "test", Name: "test", Mode: tt.mode, Perm: tt.mode & 0o7777})
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCompileFilter_InvalidExpression(t *testing.T) {
	for _, expr := range []string{"not_a_valid_expr(", `type == file,wat`, `size + 1`} {
		t.Run(expr, func(t *testing.T) {
			_, err := CompileFilter(expr)
			assert.Error(t, err)
		})
	}
}

func TestPreprocessDSL_Rewrites(t *testing.T) {
	cases := []struct {
		input    string
		contains string
	}{
		{`perm == 0755`, `Perm == 493`},
		{`mtime > 1d`, `Mtime < ago("1d")`},
		{`size >= 2MiB`, `Size >= bytes("2MiB")`},
	}
	for _, tt := range cases {
		t.Run(tt.input, func(t *testing.T) {
			assert.Contains(t, preprocessDSL(tt.input), tt.contains)
		})
	}
}

func TestAgeAndSizeUnits(t *testing.T) {
	for age, want := range map[string]time.Duration{
		"90s":  90 * time.Second,
		"2h":   2 * time.Hour,
		"1d":   24 * time.Hour,
		"1.5d": 36 * time.Hour,
		"2w":   14 * 24 * time.Hour,
	} {
		at, err := ago(age)
		require.NoError(t, err, age)
		assert.WithinDuration(t, time.Now().Add(-want), at, time.Minute, age)
	}
	for _, age := range []string{"3M", "1y", "xd", ""} {
		_, err := ago(age)
		assert.Error(t, err, age)
	}

	for size, want := range map[string]int64{
		"512":    512,
		"1B":     1,
		"2KB":    2000,
		"3MiB":   3 << 20,
		"1.5GiB": 3 << 29,
	} {
		got, err := parseBytes(size)
		require.NoError(t, err, size)
		assert.Equal(t, want, got, size)
	}
	for _, size := range []string{"1XB", "MiB", "1.2.3KB"} {
		_, err := parseBytes(size)
		assert.Error(t, err, size)
	}
}

func TestToFileInfo(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/c/lib/core.dll", []byte("12345"), 0640))
	require.NoError(t, fsys.MkdirAll("/c/dir", 0755))

	info, err := fsys.Stat("/c/lib/core.dll")
	require.NoError(t, err)
	fi := ToFileInfo("lib/core.dll", info)
	assert.Equal(t, "core.dll", fi.Name)
	assert.Equal(t, "lib/core.dll", fi.Path)
	assert.Equal(t, int64(5), fi.Size)
	assert.Equal(t, uint32(0o100640), fi.Mode)
	assert.Equal(t, uint32(0o640), fi.Perm)

	info, err = fsys.Stat("/c/dir")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o040000), ToFileInfo("dir", info).Mode&0o170000)
}

func TestApplyFilterNil(t *testing.T) {
	match, err := ApplyFilter("a", fakeInfo{}, nil)
	require.NoError(t, err)
	assert.False(t, match)
}

type fakeInfo struct{ fs.FileInfo }

func (fakeInfo) Name() string { return "a" }
func (fakeInfo) Size() int64 { return 0 }
func (fakeInfo) Mode() fs.FileMode { return 0644 }
func (fakeInfo) ModTime() time.Time { return time.Time{} }
func (fakeInfo) IsDir() bool { return false }
