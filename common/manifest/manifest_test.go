package manifest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/updater-go/common/checksum"
)

func headerText() string {
	return strings.Join(header, "\n") + "\n"
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Manifest
		malformed bool
	}{
		{
			name:  "entries",
			input: headerText() + "AppName: demo\nVersion: 1.0\na.txt:111\nlib/b.dll:4294967295\n",
			want: Manifest{AppName: "demo", Version: "1.0", Entries: []Entry{
				{Path: "a.txt", Checksum: 111},
				{Path: "lib/b.dll", Checksum: 4294967295},
			}},
		},
		{
			name:  "no entries",
			input: headerText() + "AppName: demo\nVersion: 1.0\n",
			want:  Manifest{AppName: "demo", Version: "1.0"},
		},
		{
			name:  "blank lines and CRLF",
			input: headerText() + "AppName: demo\r\nVersion: 1.0\r\n\r\na.txt:1\r\n\n\nb.txt:2",
			want: Manifest{AppName: "demo", Version: "1.0", Entries: []Entry{
				{Path: "a.txt", Checksum: 1},
				{Path: "b.txt", Checksum: 2},
			}},
		},
		{
			name:  "colon in path splits on last separator",
			input: headerText() + "AppName: demo\nVersion: 1.0\nweird:name.txt:42\n",
			want: Manifest{AppName: "demo", Version: "1.0", Entries: []Entry{
				{Path: "weird:name.txt", Checksum: 42},
			}},
		},
		{name: "empty input", input: "", malformed: true},
		{name: "header only", input: headerText(), malformed: true},
		{name: "missing app name prefix", input: headerText() + "Name: demo\nVersion: 1.0\n", malformed: true},
		{name: "blank app name", input: headerText() + "AppName:   \nVersion: 1.0\n", malformed: true},
		{name: "blank version", input: headerText() + "AppName: demo\nVersion: \n", malformed: true},
		{name: "missing version", input: headerText() + "AppName: demo\n", malformed: true},
		{name: "entry without separator", input: headerText() + "AppName: demo\nVersion: 1\na.txt\n", malformed: true},
		{name: "entry with non numeric checksum", input: headerText() + "AppName: demo\nVersion: 1\na.txt:abc\n", malformed: true},
		{name: "entry with negative checksum", input: headerText() + "AppName: demo\nVersion: 1\na.txt:-1\n", malformed: true},
		{name: "checksum overflows 32 bits", input: headerText() + "AppName: demo\nVersion: 1\na.txt:4294967296\n", malformed: true},
		{name: "entry with blank path", input: headerText() + "AppName: demo\nVersion: 1\n:12\n", malformed: true},
		{name: "entry escaping root", input: headerText() + "AppName: demo\nVersion: 1\n../etc/passwd:12\n", malformed: true},
		{name: "absolute entry", input: headerText() + "AppName: demo\nVersion: 1\n/etc/passwd:12\n", malformed: true},
		{name: "duplicate entry", input: headerText() + "AppName: demo\nVersion: 1\na:1\na:2\n", malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.input))
			if tt.malformed {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerialize(t *testing.T) {
	m := Manifest{AppName: "demo", Version: "2.0", Entries: []Entry{
		{Path: "b.txt", Checksum: 222},
		{Path: "a/a.txt", Checksum: 111},
	}}
	data, err := Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, headerText()+"AppName: demo\nVersion: 2.0\nb.txt:222\na/a.txt:111\n", string(data))

	_, err = Marshal(Manifest{AppName: "demo"})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Marshal(Manifest{AppName: "demo", Version: "1", Entries: []Entry{{Path: "../x"}}})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRoundTrip(t *testing.T) {
	manifests := []Manifest{
		{AppName: "demo", Version: "1.0"},
		{AppName: "demo app", Version: "1.0.0-rc.1", Entries: []Entry{
			{Path: "CHECKLIST.bak", Checksum: 0},
			{Path: "bin/demo", Checksum: 0xFFFFFFFF},
			{Path: "docs/read me.txt", Checksum: 12345},
			{Path: "深/文件.txt", Checksum: 7},
		}},
	}
	for _, m := range manifests {
		data, err := Marshal(m)
		require.NoError(t, err)
		got, err := Parse(strings.NewReader(string(data)))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	// Values that Parse would trim are refused instead of silently changing on the way back.
	for _, m := range []Manifest{
		{AppName: "demo ", Version: "1.0"},
		{AppName: "demo", Version: " 1.0"},
		{AppName: "\tdemo", Version: "1.0\t", Entries: []Entry{{Path: "a.txt", Checksum: 1}}},
	} {
		_, err := Marshal(m)
		assert.ErrorIs(t, err, ErrMalformed, "%q %q", m.AppName, m.Version)
	}

	m := HeaderOnly(" demo ", " 1.0")
	assert.Equal(t, "demo", m.AppName)
	assert.Equal(t, "1.0", m.Version)
	data, err := Marshal(m)
	require.NoError(t, err)
	got, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, m.AppName, got.AppName)
	assert.Equal(t, m.Version, got.Version)
	assert.Empty(t, got.Entries)
}

func TestValidatePath(t *testing.T) {
	valid := []string{"a.txt", "dir/a.txt", "..hidden", "a..b/c", "./a"}
	invalid := []string{"", "  ", "/abs", "..", "../a", "a/../../b", "a/..", "a\nb"}
	for _, p := range valid {
		assert.NoError(t, ValidatePath(p), p)
	}
	for _, p := range invalid {
		assert.ErrorIs(t, ValidatePath(p), ErrInvalidPath, p)
	}
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"": ActionNone, "add": ActionAdd, "OVERWRITE": ActionOverwrite, " delete ": ActionDelete} {
		got, err := ParseAction(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseAction("rename")
	assert.Error(t, err)
}

func TestDiskRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/repo/demo/1.0/Content", 0755))
	m := Manifest{AppName: "demo", Version: "1.0", Entries: []Entry{{Path: "a.txt", Checksum: 1}}}
	path := "/repo/demo/1.0/Content/" + FileName
	require.NoError(t, ToDisk(fsys, m, path))

	got, err := FromDisk(fsys, path)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	// No temporary files are left behind.
	entries, err := afero.ReadDir(fsys, "/repo/demo/1.0/Content")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())

	_, err = FromDisk(fsys, "/repo/demo/missing")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, afero.WriteFile(fsys, "/bad", []byte("nope"), 0644))
	_, err = FromDisk(fsys, "/bad")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBuild(t *testing.T) {
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"/content/app.exe":        "binary",
		"/content/lib/core.dll":   "library",
		"/content/lib/CHECKLIST":  "nested checklists are regular content",
		"/content/" + FileName:    "stale manifest",
		"/content/skip/ignored.x": "x",
	}
	for p, data := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(data), 0644))
	}
	require.NoError(t, fsys.MkdirAll("/content/empty", 0755))

	m, err := Build(context.Background(), fsys, "/content", "demo", "1.0", func(rel string, info os.FileInfo) (bool, error) {
		return rel != "skip", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "demo", m.AppName)
	assert.Equal(t, "1.0", m.Version)
	assert.Equal(t, []Entry{
		{Path: "app.exe", Checksum: checksum.Bytes([]byte("binary")), Size: 6},
		{Path: "lib/CHECKLIST", Checksum: checksum.Bytes([]byte("nested checklists are regular content")), Size: 37},
		{Path: "lib/core.dll", Checksum: checksum.Bytes([]byte("library")), Size: 7},
	}, m.Entries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, fsys, "/content", "demo", "1.0", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
