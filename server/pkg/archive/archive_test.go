package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, fsys afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0644))
}

func TestExtract(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/upload.zip", map[string]string{
		"bin/app.exe":  "binary",
		"readme.txt":   "hello",
		"lib/":         "",
		"lib/core.dll": "core",
	})

	n, err := Extract(context.Background(), fsys, "/upload.zip", "/out/Content")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for path, want := range map[string]string{
		"/out/Content/bin/app.exe":  "binary",
		"/out/Content/readme.txt":   "hello",
		"/out/Content/lib/core.dll": "core",
	} {
		got, err := afero.ReadFile(fsys, path)
		require.NoError(t, err, path)
		assert.Equal(t, want, string(got))
	}
}

func TestExtractRejectsUnsafeEntries(t *testing.T) {
	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil", `..\evil.txt`} {
		t.Run(name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			writeZip(t, fsys, "/upload.zip", map[string]string{"good.txt": "ok", name: "evil"})
			_, err := Extract(context.Background(), fsys, "/upload.zip", "/out/Content")
			assert.ErrorIs(t, err, ErrCorrupt)
			exists, _ := afero.Exists(fsys, "/out/Content/good.txt")
			assert.False(t, exists, "nothing is written from an unsafe archive")
			exists, _ = afero.Exists(fsys, "/out/evil.txt")
			assert.False(t, exists)
		})
	}
}

func TestExtractErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_, err := Extract(context.Background(), fsys, "/missing.zip", "/out")
	assert.ErrorIs(t, err, ErrArchiveIO)

	require.NoError(t, afero.WriteFile(fsys, "/bogus.zip", []byte("this is not a zip file"), 0644))
	_, err = Extract(context.Background(), fsys, "/bogus.zip", "/out")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/v/Content/sub/empty", 0755))
	require.NoError(t, afero.WriteFile(fsys, "/v/Content/a.txt", []byte("aaa"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/v/Content/sub/b.txt", []byte("bbbb"), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/v/app.zip", []byte("stale"), 0644))

	size, err := Create(context.Background(), fsys, "/v/Content", "/v/app.zip", "Content")
	require.NoError(t, err)
	info, err := fsys.Stat("/v/app.zip")
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)

	data, err := afero.ReadFile(fsys, "/v/app.zip")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Content/", "Content/a.txt", "Content/sub/b.txt"}, names)

	n, err := Extract(context.Background(), fsys, "/v/app.zip", "/x")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	got, err := afero.ReadFile(fsys, "/x/Content/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(got))

	leftovers, err := afero.Glob(fsys, "/v/.app.zip.*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCreateCanceled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Create(ctx, fsys, "/src", "/out.zip", "")
	assert.ErrorIs(t, err, context.Canceled)
	exists, _ := afero.Exists(fsys, "/out.zip")
	assert.False(t, exists)
}
