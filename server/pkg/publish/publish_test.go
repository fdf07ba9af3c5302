package publish

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thinkparq/updater-go/common/checksum"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/metrics"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

func zipOf(t *testing.T, files map[string]string) []byte {
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
	return buf.Bytes()
}

type fakeMirror struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *fakeMirror) Publish(_ context.Context, h repository.Handle, promoted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, h.App+"/"+h.Version)
	return f.err
}

type fakeHistory struct {
	records []history.Record
}

func (f *fakeHistory) Append(rec history.Record) error {
	f.records = append(f.records, rec)
	return nil
}

func newTestPublisher(t *testing.T, config Config, opts ...Option) (*Publisher, *repository.Repository) {
	t.Helper()
	repo := repository.New(afero.NewMemMapFs(), repository.Config{Base: "/repo"})
	p, err := New(zap.NewNop(), repo, config, opts...)
	require.NoError(t, err)
	return p, repo
}

func request(t *testing.T, app string, version string, latest bool, files map[string]string) Request {
	return Request{
		App:      app,
		Version:  version,
		Latest:   latest,
		Filename: app + ".zip",
		Body:     bytes.NewReader(zipOf(t, files)),
	}
}

func TestPublish(t *testing.T) {
	mirror := &fakeMirror{}
	hist := &fakeHistory{}
	config := Config{
		Ignore: filesystem.IgnoreRules{Names: []string{".DS_Store", "Thumbs.db", "__MACOSX"}},
		AppIgnore: map[string]filesystem.IgnoreRules{
			"appX": {Patterns: []string{"*.pdb"}},
		},
	}
	p, repo := newTestPublisher(t, config, WithMirror(mirror), WithHistory(hist), WithMetrics(metrics.New()))
	fsys := repo.Fs()

	res, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{
		"bin/app.exe":            "binary",
		"bin/app.pdb":            "symbols",
		"readme.txt":             "hello",
		".DS_Store":              "junk",
		"docs/Thumbs.db":         "junk",
		"__MACOSX/bin/._app.exe": "junk",
	}))
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, 4, res.Ignored)
	assert.Equal(t, int64(len("binary")+len("hello")), res.ContentSize)
	assert.Positive(t, res.ArchiveSize)

	m, err := repo.LoadManifest("appX", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "appX", m.AppName)
	assert.Equal(t, "1.0", m.Version)
	paths := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"bin/app.exe", "readme.txt"}, paths)
	assert.Equal(t, checksum.Bytes([]byte("binary")), m.Entries[0].Checksum)

	for _, gone := range []string{"Content/.DS_Store", "Content/docs/Thumbs.db", "Content/__MACOSX", "Content/bin/app.pdb"} {
		exists, err := afero.Exists(fsys, "/repo/appX/1.0/"+gone)
		require.NoError(t, err)
		assert.False(t, exists, gone)
	}
	leftovers, err := afero.Glob(fsys, "/repo/appX/1.0/*.upload.zip")
	require.NoError(t, err)
	assert.Empty(t, leftovers, "the upload is removed once expanded")

	data, err := afero.ReadFile(fsys, "/repo/appX/1.0/appX.zip")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Content/", "Content/CHECKLIST", "Content/bin/app.exe", "Content/readme.txt"}, names)

	latest, err := repo.ResolveLatestVersion("appX")
	require.NoError(t, err)
	assert.Equal(t, "1.0", latest)

	assert.Equal(t, []string{"appX/1.0"}, mirror.published)
	require.Len(t, hist.records, 1)
	assert.Equal(t, 2, hist.records[0].Files)
	assert.True(t, hist.records[0].Promoted)
}

func TestPublishWithoutPromotion(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	_, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"}))
	require.NoError(t, err)
	res, err := p.Publish(context.Background(), request(t, "appX", "2.0", false, map[string]string{"a.txt": "b"}))
	require.NoError(t, err)
	assert.False(t, res.Promoted)

	latest, err := repo.ResolveLatestVersion("appX")
	require.NoError(t, err)
	assert.Equal(t, "1.0", latest)
	_, err = repo.LoadManifest("appX", "2.0")
	assert.NoError(t, err)
}

func TestPublishVersionConflict(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	_, err := p.Publish(context.Background(), request(t, "appX", "2.0", true, map[string]string{"a.txt": "original"}))
	require.NoError(t, err)
	before, err := afero.ReadFile(repo.Fs(), "/repo/appX/2.0/Content/CHECKLIST")
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), request(t, "appX", "2.0", true, map[string]string{"a.txt": "changed", "b.txt": "new"}))
	assert.ErrorIs(t, err, ErrVersionConflict)

	after, err := afero.ReadFile(repo.Fs(), "/repo/appX/2.0/Content/CHECKLIST")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	content, err := afero.ReadFile(repo.Fs(), "/repo/appX/2.0/Content/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))
	exists, _ := afero.Exists(repo.Fs(), "/repo/appX/2.0/Content/b.txt")
	assert.False(t, exists)
}

func TestPublishInvalidUploads(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})

	req := request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"})
	req.Filename = "appX.tar.gz"
	_, err := p.Publish(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidArchive)

	_, err = p.Publish(context.Background(), Request{App: "appX", Version: "1.0", Latest: true, Filename: "appX.zip",
		Body: strings.NewReader("definitely not a zip")})
	assert.ErrorIs(t, err, ErrInvalidArchive)

	_, err = p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"../escape.txt": "x"}))
	assert.ErrorIs(t, err, ErrInvalidArchive)

	exists, err := afero.DirExists(repo.Fs(), "/repo/appX/1.0")
	require.NoError(t, err)
	assert.False(t, exists, "a failed publish leaves no version directory behind")
	_, err = repo.ResolveLatestVersion("appX")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = p.Publish(context.Background(), request(t, "../appX", "1.0", false, nil))
	assert.ErrorIs(t, err, repository.ErrPathTraversal)

	// The failed attempts did not claim the version.
	_, err = p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"}))
	assert.NoError(t, err)
}

func TestPublishEmptyArchive(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	res, err := p.Publish(context.Background(), request(t, "appX", "0.1", true, map[string]string{}))
	require.NoError(t, err)
	assert.Empty(t, res.Manifest.Entries)
	m, err := repo.LoadManifest("appX", "0.1")
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
}

func TestPublishMirrorFailureIsNotFatal(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("bucket unavailable")}
	p, repo := newTestPublisher(t, Config{}, WithMirror(mirror))
	_, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"}))
	require.NoError(t, err)
	latest, err := repo.ResolveLatestVersion("appX")
	require.NoError(t, err)
	assert.Equal(t, "1.0", latest)
}

func TestPublishConcurrentSameVersion(t *testing.T) {
	p, _ := newTestPublisher(t, Config{})
	var wg sync.WaitGroup
	requests := make([]Request, 8)
	for i := range requests {
		requests[i] = request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"})
	}
	errs := make([]error, len(requests))
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Publish(context.Background(), requests[i])
		}()
	}
	wg.Wait()
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrVersionConflict)
	}
	assert.Equal(t, 1, succeeded)
}

type publishConfig Config

func (c publishConfig) GetPublishConfig() Config { return Config(c) }

func TestUpdateConfiguration(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	require.NoError(t, p.UpdateConfiguration(publishConfig{Ignore: filesystem.IgnoreRules{Filter: `name endsWith ".log"`}}))

	_, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a", "debug.log": "noise"}))
	require.NoError(t, err)
	m, err := repo.LoadManifest("appX", "1.0")
	require.NoError(t, err)
	assert.Equal(t, manifest.Entry{Path: "a.txt", Checksum: checksum.Bytes([]byte("a"))}, m.Entries[0])
	assert.Len(t, m.Entries, 1)

	err = p.UpdateConfiguration(publishConfig{Ignore: filesystem.IgnoreRules{Patterns: []string{"[unclosed"}}})
	assert.Error(t, err)
	_, err = p.Publish(context.Background(), request(t, "appX", "1.1", false, map[string]string{"b.txt": "b", "trace.log": "noise"}))
	require.NoError(t, err)
	m, err = repo.LoadManifest("appX", "1.1")
	require.NoError(t, err)
	assert.Len(t, m.Entries, 1, "a rejected update keeps the previous rules")

	assert.Error(t, p.UpdateConfiguration("not a config"))
}

func TestPublishFailureRemovesNewApplicationDirectory(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	_, err := p.Publish(context.Background(), Request{App: "appNew", Version: "1.0", Filename: "appNew.zip",
		Body: strings.NewReader("definitely not a zip")})
	require.ErrorIs(t, err, ErrInvalidArchive)
	exists, err := afero.DirExists(repo.Fs(), "/repo/appNew")
	require.NoError(t, err)
	assert.False(t, exists, "a failed first publish leaves no application directory behind")
	apps, err := repo.List("", nil)
	require.NoError(t, err)
	assert.Empty(t, apps)

	_, err = p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"}))
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), Request{App: "appX", Version: "2.0", Filename: "appX.zip",
		Body: strings.NewReader("definitely not a zip")})
	require.ErrorIs(t, err, ErrInvalidArchive)
	exists, err = afero.DirExists(repo.Fs(), "/repo/appX/1.0")
	require.NoError(t, err)
	assert.True(t, exists, "an existing application keeps its published versions")
}

func TestPublishRejectsChecklistDirectory(t *testing.T) {
	p, repo := newTestPublisher(t, Config{})
	_, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{
		"a.txt":               "a",
		"CHECKLIST/notes.txt": "n",
	}))
	require.ErrorIs(t, err, ErrInvalidArchive)
	exists, err := afero.DirExists(repo.Fs(), "/repo/appX/1.0")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deeper directories of that name are ordinary content.
	res, err := p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{
		"docs/CHECKLIST/notes.txt": "n",
	}))
	require.NoError(t, err)
	require.Len(t, res.Manifest.Entries, 1)
	assert.Equal(t, "docs/CHECKLIST/notes.txt", res.Manifest.Entries[0].Path)
}

func publishSeries(t *testing.T, m *metrics.Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	series := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "updater_publishes_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			series[labels["app"]+"/"+labels["result"]] = metric.GetCounter().GetValue()
		}
	}
	return series
}

func TestPublishMetricLabels(t *testing.T) {
	m := metrics.New()
	p, _ := newTestPublisher(t, Config{}, WithMetrics(m))

	for _, app := range []string{"../evil", "", "appX ", "evil\nname"} {
		_, err := p.Publish(context.Background(), request(t, app, "1.0", true, map[string]string{"a.txt": "a"}))
		require.Error(t, err)
	}
	req := request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"})
	req.Filename = "appX.tar"
	_, err := p.Publish(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidArchive)
	_, err = p.Publish(context.Background(), request(t, "appX", "1.0", true, map[string]string{"a.txt": "a"}))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		metrics.InvalidApp + "/" + metrics.ResultFailure: 4,
		"appX/" + metrics.ResultFailure:                  1,
		"appX/" + metrics.ResultSuccess:                  1,
	}, publishSeries(t, m))
}
