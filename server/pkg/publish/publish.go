// Package publish turns an uploaded zip archive into a published application version: the archive
// is expanded into the content root, ignored files are stripped, the CHECKLIST is built and the
// canonical archive is repackaged from what remains. The latest pointer is only moved after every
// other step succeeded.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
	"github.com/thinkparq/updater-go/server/pkg/archive"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/metrics"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

type Config struct {
	// Ignore applies to every application.
	Ignore filesystem.IgnoreRules `mapstructure:"ignore"`
	// AppIgnore adds rules for individual applications, keyed by application name.
	AppIgnore map[string]filesystem.IgnoreRules `mapstructure:"app-ignore"`
}

// Configurer is implemented by configurations that carry a publish Config.
type Configurer interface {
	GetPublishConfig() Config
}

// Mirror receives every successfully published version.
type Mirror interface {
	Publish(ctx context.Context, h repository.Handle, promoted bool) error
}

// History records every successfully published version.
type History interface {
	Append(rec history.Record) error
}

type Request struct {
	App     string
	Version string
	// Latest promotes the version to latest once it is published.
	Latest bool
	// Filename is the name the archive was uploaded under. Only ".zip" files are accepted.
	Filename string
	Body     io.Reader
	// RequestID is recorded in the publish history when set.
	RequestID string
}

type Result struct {
	Handle      repository.Handle
	Manifest    manifest.Manifest
	Promoted    bool
	Ignored     int
	ContentSize int64
	ArchiveSize int64
	Duration    time.Duration
}

type Publisher struct {
	log     *zap.Logger
	repo    *repository.Repository
	metrics *metrics.Metrics
	mirror  Mirror
	history History

	mu       sync.RWMutex
	ignorers map[string]*filesystem.Ignorer
	config   Config
}

type Option func(*Publisher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithMirror(m Mirror) Option {
	return func(p *Publisher) { p.mirror = m }
}

func WithHistory(h History) Option {
	return func(p *Publisher) { p.history = h }
}

func New(log *zap.Logger, repo *repository.Repository, config Config, opts ...Option) (*Publisher, error) {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(Publisher{}).PkgPath())))
	p := &Publisher{
		log:  log,
		repo: repo,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.setConfig(config); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateConfiguration replaces the ignore rules. Publishes already in progress keep the rules they
// started with.
func (p *Publisher) UpdateConfiguration(config any) error {
	configurer, ok := config.(Configurer)
	if !ok {
		return fmt.Errorf("received unexpected publish configuration (most likely this indicates a bug and a report should be filed)")
	}
	if err := p.setConfig(configurer.GetPublishConfig()); err != nil {
		return err
	}
	p.log.Info("updated ignore rules")
	return nil
}

func (p *Publisher) setConfig(config Config) error {
	ignorers := make(map[string]*filesystem.Ignorer, len(config.AppIgnore)+1)
	global, err := config.Ignore.Compile()
	if err != nil {
		return fmt.Errorf("global ignore rules: %w", err)
	}
	ignorers[""] = global
	for app, rules := range config.AppIgnore {
		ignorer, err := config.Ignore.Merge(rules).Compile()
		if err != nil {
			return fmt.Errorf("ignore rules of %q: %w", app, err)
		}
		ignorers[app] = ignorer
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = config
	p.ignorers = ignorers
	return nil
}

// Ignorer returns the compiled ignore rules that apply to app.
func (p *Publisher) Ignorer(app string) *filesystem.Ignorer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i, ok := p.ignorers[app]; ok {
		return i
	}
	return p.ignorers[""]
}

// Publish stores the archive in req as a new version. The version directory is claimed before
// anything is written, so a version that already exists is never touched. Any failure removes
// the claimed directory again, and the latest pointer is only moved once the version is complete.
func (p *Publisher) Publish(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	app := metrics.InvalidApp
	defer func() {
		res.Duration = time.Since(start)
		p.metrics.ObservePublish(app, err, res.Duration.Seconds(), len(res.Manifest.Entries))
	}()

	h, err := p.repo.Handle(req.App, req.Version)
	if err != nil {
		return Result{}, err
	}
	app = h.App
	if !strings.HasSuffix(strings.ToLower(req.Filename), repository.ArchiveExt) {
		return Result{}, fmt.Errorf("%w: only %s uploads are accepted, got %q", ErrInvalidArchive, repository.ArchiveExt, req.Filename)
	}
	if req.Body == nil {
		return Result{}, fmt.Errorf("%w: upload is empty", ErrInvalidArchive)
	}
	log := p.log.With(zap.String("app", h.App), zap.String("version", h.Version))
	fsys := p.repo.Fs()

	createdRoot, err := p.claim(h)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := fsys.RemoveAll(h.VersionDir); rmErr != nil {
			log.Error("unable to clean up after failed publish", zap.String("path", h.VersionDir), zap.Error(rmErr))
			return
		}
		log.Warn("removed incomplete version after failed publish", zap.Error(err))
		if createdRoot {
			removeEmptyDir(log, fsys, h.Root)
		}
	}()

	res = Result{Handle: h}
	ignorer := p.Ignorer(h.App)

	upload := filepath.Join(h.VersionDir, uuid.NewString()+".upload"+repository.ArchiveExt)
	if err := p.save(upload, req.Body); err != nil {
		return res, err
	}
	log.Debug("saved upload", zap.String("path", upload), zap.String("filename", req.Filename))

	files, err := archive.Extract(ctx, fsys, upload, h.ContentDir)
	if err != nil {
		if errors.Is(err, archive.ErrCorrupt) {
			return res, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		return res, err
	}
	if err := fsys.Remove(upload); err != nil {
		return res, fmt.Errorf("%w: unable to remove upload: %w", archive.ErrArchiveIO, err)
	}
	log.Debug("expanded upload", zap.Int("files", files))

	if res.Ignored, err = removeIgnored(fsys, h.ContentDir, ignorer); err != nil {
		return res, fmt.Errorf("unable to strip ignored files: %w", err)
	}

	// Build skips a directory named like the CHECKLIST, which then could not be written.
	if info, statErr := fsys.Stat(h.Manifest); statErr == nil && info.IsDir() {
		return res, fmt.Errorf("%w: archive contains a %s directory at its top level", ErrInvalidArchive, manifest.FileName)
	}
	if res.Manifest, err = manifest.Build(ctx, fsys, h.ContentDir, h.App, h.Version, nil); err != nil {
		return res, fmt.Errorf("unable to build %s: %w", manifest.FileName, err)
	}
	if err := manifest.ToDisk(fsys, res.Manifest, h.Manifest); err != nil {
		return res, err
	}
	for _, e := range res.Manifest.Entries {
		res.ContentSize += e.Size
	}

	if res.ArchiveSize, err = archive.Create(ctx, fsys, h.ContentDir, h.Archive, repository.ContentDirName); err != nil {
		return res, err
	}

	if req.Latest {
		if err := p.repo.SetLatest(h.App, h.Version); err != nil {
			return res, fmt.Errorf("unable to promote to latest: %w", err)
		}
		res.Promoted = true
	}

	log.Info("published version", zap.Int("files", len(res.Manifest.Entries)), zap.Int("ignored", res.Ignored),
		zap.Int64("contentSize", res.ContentSize), zap.Int64("archiveSize", res.ArchiveSize), zap.Bool("latest", res.Promoted))
	p.afterPublish(ctx, log, req, res)
	return res, nil
}

// claim creates the version directory of h and reports whether the application directory had to
// be created for it. An existing version directory is a conflict.
func (p *Publisher) claim(h repository.Handle) (bool, error) {
	fsys := p.repo.Fs()
	_, statErr := fsys.Stat(h.Root)
	createdRoot := filesystem.IsNotExist(statErr)
	for attempt := 0; ; attempt++ {
		if err := fsys.MkdirAll(h.Root, 0755); err != nil {
			return false, fmt.Errorf("unable to create application directory: %w", err)
		}
		err := fsys.Mkdir(h.VersionDir, 0755)
		switch {
		case err == nil:
			return createdRoot, nil
		case errors.Is(err, fs.ErrExist) || os.IsExist(err):
			return false, fmt.Errorf("%w: %s %s", ErrVersionConflict, h.App, h.Version)
		case filesystem.IsNotExist(err) && attempt < 2:
			// A failed first publish of the same application removed the directory in between.
			continue
		default:
			return false, fmt.Errorf("unable to create version directory: %w", err)
		}
	}
}

// removeEmptyDir removes dir if nothing was placed in it.
func removeEmptyDir(log *zap.Logger, fsys afero.Fs, dir string) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := fsys.Remove(dir); err != nil && !filesystem.IsNotExist(err) {
		log.Warn("unable to remove empty application directory", zap.String("path", dir), zap.Error(err))
	}
}

// afterPublish notifies the mirror and history. The version is already published, so failures are
// only logged.
func (p *Publisher) afterPublish(ctx context.Context, log *zap.Logger, req Request, res Result) {
	if p.mirror != nil {
		if err := p.mirror.Publish(ctx, res.Handle, res.Promoted); err != nil {
			log.Error("unable to mirror published version", zap.Error(err))
		}
	}
	if p.history != nil {
		err := p.history.Append(history.Record{
			App:         res.Handle.App,
			Version:     res.Handle.Version,
			Promoted:    res.Promoted,
			Files:       len(res.Manifest.Entries),
			ContentSize: res.ContentSize,
			ArchiveSize: res.ArchiveSize,
			Ignored:     res.Ignored,
			PublishedAt: time.Now(),
			RequestID:   req.RequestID,
		})
		if err != nil {
			log.Error("unable to record publish history", zap.Error(err))
		}
	}
}

func (p *Publisher) save(dst string, body io.Reader) error {
	f, err := p.repo.Fs().OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: unable to store upload: %w", archive.ErrArchiveIO, err)
	}
	_, err = io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: unable to store upload: %w", archive.ErrArchiveIO, err)
	}
	return nil
}
