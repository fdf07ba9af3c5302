package server

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/common/checksum"
	"github.com/thinkparq/updater-go/common/diff"
	"github.com/thinkparq/updater-go/common/manifest"
	"github.com/thinkparq/updater-go/server/pkg/publish"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

const (
	kindArchive = "archive"
	kindFile    = "file"
)

func (s *UpdateServer) upload(c *gin.Context) {
	if s.MaxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxUploadSize)
	}
	fh, err := c.FormFile(api.FormFile)
	if err != nil {
		if httpStatusFrom(err) == http.StatusRequestEntityTooLarge {
			s.respondError(c, err)
			return
		}
		s.respondError(c, fmt.Errorf("%w: missing %q upload: %w", api.ErrBadRequest, api.FormFile, err))
		return
	}
	app := strings.TrimSpace(c.PostForm(api.FormAppName))
	version := strings.TrimSpace(c.PostForm(api.FormVersion))
	if app == "" || version == "" {
		s.respondError(c, fmt.Errorf("%w: %q and %q are required", api.ErrBadRequest, api.FormAppName, api.FormVersion))
		return
	}
	latest := false
	if v := c.PostForm(api.FormLatest); v != "" {
		if latest, err = strconv.ParseBool(v); err != nil {
			s.respondError(c, fmt.Errorf("%w: %q must be a boolean: %w", api.ErrBadRequest, api.FormLatest, err))
			return
		}
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()

	res, err := s.publisher.Publish(c.Request.Context(), publish.Request{
		App:       app,
		Version:   version,
		Latest:    latest,
		Filename:  fh.Filename,
		Body:      f,
		RequestID: requestIDFrom(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respond(c, api.UploadResponse{
		AppName:     app,
		Version:     version,
		Latest:      res.Promoted,
		Files:       len(res.Manifest.Entries),
		Ignored:     res.Ignored,
		ContentSize: res.ContentSize,
		ArchiveSize: res.ArchiveSize,
	})
}

func (s *UpdateServer) check(c *gin.Context) {
	var req api.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: %w", api.ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.AppName) == "" {
		s.respondError(c, fmt.Errorf("%w: appName is required", api.ErrBadRequest))
		return
	}
	installed, err := req.Entries()
	if err != nil {
		s.respondError(c, err)
		return
	}
	result, err := s.Check(req.AppName, installed)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Debug("checked for updates", zap.String("app", req.AppName), zap.String("installed", req.Version),
		zap.String("latest", result.Version), zap.Int("actions", len(result.Entries)))
	s.metrics.ObserveCheck(req.AppName, result.HasChanges())
	respond(c, api.UpdateModel{AppName: result.AppName, Version: result.Version, Files: api.FromEntries(result.Entries)})
}

// Check diffs installed against the latest published manifest of app. Files that must be
// transferred carry their size.
func (s *UpdateServer) Check(app string, installed []manifest.Entry) (diff.Result, error) {
	latest, err := s.repo.ResolveLatestVersion(app)
	if err != nil {
		return diff.Result{}, err
	}
	reference, err := s.repo.LoadManifest(app, latest)
	if err != nil {
		return diff.Result{}, err
	}
	manifestPath, err := s.repo.ManifestFile(app, latest, true)
	if err != nil {
		return diff.Result{}, err
	}
	sum, size, err := checksum.File(s.repo.Fs(), manifestPath)
	if err != nil {
		return diff.Result{}, err
	}

	result := diff.Compare(reference, installed, manifest.Entry{Path: manifest.FileName, Checksum: sum, Size: size})
	for i, e := range result.Entries {
		if (e.Action != manifest.ActionAdd && e.Action != manifest.ActionOverwrite) || e.Path == manifest.FileName {
			continue
		}
		p, err := s.repo.SingleFile(app, latest, e.Path, false)
		if err != nil {
			return diff.Result{}, err
		}
		if info, err := s.repo.Fs().Stat(p); err == nil {
			result.Entries[i].Size = info.Size()
		}
	}
	return result, nil
}

func (s *UpdateServer) updateFile(c *gin.Context) {
	app, version := c.Param("app"), c.Param("version")
	rel := strings.TrimPrefix(c.Param("path"), "/")
	p, err := s.repo.SingleFile(app, version, rel, true)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.serveFile(c, app, kindFile, p, path.Base(rel), "application/octet-stream")
}

func (s *UpdateServer) downloadLatest(c *gin.Context) {
	app := c.Param("app")
	version, err := s.repo.ResolveLatestVersion(app)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.serveArchive(c, app, version)
}

func (s *UpdateServer) downloadVersion(c *gin.Context) {
	s.serveArchive(c, c.Param("app"), c.Param("version"))
}

func (s *UpdateServer) serveArchive(c *gin.Context, app string, version string) {
	p, err := s.repo.ArchiveFile(app, version, true)
	if err != nil {
		s.respondError(c, err)
		return
	}
	h, err := s.repo.Handle(app, version)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.serveFile(c, app, kindArchive, p, h.ArchiveName(), "application/zip")
}

// serveFile streams the file at p as an attachment named name.
func (s *UpdateServer) serveFile(c *gin.Context, app string, kind string, p string, name string, contentType string) {
	f, err := s.repo.Fs().Open(p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, f, map[string]string{
		"Content-Disposition": contentDisposition(name),
	})
	s.metrics.ObserveDownload(app, kind, info.Size())
}

// contentDisposition produces an attachment header. Names outside of ASCII are carried in the
// RFC 5987 filename* parameter, preceded by a plain filename with those characters replaced for
// clients that only understand the latter.
func contentDisposition(name string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if v == "" {
		return "attachment"
	}
	encoded, ok := strings.CutPrefix(v, "attachment; filename*=")
	if !ok {
		return v
	}
	fallback := strings.Map(func(r rune) rune {
		if r < ' ' || r >= 0x7f {
			return '_'
		}
		return r
	}, name)
	return mime.FormatMediaType("attachment", map[string]string{"filename": fallback}) + "; filename*=" + encoded
}

func (s *UpdateServer) latestVersion(c *gin.Context) {
	version, err := s.repo.ResolveLatestVersion(c.Param("app"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respond(c, version)
}

func (s *UpdateServer) list(c *gin.Context) {
	s.browse(c, c.Query("path"))
}

func (s *UpdateServer) apps(c *gin.Context) {
	s.browse(c, "")
}

func (s *UpdateServer) versions(c *gin.Context) {
	app := c.Param("app")
	if _, err := s.repo.Root(app, true); err != nil {
		s.respondError(c, err)
		return
	}
	s.browse(c, app)
}

func (s *UpdateServer) content(c *gin.Context) {
	app, version := c.Param("app"), c.Param("version")
	if _, err := s.repo.ContentDir(app, version, true); err != nil {
		s.respondError(c, err)
		return
	}
	s.browse(c, path.Join(app, version, repository.ContentDirName))
}

func (s *UpdateServer) browse(c *gin.Context, rel string) {
	entries, err := s.repo.List(rel, func(app string, name string) bool {
		return s.publisher.Ignorer(app).IgnoredName(name)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	// Versions are marked when listing the directory of one application.
	latest := ""
	if parts := strings.Split(strings.Trim(rel, "/"), "/"); rel != "" && len(parts) == 1 {
		latest, _ = s.repo.ResolveLatestVersion(parts[0])
	}
	out := make([]api.BrowseEntry, 0, len(entries))
	for _, e := range entries {
		b := api.BrowseEntry{Name: e.Name, Path: e.Path, Type: api.TypeFile, Size: e.Size}
		if e.IsDir {
			b.Type = api.TypeDirectory
			b.Latest = latest != "" && e.Name == latest
		}
		out = append(out, b)
	}
	respond(c, out)
}

func (s *UpdateServer) publishHistory(c *gin.Context) {
	app := c.Param("app")
	if _, err := s.repo.Root(app, true); err != nil {
		s.respondError(c, err)
		return
	}
	if s.history == nil {
		s.respondError(c, fmt.Errorf("%w: publish history is disabled", repository.ErrNotFound))
		return
	}
	records, err := s.history.List(app)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respond(c, records)
}
