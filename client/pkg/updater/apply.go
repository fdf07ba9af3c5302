package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/common/checksum"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ApplyStats summarizes an applied update.
type ApplyStats struct {
	Deleted    int   `json:"deleted"`
	Downloaded int   `json:"downloaded"`
	Bytes      int64 `json:"bytes"`
}

// Apply brings the installation to result.NewVersion. Deletions run first, then changed files are
// downloaded in parallel. The CHECKLIST is written last, so an interrupted update leaves the old
// CHECKLIST in place and the next check picks up whatever is still missing.
func (c *Client) Apply(ctx context.Context, result CheckResult) (ApplyStats, error) {
	var stats ApplyStats
	if !result.NeedUpdate {
		return stats, nil
	}

	var deletes, fetches []api.FileModel
	checklist := api.FileModel{Path: manifest.FileName, Option: string(manifest.ActionAdd)}
	verifyChecklist := false
	for _, f := range result.Files {
		if _, err := c.localPath(f.Path); err != nil {
			return stats, err
		}
		action, err := manifest.ParseAction(f.Option)
		if err != nil {
			return stats, fmt.Errorf("%w: %s: %w", ErrServer, f.Path, err)
		}
		switch {
		case f.Path == manifest.FileName:
			checklist, verifyChecklist = f, true
		case action == manifest.ActionDelete:
			deletes = append(deletes, f)
		case action == manifest.ActionAdd || action == manifest.ActionOverwrite:
			fetches = append(fetches, f)
		}
	}
	total := len(deletes) + len(fetches) + 1

	var mu sync.Mutex
	done := 0
	report := func(f api.FileModel) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if c.progress != nil {
			c.progress(f, done, total)
		}
	}

	for _, f := range deletes {
		p, _ := c.localPath(f.Path)
		if err := c.fs.Remove(p); err != nil && !filesystem.IsNotExist(err) {
			return stats, fmt.Errorf("unable to delete %s: %w", f.Path, err)
		}
		c.log.Debug("deleted file", zap.String("path", f.Path))
		stats.Deleted++
		report(f)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Parallel)
	for _, f := range fetches {
		g.Go(func() error {
			n, err := c.fetch(gCtx, result.AppName, result.NewVersion, f, true)
			if err != nil {
				return err
			}
			mu.Lock()
			stats.Downloaded++
			stats.Bytes += n
			mu.Unlock()
			report(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	// A version change without file changes carries no CHECKLIST entry, the new one is still adopted.
	n, err := c.fetch(ctx, result.AppName, result.NewVersion, checklist, verifyChecklist)
	if err != nil {
		return stats, err
	}
	stats.Bytes += n
	report(checklist)
	c.log.Info("applied update", zap.String("app", result.AppName), zap.String("from", result.OldVersion),
		zap.String("to", result.NewVersion), zap.Int("deleted", stats.Deleted), zap.Int("downloaded", stats.Downloaded),
		zap.Int64("bytes", stats.Bytes))
	return stats, nil
}

// fetch downloads one file of version into the installation. When verify is set the content must
// match the advertised checksum.
func (c *Client) fetch(ctx context.Context, app string, version string, f api.FileModel, verify bool) (int64, error) {
	dst, err := c.localPath(f.Path)
	if err != nil {
		return 0, err
	}
	segments := append([]string{app, version}, strings.Split(f.Path, "/")...)
	resp, err := c.get(ctx, c.url(api.PathUpdateFile, segments...))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	n, err := c.save(dst, resp.Body, func(sum uint32, n int64) error {
		if verify && sum != f.CRC32 {
			return fmt.Errorf("%w: %s: expected %d, got %d", ErrChecksumMismatch, f.Path, f.CRC32, sum)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("unable to update %s: %w", f.Path, err)
	}
	c.log.Debug("updated file", zap.String("path", f.Path), zap.String("option", f.Option), zap.Int64("size", n))
	return n, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// save streams r into a temporary sibling of dst and renames it into place once check accepts the
// checksum and size of what was written. An existing file keeps its permissions.
func (c *Client) save(dst string, r io.Reader, check func(sum uint32, n int64) error) (int64, error) {
	perm := os.FileMode(0644)
	if info, err := c.fs.Stat(dst); err == nil {
		perm = info.Mode().Perm()
	}
	tmp, err := afero.TempFile(c.fs, filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, err
	}
	sum, n, err := checksum.Reader(io.TeeReader(r, tmp))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && check != nil {
		err = check(sum, n)
	}
	if err == nil {
		err = c.fs.Chmod(tmp.Name(), perm)
	}
	if err == nil {
		err = c.fs.Rename(tmp.Name(), dst)
	}
	if err != nil {
		c.fs.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

// localPath maps a slash separated path from the server onto the installation root.
func (c *Client) localPath(rel string) (string, error) {
	if err := manifest.ValidatePath(rel); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	root := filepath.Clean(c.config.AppPath)
	p := filepath.Join(root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(root, p); err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, rel)
	}
	return p, nil
}
