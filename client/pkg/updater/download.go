package updater

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/thinkparq/updater-go/common/api"
	"go.uber.org/zap"
)

// DownloadLatest saves the archive of the latest version of app into dir. It returns the path of
// the written file and its size.
func (c *Client) DownloadLatest(ctx context.Context, app string, dir string) (string, int64, error) {
	return c.download(ctx, app, dir, c.url(api.PathDownload, app))
}

// DownloadVersion saves the archive of a specific version of app into dir.
func (c *Client) DownloadVersion(ctx context.Context, app string, version string, dir string) (string, int64, error) {
	return c.download(ctx, app, dir, c.url(api.PathDownload, app, version))
}

func (c *Client) download(ctx context.Context, app string, dir string, u string) (string, int64, error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	name := app + ".zip"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if fn := filepath.Base(filepath.FromSlash(params["filename"])); fn != "." && fn != string(filepath.Separator) && !strings.HasPrefix(fn, "..") {
			name = fn
		}
	}
	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return "", 0, err
	}
	dst := filepath.Join(dir, name)
	n, err := c.save(dst, resp.Body, func(_ uint32, n int64) error {
		if resp.ContentLength >= 0 && n != resp.ContentLength {
			return fmt.Errorf("%w: truncated download of %s: %d of %d bytes", ErrServer, name, n, resp.ContentLength)
		}
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	c.log.Info("downloaded archive", zap.String("path", dst), zap.Int64("size", n))
	return dst, n, nil
}
