// Package updater keeps a local installation in line with the latest version published on an update
// server. The installed state is described by the CHECKLIST at the root of the installation.
package updater

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
	"go.uber.org/zap"
)

type Config struct {
	// Host is the base URL of the update server, for example http://updates.example.com:8080.
	Host string `mapstructure:"host"`
	// AppPath is the installation root holding the CHECKLIST.
	AppPath string `mapstructure:"app-path"`
	// AppName and AppVersion are only used to initialize a missing CHECKLIST.
	AppName    string `mapstructure:"app-name"`
	AppVersion string `mapstructure:"app-version"`
	// Parallel is the number of files downloaded at once.
	Parallel int           `mapstructure:"parallel"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CheckResult describes what an update would do.
type CheckResult struct {
	NeedUpdate bool            `json:"needUpdate"`
	AppName    string          `json:"appName"`
	OldVersion string          `json:"oldVersion"`
	NewVersion string          `json:"newVersion"`
	Files      []api.FileModel `json:"files"`
	TotalSize  int64           `json:"totalSize"`
}

// ProgressFunc is called after each file of an update was applied.
type ProgressFunc func(file api.FileModel, done int, total int)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithProgress(fn ProgressFunc) Option {
	return func(cl *Client) { cl.progress = fn }
}

type Client struct {
	log      *zap.Logger
	config   Config
	fs       afero.Fs
	base     *url.URL
	http     *http.Client
	progress ProgressFunc
}

func New(log *zap.Logger, fsys afero.Fs, config Config, opts ...Option) (*Client, error) {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(Client{}).PkgPath())))
	base, err := url.Parse(strings.TrimRight(config.Host, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid update server %q: expected an absolute http(s) URL", config.Host)
	}
	if strings.TrimSpace(config.AppPath) == "" {
		return nil, errors.New("an application path is required")
	}
	if config.Parallel <= 0 {
		config.Parallel = 1
	}
	c := &Client{
		log:    log,
		config: config,
		fs:     fsys,
		base:   base,
		http:   &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ChecklistPath is the location of the local CHECKLIST.
func (c *Client) ChecklistPath() string {
	return filepath.Join(c.config.AppPath, manifest.FileName)
}

// LoadLocal reads the local CHECKLIST. A missing CHECKLIST is initialized without entries from the
// configured application name and version, which makes the next check report every file as new.
func (c *Client) LoadLocal() (manifest.Manifest, error) {
	p := c.ChecklistPath()
	m, err := manifest.FromDisk(c.fs, p)
	if err == nil {
		return m, nil
	}
	if !filesystem.IsNotExist(err) {
		return manifest.Manifest{}, err
	}
	if strings.TrimSpace(c.config.AppName) == "" || strings.TrimSpace(c.config.AppVersion) == "" {
		return manifest.Manifest{}, fmt.Errorf("%w: %s does not exist", ErrNotConfigured, p)
	}
	c.log.Warn("no CHECKLIST found, initializing an empty one", zap.String("path", p))
	m = manifest.HeaderOnly(c.config.AppName, c.config.AppVersion)
	if err := c.fs.MkdirAll(c.config.AppPath, 0755); err != nil {
		return manifest.Manifest{}, err
	}
	if err := manifest.ToDisk(c.fs, m, p); err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}

// Check submits the local CHECKLIST and returns the actions needed to reach the latest version.
func (c *Client) Check(ctx context.Context) (CheckResult, error) {
	local, err := c.LoadLocal()
	if err != nil {
		return CheckResult{}, err
	}
	body, err := json.Marshal(api.NewUpdateModel(local))
	if err != nil {
		return CheckResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(api.PathCheck), bytes.NewReader(body))
	if err != nil {
		return CheckResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}, fmt.Errorf("%w: %w", ErrServer, err)
	}
	defer resp.Body.Close()

	var result api.Result[api.UpdateModel]
	if err := decode(resp, &result); err != nil {
		return CheckResult{}, err
	}

	latest := result.Data
	check := CheckResult{
		AppName:    local.AppName,
		OldVersion: local.Version,
		NewVersion: latest.Version,
		Files:      []api.FileModel{},
	}
	for _, f := range latest.Files {
		if f.Option == "" {
			continue
		}
		check.Files = append(check.Files, f)
		check.TotalSize += f.Size
	}
	check.NeedUpdate = check.OldVersion != check.NewVersion || len(check.Files) > 0
	c.log.Debug("checked for updates", zap.String("app", check.AppName), zap.String("installed", check.OldVersion),
		zap.String("latest", check.NewVersion), zap.Int("files", len(check.Files)), zap.Int64("totalSize", check.TotalSize))
	return check, nil
}

// url joins segments onto the server base URL, escaping each one.
func (c *Client) url(p string, segments ...string) string {
	escaped := strings.TrimRight(c.base.EscapedPath(), "/") + p
	for _, s := range segments {
		escaped += "/" + url.PathEscape(s)
	}
	u := *c.base
	u.Path, _ = url.PathUnescape(escaped)
	u.RawPath = escaped
	return u.String()
}

// decode reads the result envelope of resp into out. Responses outside 2xx are turned into errors
// carrying the server's message.
func decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %w", ErrServer, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))
	var envelope api.Result[any]
	if json.Unmarshal(data, &envelope) == nil && envelope.Msg != "" {
		msg = envelope.Msg
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrServer, resp.Status, msg)
}
