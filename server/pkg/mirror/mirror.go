// Package mirror copies published archives and manifests to an S3 compatible bucket so they can be
// served from object storage in addition to the repository.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/afero"
	"github.com/thinkparq/updater-go/common/manifest"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

type Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	AccessKey      string `mapstructure:"access-key"`
	SecretKey      string `mapstructure:"secret-key"`
	ForcePathStyle bool   `mapstructure:"force-path-style"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// PutObjectAPI is the subset of the S3 client the mirror needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Mirror struct {
	log    *zap.Logger
	fs     afero.Fs
	client PutObjectAPI
	bucket string
	prefix string
}

// New creates a mirror using the default AWS credential chain, unless static keys are configured.
// It returns a nil Mirror when no bucket is configured.
func New(ctx context.Context, log *zap.Logger, fsys afero.Fs, config Config) (*Mirror, error) {
	if !config.Enabled() {
		return nil, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" || config.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load S3 configuration: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.ForcePathStyle
	})
	return NewWithClient(log, fsys, client, config), nil
}

// NewWithClient creates a mirror around an existing client.
func NewWithClient(log *zap.Logger, fsys afero.Fs, client PutObjectAPI, config Config) *Mirror {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(Mirror{}).PkgPath())))
	return &Mirror{
		log:    log,
		fs:     fsys,
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
	}
}

// Key returns the object key a repository file of app and version is stored under.
func (m *Mirror) Key(app string, version string, name string) string {
	return path.Join(m.prefix, app, version, name)
}

// Publish uploads the archive and manifest of h. When promoted, the latest pointer object of the
// application is updated last.
func (m *Mirror) Publish(ctx context.Context, h repository.Handle, promoted bool) error {
	if m == nil {
		return nil
	}
	uploads := []upload{
		{h.Archive, m.Key(h.App, h.Version, h.App+repository.ArchiveExt), "application/zip"},
		{h.Manifest, m.Key(h.App, h.Version, manifest.FileName), textPlain},
	}
	if promoted {
		uploads = append(uploads, upload{h.Latest, path.Join(m.prefix, h.App, repository.LatestFileName), textPlain})
	}
	for _, u := range uploads {
		if err := m.put(ctx, u); err != nil {
			return err
		}
	}
	m.log.Info("mirrored published version", zap.String("app", h.App), zap.String("version", h.Version),
		zap.String("bucket", m.bucket), zap.Bool("promoted", promoted))
	return nil
}

const textPlain = "text/plain; charset=utf-8"

type upload struct {
	src         string
	key         string
	contentType string
}

func (m *Mirror) put(ctx context.Context, u upload) error {
	f, err := m.fs.Open(u.src)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(u.key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(u.contentType),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("unable to upload s3://%s/%s (%s): %s", m.bucket, u.key, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("unable to upload s3://%s/%s: %w", m.bucket, u.key, err)
	}
	return nil
}
