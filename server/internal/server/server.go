package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/metrics"
	"github.com/thinkparq/updater-go/server/pkg/publish"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

type Config struct {
	Address       string `mapstructure:"address"`
	TlsCertFile   string `mapstructure:"tls-cert-file"`
	TlsKeyFile    string `mapstructure:"tls-key-file"`
	TlsDisable    bool   `mapstructure:"tls-disable"`
	MaxUploadSize int64  `mapstructure:"max-upload-size"`
	// ReadTimeout and WriteTimeout bound how long a single upload or download may take (0 disables).
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

// HistoryReader lists the publish history of an application.
type HistoryReader interface {
	List(app string) ([]history.Record, error)
}

type UpdateServer struct {
	log *zap.Logger
	Config
	httpServer *http.Server
	engine     *gin.Engine
	repo       *repository.Repository
	publisher  *publish.Publisher
	history    HistoryReader
	metrics    *metrics.Metrics
}

// New wires the HTTP routes. history and m may be nil.
func New(log *zap.Logger, config Config, repo *repository.Repository, publisher *publish.Publisher, history HistoryReader, m *metrics.Metrics) (*UpdateServer, error) {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(UpdateServer{}).PkgPath())))
	if repo == nil || publisher == nil {
		return nil, errors.New("a repository and publisher are required")
	}
	gin.SetMode(gin.ReleaseMode)
	s := &UpdateServer{
		log:       log,
		Config:    config,
		repo:      repo,
		publisher: publisher,
		history:   history,
		metrics:   m,
	}
	s.engine = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
	}
	return s, nil
}

// Handler returns the root handler, mainly for testing.
func (s *UpdateServer) Handler() http.Handler {
	return s.engine
}

func (s *UpdateServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestID(), s.accessLog(), s.observe(), gin.CustomRecovery(s.recovered))
	r.NoRoute(func(c *gin.Context) {
		s.respondError(c, fmt.Errorf("%w: no route for %s %s", repository.ErrNotFound, c.Request.Method, c.Request.URL.Path))
	})

	r.POST(api.PathUpload, s.upload)
	r.POST(api.PathCheck, s.check)
	r.GET(api.PathUpdateFile+"/:app/:version/*path", s.updateFile)
	r.GET(api.PathDownload+"/:app", s.downloadLatest)
	r.GET(api.PathDownload+"/:app/:version", s.downloadVersion)

	repo := r.Group(api.PathRepository)
	repo.GET("/latest/:app", s.latestVersion)
	repo.GET("/list", s.list)
	repo.GET("/apps", s.apps)
	repo.GET("/apps/:app", s.versions)
	repo.GET("/apps/:app/history", s.publishHistory)
	repo.GET("/apps/:app/:version", s.content)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *UpdateServer) ListenAndServe(errChan chan<- error) {
	go func() {
		s.log.Info("listening on local network address", zap.Any("address", s.Address))
		var err error
		if !s.TlsDisable && s.TlsCertFile != "" && s.TlsKeyFile != "" {
			s.log.Info("serving HTTPS requests")
			err = s.httpServer.ListenAndServeTLS(s.TlsCertFile, s.TlsKeyFile)
		} else {
			s.log.Warn("not using TLS because it was explicitly disabled or a certificate and/or key were not specified")
			s.log.Info("serving HTTP requests")
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("update server: error serving HTTP requests on %s: %w", s.Address, err)
		}
	}()
}

// Stop waits for in-flight requests until the shutdown timeout expires, then closes remaining
// connections.
func (s *UpdateServer) Stop() {
	s.log.Info("attempting to stop HTTP server")
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("requests were still in flight when the server stopped", zap.Error(err))
		s.httpServer.Close()
	}
}
