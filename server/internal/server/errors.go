package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/common/manifest"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/publish"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

func httpStatusFrom(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, api.ErrBadRequest),
		errors.Is(err, manifest.ErrMalformed),
		errors.Is(err, manifest.ErrInvalidPath),
		errors.Is(err, repository.ErrPathTraversal),
		errors.Is(err, repository.ErrInvalidName),
		errors.Is(err, publish.ErrInvalidArchive):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, history.ErrDisabled):
		return http.StatusNotFound
	case errors.Is(err, publish.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err inside the result envelope and aborts the handler chain.
func (s *UpdateServer) respondError(c *gin.Context, err error) {
	status := httpStatusFrom(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("requestID", requestIDFrom(c)), zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.String("requestID", requestIDFrom(c)), zap.Int("status", status), zap.Error(err))
	}
	c.Error(err)
	c.AbortWithStatusJSON(status, api.Result[any]{Code: status, Msg: err.Error()})
}

func respond[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, api.Result[T]{Code: http.StatusOK, Msg: "success", Data: data})
}

func (s *UpdateServer) recovered(c *gin.Context, recovered any) {
	s.log.Error("recovered from panic while handling request", zap.String("requestID", requestIDFrom(c)),
		zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered), zap.Stack("stack"))
	c.AbortWithStatusJSON(http.StatusInternalServerError, api.Result[any]{
		Code: http.StatusInternalServerError,
		Msg:  "internal server error",
	})
}
