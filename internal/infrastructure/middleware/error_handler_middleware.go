package middleware

import (
	"net/http"

	apperrors "playlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached to the context as a
// JSON response. Handlers that already wrote a response (a completed
// websocket upgrade, for one) are left alone.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := apperrors.GetAppError(err); appErr != nil {
			logger.Warnw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
				"error", appErr.Cause,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(apperrors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
