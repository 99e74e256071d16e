package web

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SentryMiddleware reports errors attached to the request context to Sentry.
// It is a no-op when Sentry was not initialized.
func SentryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		for _, err := range c.Errors.ByType(gin.ErrorTypePrivate) {
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("method", c.Request.Method)
				scope.SetTag("path", c.FullPath())
				scope.SetTag("status", http.StatusText(c.Writer.Status()))
				scope.SetExtra("latency", time.Since(start).String())
				scope.SetRequest(c.Request)

				sentry.CaptureException(err.Err)
			})
		}
	}
}

// LogMiddleware logs every request at debug level, and failures at error
// level.
func LogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if err := c.Errors.ByType(gin.ErrorTypePrivate).Last(); err != nil {
			entry.WithError(err.Err).Error("request failed")
			return
		}
		entry.Debug("request served")
	}
}
