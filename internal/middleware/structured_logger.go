package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/termgate-dev/termgate/internal/logger"
)

// StructuredLogger logs one line per request with method, path, status,
// latency, and the correlation id. Bodies are never logged; auth endpoints
// carry credentials.
func StructuredLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		event := logger.HTTP().Info()
		if c.Writer.Status() >= 500 {
			event = logger.HTTP().Error()
		} else if c.Writer.Status() >= 400 {
			event = logger.HTTP().Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("remote", c.ClientIP()).
			Str("request_id", GetRequestID(c)).
			Msg("request")
	}
}
