package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termgate-dev/termgate/internal/errors"
)

// MaxJSONBodySize is the request body cap on the JSON API (1 MiB). Defeats
// oversize POSTs against the auth endpoints.
const MaxJSONBodySize int64 = 1 * 1024 * 1024

// RequestSizeLimiter limits the size of incoming HTTP request bodies
// to prevent DoS attacks via oversized payloads.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip for GET, HEAD, OPTIONS requests (no body)
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			appErr := errors.BadRequest("request body too large")
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, appErr.ToResponse())
			return
		}

		// Wrap the body so a lying Content-Length cannot exceed the cap
		// either.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}

// JSONSizeLimiter caps JSON payloads for the API endpoints.
func JSONSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxJSONBodySize)
}

// UploadSizeLimiter caps file upload bodies at maxMB megabytes.
func UploadSizeLimiter(maxMB int64) gin.HandlerFunc {
	return RequestSizeLimiter(maxMB * 1024 * 1024)
}
