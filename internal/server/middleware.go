package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/sealrun/internal/logx"
)

// RequestLog logs one line per request at debug level, and at warn level
// when the reply is an error.
func RequestLog(port string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		if status >= http.StatusBadRequest {
			logx.Warnf("%s: %s %s -> %d (%s)", port, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
			return
		}
		logx.Debugf("%s: %s %s -> %d (%s)", port, c.Request.Method, c.Request.URL.Path, status, time.Since(start))
	}
}

// BodyLimit caps the request body at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
