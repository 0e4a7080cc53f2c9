package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics returns middleware that captures request metrics keyed by route
// template, so /timetable/weekly/3A and /timetable/weekly/4B share a series.
// Unmatched requests are grouped under "unmatched".
func Metrics(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observer.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
