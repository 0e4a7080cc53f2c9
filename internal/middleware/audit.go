package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/pkg/middleware/requestid"
)

// Audit writes one structured audit line per successful mutation, naming the
// acting identity and the action performed.
func Audit(logger *zap.Logger, action string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	auditLog := logger.Named("audit")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status >= 400 {
			return
		}

		fields := []zap.Field{
			zap.String("action", action),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if identity := IdentityFromContext(c); identity != nil {
			fields = append(fields, zap.String("actor", identity.PK))
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		auditLog.Info("timetable mutation", fields...)
	}
}
