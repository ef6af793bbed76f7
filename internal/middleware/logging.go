package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs every request with timing and status.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := zapcore.InfoLevel
		if status >= 500 {
			level = zapcore.ErrorLevel
		}

		logger.Check(level, "http request").Write(
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
