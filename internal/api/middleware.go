package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

type loggerKey struct{}

// RequestLogger reads or generates an X-Request-ID, puts a request-scoped
// logger into the request context and logs every completed request
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}

		child := logger.With().
			Str("requestId", reqID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()

		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), loggerKey{}, child))

		c.Next()

		child.Debug().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

// loggerFrom returns the request-scoped logger, or a disabled one
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}
