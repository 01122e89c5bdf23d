package middleware

import (
	"time"

	"playlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens a span per relay HTTP request. For /ws the span
// covers the whole websocket session.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		if room := c.Query("room"); room != "" {
			span.SetAttributes(tracing.RoomKey.String(room))
		}
		if role := c.Query("role"); role != "" {
			span.SetAttributes(tracing.RoleKey.String(role))
		}

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		span.SetAttributes(
			attribute.Int("http.status_code", c.Writer.Status()),
			tracing.DurationKey.Int64(time.Since(start).Milliseconds()),
		)
		if len(c.Errors) > 0 || c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
