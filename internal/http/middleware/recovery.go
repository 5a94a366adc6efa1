package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery answers a panicking status handler with a 500. state reports the
// relay lifecycle state for the log line and may be nil.
func Recovery(state func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			attrs := []any{
				"panic", r,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"path", c.Request.URL.Path,
			}
			if state != nil {
				attrs = append(attrs, "relay_state", state())
			}
			attrs = append(attrs, "stack", string(debug.Stack()))
			slog.ErrorContext(c.Request.Context(), "status handler panicked, relay keeps running", attrs...)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "status unavailable",
			})
		}()
		c.Next()
	}
}
