package server

import (
	"time"

	"plate-auction/internal/auth"
	"plate-auction/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing and, when known, the caller
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if user, err := auth.Caller(c); err == nil {
		fields["user_id"] = user.UserID
	}
	utils.Info("HTTP Request", fields)
}
