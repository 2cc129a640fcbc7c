package middleware

import (
	"context"
	"time"

	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TimeoutOption adjusts TimeoutMiddleware.
type TimeoutOption func(map[string]time.Duration)

// WithRouteTimeout replaces the timeout for one route pattern, as reported by c.FullPath().
// Zero leaves the route unbounded.
func WithRouteTimeout(path string, timeout time.Duration) TimeoutOption {
	return func(routes map[string]time.Duration) {
		routes[path] = timeout
	}
}

// TimeoutMiddleware bounds the request context. Handlers see the deadline through
// c.Request.Context() and abandon engine calls when it passes.
func TimeoutMiddleware(timeout time.Duration, opts ...TimeoutOption) gin.HandlerFunc {
	routes := make(map[string]time.Duration, len(opts))
	for _, opt := range opts {
		opt(routes)
	}
	return func(c *gin.Context) {
		timeout := timeout
		if d, ok := routes[c.FullPath()]; ok {
			timeout = d
		}
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLogMiddleware logs one line per request after it completes.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn(c.Request.Context(), "request completed", fields...)
			return
		}
		logger.Info(c.Request.Context(), "request completed", fields...)
	}
}
