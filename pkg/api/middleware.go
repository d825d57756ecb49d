package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// requestLoggingMiddleware logs each request's method, path, status,
// and latency via slog, the same structured-logging shape used
// elsewhere in this codebase instead of gin's default writer.
func requestLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("api: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"clientIp", c.ClientIP(),
		)
	}
}

// securityHeadersMiddleware sets the handful of response headers any
// management API behind a reverse proxy should carry.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Sync-Engine", "offlinesync")
		c.Next()
	}
}

// rateLimitMiddleware applies a per-client-IP token bucket, the way
// this codebase rate-limits its other HTTP surfaces with
// golang.org/x/time/rate rather than a bespoke counter.
func rateLimitMiddleware(requestsPerWindow int, window time.Duration) gin.HandlerFunc {
	limiters := &limiterMap{limiters: make(map[string]*rate.Limiter)}
	every := rate.Every(window / time.Duration(requestsPerWindow))

	return func(c *gin.Context) {
		limiter := limiters.get(c.ClientIP(), every, requestsPerWindow)
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

type limiterMap struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (m *limiterMap) get(key string, every rate.Limit, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		l = rate.NewLimiter(every, burst)
		m.limiters[key] = l
	}
	return l
}
