package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/logging"
	"github.com/gin-gonic/gin"
)

// CORS answers cross-origin requests from the configured origins
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && IsOriginAllowed(origin, allowedOrigins) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		} else if origin == "" && containsWildcard(allowedOrigins) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Logger is a custom logging middleware
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := loggedPath(c.Request.URL)

		c.Next()

		latency := time.Since(start)

		c.Writer.Header().Set("X-Response-Time", latency.String())

		if path != "/health" || gin.Mode() == gin.DebugMode {
			logging.L().Info("http_request",
				"method", c.Request.Method,
				"path", path,
				"status", c.Writer.Status(),
				"latency", latency.String(),
				"ip", c.ClientIP(),
			)
		}
	}
}

// loggedPath is the request path with its query, minus the API token
func loggedPath(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	query := u.Query()
	if query.Has("token") {
		query.Set("token", "REDACTED")
	}
	return u.Path + "?" + query.Encode()
}

// RateLimit caps requests per client IP per minute. Zero disables it.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	limiter := newRateLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		if !limiter.enabled {
			c.Next()
			return
		}

		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		if !limiter.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// IsOriginAllowed reports whether a browser origin may call the API. Requests
// without an Origin header are not cross-origin and always pass.
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == "0.0.0.0/0" || normalized == origin {
			return true
		}
	}

	return false
}

func containsWildcard(allowedOrigins []string) bool {
	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "*" || normalized == "0.0.0.0/0" {
			return true
		}
	}
	return false
}

type rateLimiter struct {
	enabled           bool
	requestsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	entries           map[string]*rateLimitEntry
	lastCleanup       time.Time
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		enabled:           requestsPerMinute > 0,
		requestsPerMinute: requestsPerMinute,
		window:            time.Minute,
		entries:           make(map[string]*rateLimitEntry),
		lastCleanup:       time.Now(),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanup(now)
	}

	entry, exists := rl.entries[key]
	if !exists || now.Sub(entry.windowStart) >= rl.window {
		rl.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	if entry.count >= rl.requestsPerMinute {
		return false
	}

	entry.count++
	return true
}

func (rl *rateLimiter) cleanup(now time.Time) {
	for key, entry := range rl.entries {
		if now.Sub(entry.windowStart) >= rl.window {
			delete(rl.entries, key)
		}
	}
	rl.lastCleanup = now
}
