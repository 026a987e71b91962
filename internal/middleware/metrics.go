// Package middleware provides Gin HTTP middleware for the participant backend.
//
// Middleware ordering matters and is enforced in router.go:
//
//	SecurityHeaders → CORS → RateLimit → RequestID → Metrics → Auth → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth so brute-force traffic is rejected before any
// token verification work. Auth resolves the actor identity that the lifecycle
// services record in the audit trail.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink/internal/telemetry"
)

// MetricsMiddleware returns a Gin handler that records request count and latency
// for every request passing through the router.
//
// The path label is set from c.FullPath(), the matched route template
// (e.g. /api/v1/users/:id/status) rather than the raw URL, so user-supplied path
// segments never inflate label cardinality. Requests that match no registered
// route use the literal "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}
