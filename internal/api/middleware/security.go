package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds the usual hardening headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// ContentSecurityPolicy locks responses down to JSON and file downloads.
// Development mode also allows websocket connections from any origin.
func ContentSecurityPolicy(isDev bool) gin.HandlerFunc {
	connectSrc := "'self'"
	if isDev {
		connectSrc += " ws: wss:"
	}
	policy := "default-src 'none'; " +
		"connect-src " + connectSrc + "; " +
		"frame-ancestors 'none'; " +
		"object-src 'none';"

	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", policy)
		c.Next()
	}
}

// StrictTransport adds HSTS when the server terminates TLS itself.
func StrictTransport(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
