package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware throttles by the address gin resolves for the request. That
// address honors forwarding headers only from the engine's trusted proxies.
func Middleware(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := g.Limit()
		if limit <= 0 {
			c.Next()
			return
		}
		d := g.Admit(c.Request.Context(), c.ClientIP())
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
