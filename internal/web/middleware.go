package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimit rejects requests once the shared token bucket is empty.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			s.logger.Warn("Rate limit exceeded",
				"path", c.Request.URL.Path,
				"limit_per_second", s.limiter.Limit(),
				"burst_capacity", s.limiter.Burst())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
