package ratelimit

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"call-server/internal/apierrors"
	"call-server/internal/observability"
)

// Middleware applies the limiter per client IP.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		result, err := s.Check(ctx, c.ClientIP())
		if err != nil {
			// Fail open, already logged by Check.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

		if !result.Allowed {
			s.logger.Warn(
				observability.WithFields(ctx,
					observability.Field{Key: "client_ip", Value: c.ClientIP()},
					observability.Field{Key: "limit", Value: result.Limit},
				),
				"rate limit exceeded")
			apierrors.TooManyRequests(c, "Rate limit exceeded. Slow down and retry.")
			c.Abort()
			return
		}

		c.Next()
	}
}
