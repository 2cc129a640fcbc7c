package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ExxiDauS/CyberCTF/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const rateKeyPrefix = "sandbox:rate:"

// Limiter counts one hit on key within window.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RateLimitPolicy caps hits per client IP, per user and per route. Zero disables a dimension.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	UserMax  int           `yaml:"userMax"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// Enabled reports whether any dimension is limited.
func (p RateLimitPolicy) Enabled() bool {
	return p.UserMax > 0 || p.IPMax > 0 || p.RouteMax > 0
}

// RateLimitMiddleware enforces policy on the matched route.
func RateLimitMiddleware(limiter Limiter, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !policy.Enabled() {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx := c.Request.Context()

		if policy.IPMax > 0 {
			key := fmt.Sprintf("%sip:%s:%s", rateKeyPrefix, c.ClientIP(), route)
			if err := limiter.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if userID, ok := c.Get("user_id"); ok {
				key := fmt.Sprintf("%suser:%v:%s", rateKeyPrefix, userID, route)
				if err := limiter.Allow(ctx, key, policy.UserMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		if policy.RouteMax > 0 {
			key := fmt.Sprintf("%sroute:%s", rateKeyPrefix, route)
			if err := limiter.Allow(ctx, key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
