package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/internal/ratelimit"
)

// RateLimitSubmit throttles batch submissions per user.
func RateLimitSubmit(lim ratelimit.Limiter, bucket ratelimit.Bucket) gin.HandlerFunc {
	return rateLimit(lim, ratelimit.ScopeSubmit, bucket)
}

// rateLimit keys buckets by user id when AuthMiddleware ran first and by the
// raw bearer token otherwise.
func rateLimit(lim ratelimit.Limiter, scope string, bucket ratelimit.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		subject := UserID(c)
		if subject == "" {
			subject = bearerToken(c.GetHeader("Authorization"))
		}
		if subject == "" {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope, subject, bucket)
		if err != nil {
			// Fail open: a Redis outage should not block submissions.
			Logger(c).Warn("rate limit check failed", slog.String("scope", scope), slog.Any("err", err))
			c.Next()
			return
		}
		if dec.Allowed {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			c.Next()
			return
		}

		retryAfterSeconds := max(int(math.Ceil(dec.RetryAfter.Seconds())), 1)
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, "http").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
