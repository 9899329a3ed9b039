package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/domain"
	"github.com/Afshari9978/avishan/internal/core/port"
)

// RateLimitRule caps attempts for one named scope within the sliding window.
// When Match is set, requests it rejects pass through unlimited.
type RateLimitRule struct {
	Scope       string
	MaxAttempts int
	Window      time.Duration
	Match       func(c *gin.Context) bool
}

// RateLimiter enforces a per-client sliding window over the shared store.
// Store failures are logged and the request is allowed through; the limiter
// never becomes its own outage.
func RateLimiter(store port.RateLimitStore, rule RateLimitRule, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if store == nil || rule.MaxAttempts <= 0 {
			c.Next()
			return
		}
		if rule.Match != nil && !rule.Match(c) {
			c.Next()
			return
		}

		identifier := fmt.Sprintf("%s:%s", rule.Scope, c.ClientIP())
		now := time.Now().UTC()
		ctx := c.Request.Context()

		if err := store.TrimWindow(ctx, identifier, rule.Window, now); err != nil {
			log.Warn("rate limit trim failed", zap.String("scope", rule.Scope), zap.Error(err))
			c.Next()
			return
		}

		count, err := store.CountAttempts(ctx, identifier, rule.Window, now)
		if err != nil {
			log.Warn("rate limit count failed", zap.String("scope", rule.Scope), zap.Error(err))
			c.Next()
			return
		}

		if count >= rule.MaxAttempts {
			retryAfter := rule.Window
			if oldest, ok, err := store.OldestAttempt(ctx, identifier, rule.Window, now); err == nil && ok {
				retryAfter = oldest.Add(rule.Window).Sub(now)
				if retryAfter < time.Second {
					retryAfter = time.Second
				}
			}

			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))

			if env := EnvelopeFromContext(c); env != nil {
				env.Exception = domain.NewMessageError(domain.MsgTooManyRequests, http.StatusTooManyRequests)
				c.Abort()
				return
			}

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error_message": domain.MsgTooManyRequests.EN,
			})
			return
		}

		if err := store.RecordAttempt(ctx, identifier, now); err != nil {
			log.Warn("rate limit record failed", zap.String("scope", rule.Scope), zap.Error(err))
		}

		c.Next()
	}
}
