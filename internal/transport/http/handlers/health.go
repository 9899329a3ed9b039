// Package handlers holds the thin HTTP handlers that live outside the
// model-driven dispatch surface.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/infra/redis"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler constructs the probe handler.
func NewHealthHandler(pool *pgxpool.Pool, redisClient *redis.Client, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{pool: pool, redis: redisClient, logger: logger}
}

// Live reports process liveness; it never touches dependencies.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready reports whether the backing stores answer within the probe budget.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.logger.Warn("postgres readiness check failed", zap.Error(err))
			checks["postgres"] = "unreachable"
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			h.logger.Warn("redis readiness check failed", zap.Error(err))
			checks["redis"] = "unreachable"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusWord(healthy), "checks": checks})
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
