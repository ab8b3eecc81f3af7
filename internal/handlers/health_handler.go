package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/llmstxt/internal/cache"
	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/middleware"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler reports whether the content store is reachable
type HealthHandler struct {
	checker domain.HealthChecker // nil when the store has no remote side
	cache   *cache.ShardedCache  // nil when caching is disabled
	driver  string
	logger  *zap.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker domain.HealthChecker, c *cache.ShardedCache, driver string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, cache: c, driver: driver, logger: logger}
}

// ServeHTTP handles GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	health := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"storage":   h.driver,
	}

	if h.cache != nil {
		stats := h.cache.Stats()
		health["cache"] = map[string]any{
			"items":  stats.Items,
			"hits":   stats.Hits,
			"misses": stats.Misses,
		}
	}

	status := http.StatusOK
	if h.checker != nil {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		if err := h.checker.CheckConnection(checkCtx); err != nil {
			h.logger.Warn("health check failed",
				zap.String("request_id", requestID),
				zap.Error(err),
			)
			status = http.StatusServiceUnavailable
			health["status"] = "unhealthy"
			health["error"] = err.Error()
		} else {
			health["database"] = "connected"
		}
	}

	if err := respondJSON(w, status, health, requestID); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
