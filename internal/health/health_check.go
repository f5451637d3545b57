package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/store"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	messageLog      store.MessageLog
	permissionStore store.PermissionStore
	cache           store.DecisionCache
	logger          *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(
	messageLog store.MessageLog,
	permissionStore store.PermissionStore,
	cache store.DecisionCache,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		messageLog:      messageLog,
		permissionStore: permissionStore,
		cache:           cache,
		logger:          logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkMessageLog(ctx); err != nil {
		h.logger.Error("Message log health check failed", zap.Error(err))
		checks["message_log"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["message_log"] = "healthy"
	}

	if err := h.checkPermissionStore(ctx); err != nil {
		h.logger.Error("Permission store health check failed", zap.Error(err))
		checks["permission_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["permission_store"] = "healthy"
	}

	if err := h.checkCache(ctx); err != nil {
		h.logger.Error("Decision cache health check failed", zap.Error(err))
		checks["decision_cache"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["decision_cache"] = "healthy"
	}

	status := HealthStatus{
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	w.Header().Set("Content-Type", "application/json")

	if allHealthy {
		status.Status = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		status.Status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

// checkMessageLog checks if the message log is healthy
func (h *HealthChecker) checkMessageLog(ctx context.Context) error {
	if h.messageLog == nil {
		return nil // Skip if not initialized
	}
	return h.messageLog.Ping(ctx)
}

// checkPermissionStore checks if the permission store is healthy
func (h *HealthChecker) checkPermissionStore(ctx context.Context) error {
	if h.permissionStore == nil {
		return nil // Skip if not initialized
	}
	return h.permissionStore.Ping(ctx)
}

// checkCache checks if the decision cache is healthy
func (h *HealthChecker) checkCache(ctx context.Context) error {
	if h.cache == nil {
		return nil // Skip if not initialized
	}
	return h.cache.Ping(ctx)
}
