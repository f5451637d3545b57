package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/authz"
	relayerrors "github.com/hivemesh/relay/internal/errors"
	"github.com/hivemesh/relay/internal/metrics"
	"github.com/hivemesh/relay/internal/model"
)

// DecisionHandler serves standalone authorization decisions
type DecisionHandler struct {
	engine  *authz.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDecisionHandler creates a new decision handler
func NewDecisionHandler(engine *authz.Engine, m *metrics.Metrics, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{
		engine:  engine,
		metrics: m,
		logger:  logger,
	}
}

// DecisionRequest asks whether a principal may perform an action inside a
// tenant boundary
type DecisionRequest struct {
	PrincipalID      string `json:"principal_id"`
	TenantID         string `json:"tenant_id"`
	Role             string `json:"role"`
	Action           string `json:"action"`
	ResourceTenantID string `json:"resource_tenant_id"`
}

// DecisionResponse carries the decision and its machine-readable reason
type DecisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Decide handles POST /v1/authz/decision
func (h *DecisionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("invalid request body", err))
		return
	}

	if req.Action == "" {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("action is required", nil))
		return
	}
	if req.ResourceTenantID == "" {
		writeError(w, r, h.logger, relayerrors.InvalidArgument("resource_tenant_id is required", nil))
		return
	}

	principal := &model.Principal{
		PrincipalID: req.PrincipalID,
		TenantID:    req.TenantID,
		Role:        model.Role(req.Role),
	}
	if req.PrincipalID == "" {
		principal = nil
	}

	decision := h.engine.Check(r.Context(), principal, model.Permission(req.Action), req.ResourceTenantID)
	h.metrics.RecordDecision(req.Action, string(decision.Reason))

	h.logger.Debug("authorization decision",
		zap.String("principal_id", req.PrincipalID),
		zap.String("action", req.Action),
		zap.String("resource_tenant_id", req.ResourceTenantID),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", string(decision.Reason)))

	writeJSON(w, http.StatusOK, DecisionResponse{
		Allowed: decision.Allowed,
		Reason:  string(decision.Reason),
	})
}
