// Package authz implements the authorization decision engine.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/metrics"
	"github.com/hivemesh/relay/internal/model"
	"github.com/hivemesh/relay/internal/store"
)

// roleCacheType labels decision cache metrics for role permission lookups
const roleCacheType = "role_permissions"

// DecisionReason is the machine-readable reason code attached to a decision
type DecisionReason string

const (
	ReasonGranted           DecisionReason = "GRANTED"
	ReasonTenantMismatch    DecisionReason = "TENANT_MISMATCH"
	ReasonUnknownRole       DecisionReason = "UNKNOWN_ROLE"
	ReasonPermissionMissing DecisionReason = "PERMISSION_MISSING"
	ReasonUnauthenticated   DecisionReason = "UNAUTHENTICATED"
	ReasonStoreFailure      DecisionReason = "STORE_FAILURE"
)

// Decision is the result of an authorization check
type Decision struct {
	Allowed bool
	Reason  DecisionReason
}

// Engine evaluates whether a principal may perform an action inside a
// tenant boundary. Stateless per call; safe for high-frequency use. Every
// path that is not an explicit grant resolves to deny.
type Engine struct {
	permissions store.PermissionStore
	cache       store.DecisionCache
	cacheTTL    time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewEngine creates a new authorization engine
func NewEngine(
	permissions store.PermissionStore,
	cache store.DecisionCache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		permissions: permissions,
		cache:       cache,
		cacheTTL:    cacheTTL,
		metrics:     metrics.NewMetrics(),
		logger:      logger,
	}
}

// Check decides whether the principal may perform action on resources owned
// by resourceTenantID. Tenant scoping is enforced before any role lookup:
// a cross-tenant request is denied regardless of the principal's role.
func (e *Engine) Check(ctx context.Context, principal *model.Principal, action model.Permission, resourceTenantID string) Decision {
	if principal == nil || principal.PrincipalID == "" {
		return Decision{Allowed: false, Reason: ReasonUnauthenticated}
	}
	if principal.TenantID == "" || principal.TenantID != resourceTenantID {
		return Decision{Allowed: false, Reason: ReasonTenantMismatch}
	}

	perms, err := e.FlattenPermissions(ctx, principal.Role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Decision{Allowed: false, Reason: ReasonUnknownRole}
		}
		// Fail closed on store failure rather than propagating an error.
		e.logger.Error("Permission lookup failed, denying",
			zap.String("role", string(principal.Role)),
			zap.String("action", string(action)),
			zap.Error(err))
		return Decision{Allowed: false, Reason: ReasonStoreFailure}
	}

	if !perms.Contains(action) {
		return Decision{Allowed: false, Reason: ReasonPermissionMissing}
	}

	return Decision{Allowed: true, Reason: ReasonGranted}
}

// FlattenPermissions resolves a role to its flattened permission set, using
// the decision cache when available. Pure with respect to its inputs.
func (e *Engine) FlattenPermissions(ctx context.Context, role model.Role) (model.PermissionSet, error) {
	if role == "" {
		return nil, store.ErrNotFound
	}

	cacheKey := e.roleCacheKey(role)
	if cached, err := e.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		e.metrics.RecordCacheHit(roleCacheType)
		e.logger.Debug("Permission set retrieved from cache",
			zap.String("role", string(role)))
		return cached, nil
	}
	e.metrics.RecordCacheMiss(roleCacheType)

	perms, err := e.permissions.GetPermissions(ctx, role)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, cacheKey, perms, e.cacheTTL); err != nil {
		e.logger.Warn("Failed to cache permission set",
			zap.String("role", string(role)),
			zap.Error(err))
	}

	return perms, nil
}

// Invalidate drops a role's cached permission set, for use after a grant
// change
func (e *Engine) Invalidate(ctx context.Context, role model.Role) {
	if err := e.cache.Delete(ctx, e.roleCacheKey(role)); err != nil {
		e.logger.Warn("Failed to invalidate permission cache",
			zap.String("role", string(role)),
			zap.Error(err))
	}
}

// roleCacheKey generates a cache key for a role's permission set
func (e *Engine) roleCacheKey(role model.Role) string {
	return fmt.Sprintf("authz:role:%s", role)
}
