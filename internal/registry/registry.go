// Package registry maintains the tenant-scoped fan-out group membership index.
package registry

import (
	"sync"

	"go.uber.org/zap"

	relayerrors "github.com/hivemesh/relay/internal/errors"
)

// TenantRegistry tracks which connections belong to which tenant group.
// Purely in-memory, no I/O; both lookup directions are O(1).
type TenantRegistry struct {
	mu       sync.RWMutex
	members  map[string]map[string]struct{} // tenantID -> set of connectionIDs
	tenantOf map[string]string              // connectionID -> tenantID
	logger   *zap.Logger
}

// NewTenantRegistry creates a new tenant registry
func NewTenantRegistry(logger *zap.Logger) *TenantRegistry {
	return &TenantRegistry{
		members:  make(map[string]map[string]struct{}),
		tenantOf: make(map[string]string),
		logger:   logger,
	}
}

// Join registers a connection in its tenant's group. Joining with a pair
// that is already registered is a no-op. A connection can belong to only one
// tenant at a time; joining a second tenant without leaving first is rejected.
func (r *TenantRegistry) Join(tenantID, connectionID string) error {
	if tenantID == "" {
		return relayerrors.InvalidTenant(tenantID, "tenant ID is empty")
	}
	if connectionID == "" {
		return relayerrors.InvalidArgument("connection ID is empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tenantOf[connectionID]; ok {
		if existing == tenantID {
			return nil
		}
		return relayerrors.InvalidArgument("connection already belongs to another tenant", nil).
			WithDetail("connection_id", connectionID).
			WithDetail("tenant_id", existing)
	}

	group, ok := r.members[tenantID]
	if !ok {
		group = make(map[string]struct{})
		r.members[tenantID] = group
	}
	group[connectionID] = struct{}{}
	r.tenantOf[connectionID] = tenantID

	r.logger.Debug("Connection joined tenant group",
		zap.String("tenant_id", tenantID),
		zap.String("connection_id", connectionID),
		zap.Int("group_size", len(group)))

	return nil
}

// Leave removes the connection from whichever tenant it belongs to.
// No-op when the connection is not registered.
func (r *TenantRegistry) Leave(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenantID, ok := r.tenantOf[connectionID]
	if !ok {
		return
	}

	delete(r.tenantOf, connectionID)
	if group, ok := r.members[tenantID]; ok {
		delete(group, connectionID)
		if len(group) == 0 {
			delete(r.members, tenantID)
		}
	}

	r.logger.Debug("Connection left tenant group",
		zap.String("tenant_id", tenantID),
		zap.String("connection_id", connectionID))
}

// MembersOf returns a snapshot copy of the tenant's current member
// connection IDs. The snapshot stays stable while joins and leaves proceed
// concurrently, so fan-out never iterates a live map.
func (r *TenantRegistry) MembersOf(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.members[tenantID]
	if !ok {
		return nil
	}

	snapshot := make([]string, 0, len(group))
	for connectionID := range group {
		snapshot = append(snapshot, connectionID)
	}
	return snapshot
}

// TenantOf returns the tenant a connection belongs to
func (r *TenantRegistry) TenantOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenantID, ok := r.tenantOf[connectionID]
	return tenantID, ok
}

// MemberCount returns the current size of a tenant's group
func (r *TenantRegistry) MemberCount(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[tenantID])
}
