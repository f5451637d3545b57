package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// InMemoryPermissionStore implements PermissionStore with a static
// role -> permission set mapping, typically seeded from the roles file.
type InMemoryPermissionStore struct {
	mu     sync.RWMutex
	grants map[model.Role]model.PermissionSet
	logger *zap.Logger
}

// NewInMemoryPermissionStore creates a permission store from the given grants
func NewInMemoryPermissionStore(grants map[model.Role][]model.Permission, logger *zap.Logger) *InMemoryPermissionStore {
	flattened := make(map[model.Role]model.PermissionSet, len(grants))
	for role, perms := range grants {
		flattened[role] = model.NewPermissionSet(perms...)
	}
	return &InMemoryPermissionStore{
		grants: flattened,
		logger: logger,
	}
}

// GetPermissions returns the permission set for a role.
// Returns ErrNotFound for a role with no grants.
func (s *InMemoryPermissionStore) GetPermissions(ctx context.Context, role model.Role) (model.PermissionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perms, ok := s.grants[role]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy so callers can never mutate the stored set.
	snapshot := make(model.PermissionSet, len(perms))
	for p := range perms {
		snapshot[p] = struct{}{}
	}
	return snapshot, nil
}

// Grant adds permissions to a role. Additive only; used by provisioning.
func (s *InMemoryPermissionStore) Grant(role model.Role, perms ...model.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.grants[role]
	if !ok {
		set = make(model.PermissionSet)
		s.grants[role] = set
	}
	for _, p := range perms {
		set[p] = struct{}{}
	}

	s.logger.Debug("Granted permissions",
		zap.String("role", string(role)),
		zap.Int("count", len(perms)))
}

// Ping reports store availability; the in-memory store is always available
func (s *InMemoryPermissionStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases resources
func (s *InMemoryPermissionStore) Close() {}
