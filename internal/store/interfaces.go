package store

import (
	"context"
	"errors"
	"time"

	"github.com/hivemesh/relay/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// MessageLog is the append-only persistence boundary for inbound messages.
// Append must be atomic per tenant: two concurrent appends for the same
// tenant never observe or assign the same sequence number, and a failed
// append never consumes one.
type MessageLog interface {
	Append(ctx context.Context, tenantID, senderID string, payload []byte) (*model.Message, error)

	// ReadSince returns persisted messages with a sequence number strictly
	// greater than sinceSeq, ordered by sequence number.
	ReadSince(ctx context.Context, tenantID string, sinceSeq uint64) ([]*model.Message, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// PermissionStore maps a role to its permission set
type PermissionStore interface {
	// GetPermissions returns the flattened permission set for a role.
	// Returns ErrNotFound for a role with no grants.
	GetPermissions(ctx context.Context, role model.Role) (model.PermissionSet, error)

	Ping(ctx context.Context) error
	Close()
}

// DecisionCache caches flattened permission sets keyed by role
type DecisionCache interface {
	Get(ctx context.Context, key string) (model.PermissionSet, error)
	Set(ctx context.Context, key string, perms model.PermissionSet, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
