package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// PostgresPermissionStore implements PermissionStore backed by PostgreSQL.
// The role_permissions table is the durable form of the many-to-many
// role/permission assignment relation.
type PostgresPermissionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresPermissionStore creates a permission store sharing an existing
// connection pool
func NewPostgresPermissionStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresPermissionStore {
	return &PostgresPermissionStore{
		pool:   pool,
		logger: logger,
	}
}

// GetPermissions returns the flattened permission set for a role.
// Returns ErrNotFound for a role with no grants.
func (s *PostgresPermissionStore) GetPermissions(ctx context.Context, role model.Role) (model.PermissionSet, error) {
	query := `SELECT permission FROM role_permissions WHERE role = $1`

	rows, err := s.pool.Query(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := make(model.PermissionSet)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms[model.Permission(p)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	if len(perms) == 0 {
		return nil, ErrNotFound
	}
	return perms, nil
}

// Ping checks the database connection
func (s *PostgresPermissionStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the message log that created it
func (s *PostgresPermissionStore) Close() {}
