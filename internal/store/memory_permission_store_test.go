package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

func TestGetPermissionsKnownRole(t *testing.T) {
	s := NewInMemoryPermissionStore(map[model.Role][]model.Permission{
		"member": {model.PermissionPublish, model.PermissionSubscribe},
	}, zap.NewNop())

	perms, err := s.GetPermissions(context.Background(), "member")
	require.NoError(t, err)
	assert.True(t, perms.Contains(model.PermissionPublish))
	assert.True(t, perms.Contains(model.PermissionSubscribe))
	assert.False(t, perms.Contains(model.PermissionReadHistory))
}

func TestGetPermissionsUnknownRole(t *testing.T) {
	s := NewInMemoryPermissionStore(nil, zap.NewNop())

	_, err := s.GetPermissions(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPermissionsReturnsCopy(t *testing.T) {
	s := NewInMemoryPermissionStore(map[model.Role][]model.Permission{
		"member": {model.PermissionPublish},
	}, zap.NewNop())

	perms, err := s.GetPermissions(context.Background(), "member")
	require.NoError(t, err)
	perms["stolen"] = struct{}{}

	fresh, err := s.GetPermissions(context.Background(), "member")
	require.NoError(t, err)
	assert.False(t, fresh.Contains("stolen"))
}

func TestGrantIsAdditive(t *testing.T) {
	s := NewInMemoryPermissionStore(nil, zap.NewNop())

	s.Grant("auditor", model.PermissionSubscribe)
	s.Grant("auditor", model.PermissionReadHistory)

	perms, err := s.GetPermissions(context.Background(), "auditor")
	require.NoError(t, err)
	assert.True(t, perms.Contains(model.PermissionSubscribe))
	assert.True(t, perms.Contains(model.PermissionReadHistory))
}

func TestDecisionCacheSetGet(t *testing.T) {
	c := NewInMemoryDecisionCache(10, zap.NewNop())
	ctx := context.Background()

	perms := model.NewPermissionSet(model.PermissionPublish)
	require.NoError(t, c.Set(ctx, "authz:role:member", perms, time.Minute))

	got, err := c.Get(ctx, "authz:role:member")
	require.NoError(t, err)
	assert.True(t, got.Contains(model.PermissionPublish))
}

func TestDecisionCacheMiss(t *testing.T) {
	c := NewInMemoryDecisionCache(10, zap.NewNop())

	_, err := c.Get(context.Background(), "authz:role:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecisionCacheExpiry(t *testing.T) {
	c := NewInMemoryDecisionCache(10, zap.NewNop())
	ctx := context.Background()

	perms := model.NewPermissionSet(model.PermissionPublish)
	require.NoError(t, c.Set(ctx, "k", perms, time.Millisecond))

	time.Sleep(5 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecisionCacheDelete(t *testing.T) {
	c := NewInMemoryDecisionCache(10, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", model.NewPermissionSet(model.PermissionPublish), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecisionCacheEviction(t *testing.T) {
	c := NewInMemoryDecisionCache(2, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", model.NewPermissionSet(model.PermissionPublish), time.Minute))
	require.NoError(t, c.Set(ctx, "b", model.NewPermissionSet(model.PermissionPublish), time.Minute))
	require.NoError(t, c.Set(ctx, "c", model.NewPermissionSet(model.PermissionPublish), time.Minute))

	hits := 0
	for _, key := range []string{"a", "b", "c"} {
		if _, err := c.Get(ctx, key); err == nil {
			hits++
		}
	}
	assert.Equal(t, 2, hits)
}
