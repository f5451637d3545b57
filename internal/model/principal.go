package model

// Role names a role. Roles resolve to a flattened permission set through the
// permission store; role names are never compared against literals in the
// decision path.
type Role string

// Permission is an opaque token naming a single allowed action. New
// permissions are additive data, not new code paths.
type Permission string

const (
	// PermissionPublish allows publishing messages into a tenant's group
	PermissionPublish Permission = "publish"
	// PermissionSubscribe allows joining a tenant's fan-out group
	PermissionSubscribe Permission = "subscribe"
	// PermissionReadHistory allows replaying persisted messages
	PermissionReadHistory Permission = "read_history"
)

// Principal is an authenticated caller identity. A principal carries exactly
// one role at a time; role assignment is a point-in-time fact.
type Principal struct {
	PrincipalID string
	TenantID    string
	Role        Role
}

// PermissionSet is a flattened set of permission tokens resolved for a role
type PermissionSet map[Permission]struct{}

// Contains reports whether the set grants the given permission
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// NewPermissionSet builds a set from a list of tokens
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}
