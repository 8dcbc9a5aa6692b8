package auth

import (
	"fmt"
	"slices"
)

// Permission represents a coarse, role-level capability. Decisions that
// depend on who the target is go through AccessEvaluator instead.
type Permission string

const (
	PermProfileRead       Permission = "profile:read"
	PermPasswordChange    Permission = "password:change"
	PermSessionRevokeOwn  Permission = "session:revoke:own"
	PermSessionRevokeAny  Permission = "session:revoke:any"
	PermUserStatusManage  Permission = "user:status:manage"
	PermRelationshipWrite Permission = "relationship:write"
)

// baseline is granted to every role.
var baseline = []Permission{
	PermProfileRead,
	PermPasswordChange,
	PermSessionRevokeOwn,
}

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for role-level authorisation.
var rolePermissions = map[Role][]Permission{
	RoleStudent: baseline,
	RoleParent:  baseline,
	RoleTeacher: baseline,
	RoleAdmin: append(slices.Clone(baseline),
		PermSessionRevokeAny,
		PermUserStatusManage,
		PermRelationshipWrite,
	),
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// RequirePermission fails with ErrForbidden unless actor's role grants perm.
func RequirePermission(actor *User, perm Permission) error {
	if actor == nil {
		return ErrInvalidAccessToken
	}
	if !HasPermission(actor.Role, perm) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, actor.Role, perm)
	}
	return nil
}

// RequireRole fails with ErrForbidden unless actor has one of roles.
func RequireRole(actor *User, roles ...Role) error {
	if actor == nil {
		return ErrInvalidAccessToken
	}
	if !slices.Contains(roles, actor.Role) {
		return fmt.Errorf("%w: role %s not allowed", ErrForbidden, actor.Role)
	}
	return nil
}
