package role

import (
	"context"

	"github.com/xraph/concierge/id"
)

// Store defines persistence operations for custom roles.
type Store interface {
	// CreateRole persists a new role. A live role with the same name in the
	// same (organization, property) scope yields a conflict.
	CreateRole(ctx context.Context, r *Role) error

	// GetRole retrieves a role by ID, including soft-deleted roles.
	GetRole(ctx context.Context, roleID id.ID) (*Role, error)

	// GetRoleByName retrieves a live role by name within a tenant scope.
	GetRoleByName(ctx context.Context, organizationID, propertyID, name string) (*Role, error)

	// UpdateRole persists changes to a role's attributes.
	UpdateRole(ctx context.Context, r *Role) error

	// ListRoles returns roles matching the filter, newest first.
	ListRoles(ctx context.Context, filter *ListFilter) ([]*Role, error)

	// CountRoles returns the number of roles matching the filter.
	CountRoles(ctx context.Context, filter *ListFilter) (int64, error)

	// ListRolePermissions returns the permission join records of a role.
	ListRolePermissions(ctx context.Context, roleID id.ID) ([]*Permission, error)

	// SetRolePermissions replaces a role's full permission set atomically.
	SetRolePermissions(ctx context.Context, roleID id.ID, perms []*Permission) error
}
