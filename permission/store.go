package permission

import (
	"context"

	"github.com/xraph/concierge/id"
)

// Store defines persistence operations for the permission catalog.
// Returned permissions carry their Conditions.
type Store interface {
	// CreatePermission persists a new permission and its conditions.
	CreatePermission(ctx context.Context, p *Permission) error

	// GetPermission retrieves a permission by ID.
	GetPermission(ctx context.Context, permID id.ID) (*Permission, error)

	// GetPermissionByKey retrieves a permission by its (resource, action, scope) key.
	GetPermissionByKey(ctx context.Context, resource, action string, scope Scope) (*Permission, error)

	// GetPermissions retrieves the permissions with the given IDs. Unknown
	// IDs are skipped.
	GetPermissions(ctx context.Context, permIDs []id.ID) ([]*Permission, error)

	// UpdatePermission persists display metadata changes.
	UpdatePermission(ctx context.Context, p *Permission) error

	// SetPermissionConditions atomically replaces a permission's conditions.
	SetPermissionConditions(ctx context.Context, permID id.ID, conds []Condition) error

	// ListPermissions returns permissions matching the filter.
	ListPermissions(ctx context.Context, filter *ListFilter) ([]*Permission, error)

	// CountPermissions returns the number of permissions matching the filter.
	CountPermissions(ctx context.Context, filter *ListFilter) (int64, error)
}
