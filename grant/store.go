package grant

import (
	"context"

	"github.com/xraph/concierge/id"
)

// Store defines persistence operations for user permission overrides.
type Store interface {
	// UpsertGrant creates or replaces the override for (UserID, PermissionID).
	UpsertGrant(ctx context.Context, g *Grant) error

	// GetGrant retrieves the override for a (user, permission) pair.
	GetGrant(ctx context.Context, userID string, permID id.ID) (*Grant, error)

	// DeleteGrant removes the override for a (user, permission) pair.
	DeleteGrant(ctx context.Context, userID string, permID id.ID) error

	// ListGrants returns all overrides held by a user.
	ListGrants(ctx context.Context, userID string) ([]*Grant, error)
}
