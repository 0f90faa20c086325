package assignment

import (
	"context"
	"time"

	"github.com/xraph/concierge/id"
)

// Store defines persistence operations for role assignments.
type Store interface {
	// CreateAssignment persists a new assignment. A second assignment for
	// the same (user, role) pair yields a conflict.
	CreateAssignment(ctx context.Context, a *Assignment) error

	// GetAssignment retrieves an assignment by ID.
	GetAssignment(ctx context.Context, assignmentID id.ID) (*Assignment, error)

	// GetAssignmentByUserRole retrieves the assignment for a (user, role) pair,
	// active or not.
	GetAssignmentByUserRole(ctx context.Context, userID string, roleID id.ID) (*Assignment, error)

	// UpdateAssignment persists changes to an assignment.
	UpdateAssignment(ctx context.Context, a *Assignment) error

	// ListAssignments returns assignments matching the filter.
	ListAssignments(ctx context.Context, filter *ListFilter) ([]*Assignment, error)

	// ListActiveAssignmentsForUser returns the user's assignments that are
	// active and unexpired at now.
	ListActiveAssignmentsForUser(ctx context.Context, userID string, now time.Time) ([]*Assignment, error)

	// ListUsersWithRole returns the distinct users holding an active
	// assignment of the role, expired or not.
	ListUsersWithRole(ctx context.Context, roleID id.ID) ([]string, error)

	// CountActiveAssignments returns the number of active assignments of a role.
	CountActiveAssignments(ctx context.Context, roleID id.ID) (int64, error)

	// ListExpiredAssignments returns active assignments whose expiry is at or
	// before now.
	ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]*Assignment, error)
}
