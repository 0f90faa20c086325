package concierge

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by a mutating operation wraps one
// of these, so callers can branch with errors.Is on the category or on the
// specific error.
var (
	ErrNotFound   = errors.New("concierge: not found")
	ErrConflict   = errors.New("concierge: conflict")
	ErrForbidden  = errors.New("concierge: forbidden")
	ErrValidation = errors.New("concierge: validation failed")
)

var (
	// ErrAccessDenied is returned by Enforce when a decision denies access.
	ErrAccessDenied = errors.New("concierge: access denied")

	ErrRoleNotFound       = fmt.Errorf("role %w", ErrNotFound)
	ErrPermissionNotFound = fmt.Errorf("permission %w", ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("active assignment %w", ErrNotFound)
	ErrGrantNotFound      = fmt.Errorf("user permission %w", ErrNotFound)
	ErrEntryNotFound      = fmt.Errorf("history entry %w", ErrNotFound)

	ErrRoleNameConflict    = fmt.Errorf("role name already used in scope: %w", ErrConflict)
	ErrDuplicateAssignment = fmt.Errorf("role already assigned to user: %w", ErrConflict)
	ErrDuplicatePermission = fmt.Errorf("permission key already exists: %w", ErrConflict)
	ErrRoleHasAssignments  = fmt.Errorf("role has active assignments: %w", ErrConflict)

	ErrSystemRoleImmutable = fmt.Errorf("system role cannot be modified: %w", ErrForbidden)
	ErrTenantScope         = fmt.Errorf("outside caller's tenant scope: %w", ErrForbidden)
	ErrRollbackNotAllowed  = fmt.Errorf("rollback requires an administrator: %w", ErrForbidden)
	ErrUnauthenticated     = fmt.Errorf("no subject in context: %w", ErrForbidden)

	ErrUnknownPermission = fmt.Errorf("unknown permission id: %w", ErrValidation)
	ErrInvalidCondition  = fmt.Errorf("malformed condition: %w", ErrValidation)
	ErrInvalidRole       = fmt.Errorf("invalid role: %w", ErrValidation)
	ErrInvalidRequest    = fmt.Errorf("invalid request: %w", ErrValidation)
	ErrNotReversible     = fmt.Errorf("history entry is not reversible: %w", ErrValidation)
)
