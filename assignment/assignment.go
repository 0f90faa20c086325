// Package assignment defines the binding of a user to a custom role.
package assignment

import (
	"time"

	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
)

// Assignment binds one user to one role. There is at most one assignment per
// (user, role) pair; removal deactivates it and re-assignment reactivates it.
type Assignment struct {
	ID             id.ID                  `json:"id" db:"id"`
	UserID         string                 `json:"user_id" db:"user_id"`
	RoleID         id.ID                  `json:"role_id" db:"role_id"`
	OrganizationID string                 `json:"organization_id" db:"organization_id"`
	PropertyID     string                 `json:"property_id,omitempty" db:"property_id"`
	IsActive       bool                   `json:"is_active" db:"is_active"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	Conditions     []permission.Condition `json:"conditions,omitempty" db:"conditions"`
	AssignedBy     string                 `json:"assigned_by,omitempty" db:"assigned_by"`
	AssignedAt     time.Time              `json:"assigned_at" db:"assigned_at"`
	RemovedBy      string                 `json:"removed_by,omitempty" db:"removed_by"`
	RemovedAt      *time.Time             `json:"removed_at,omitempty" db:"removed_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`
}

// InForce reports whether the assignment is active and not expired at now.
func (a *Assignment) InForce(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// ListFilter contains filters for listing assignments.
type ListFilter struct {
	UserID         string `json:"user_id,omitempty"`
	RoleID         *id.ID `json:"role_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	ActiveOnly     bool   `json:"active_only,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}
