// Package role defines tenant-owned custom roles and the permissions they grant.
package role

import (
	"time"

	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
)

// Priority bounds. Priority only ranks roles for display.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// Role is a custom role owned by an organization, optionally narrowed to a
// single property. An empty PropertyID means organization-wide.
type Role struct {
	ID             id.ID          `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	PropertyID     string         `json:"property_id,omitempty" db:"property_id"`
	Name           string         `json:"name" db:"name"`
	Description    string         `json:"description,omitempty" db:"description"`
	Priority       int            `json:"priority" db:"priority"`
	IsSystem       bool           `json:"is_system" db:"is_system"`
	ClonedFromID   *id.ID         `json:"cloned_from_id,omitempty" db:"cloned_from_id"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedBy      string         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the role carries a tombstone.
func (r *Role) IsDeleted() bool { return r.DeletedAt != nil }

// AppliesTo reports whether the role is in force for the given tenant
// context. Empty context values do not restrict.
func (r *Role) AppliesTo(organizationID, propertyID string) bool {
	if organizationID != "" && r.OrganizationID != organizationID {
		return false
	}
	if r.PropertyID != "" && propertyID != "" && r.PropertyID != propertyID {
		return false
	}
	return true
}

// Permission is the join record between a role and a catalog permission.
// Conditions, when present, override the permission's own conditions.
type Permission struct {
	RoleID       id.ID                  `json:"role_id" db:"role_id"`
	PermissionID id.ID                  `json:"permission_id" db:"permission_id"`
	Granted      bool                   `json:"granted" db:"granted"`
	Conditions   []permission.Condition `json:"conditions,omitempty" db:"conditions"`
}

// ListFilter contains filters for listing roles. A nil OrganizationIDs
// slice means no tenant filtering.
type ListFilter struct {
	OrganizationIDs []string `json:"organization_ids,omitempty"`
	PropertyID      *string  `json:"property_id,omitempty"`
	IsSystem        *bool    `json:"is_system,omitempty"`
	ClonedFromID    *id.ID   `json:"cloned_from_id,omitempty"`
	IncludeDeleted  bool     `json:"include_deleted,omitempty"`
	Search          string   `json:"search,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	Offset          int      `json:"offset,omitempty"`
}
