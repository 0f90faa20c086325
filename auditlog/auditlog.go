// Package auditlog defines the administrative action sink. It records who
// created, changed or deleted roles and who granted or revoked permissions.
// It is separate from the role history ledger.
package auditlog

import (
	"time"

	"github.com/xraph/concierge/id"
)

// Administrative actions recorded in the audit log.
const (
	ActionRoleCreated       = "role.created"
	ActionRoleUpdated       = "role.updated"
	ActionRoleDeleted       = "role.deleted"
	ActionRoleCloned        = "role.cloned"
	ActionPermissionGranted = "permission.granted"
	ActionPermissionDenied  = "permission.denied"
	ActionPermissionRevoked = "permission.revoked"
	ActionCatalogChanged    = "catalog.changed"
	ActionHistoryRolledBack = "history.rolled_back"
)

// Entry is a single administrative action record.
type Entry struct {
	ID             id.ID          `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id,omitempty" db:"organization_id"`
	ActorID        string         `json:"actor_id" db:"actor_id"`
	Action         string         `json:"action" db:"action"`
	TargetType     string         `json:"target_type" db:"target_type"`
	TargetID       string         `json:"target_id" db:"target_id"`
	Detail         string         `json:"detail,omitempty" db:"detail"`
	IPAddress      string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      string         `json:"user_agent,omitempty" db:"user_agent"`
	RequestID      string         `json:"request_id,omitempty" db:"request_id"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// QueryFilter contains filters for querying the audit log.
type QueryFilter struct {
	OrganizationID string     `json:"organization_id,omitempty"`
	ActorID        string     `json:"actor_id,omitempty"`
	Action         string     `json:"action,omitempty"`
	TargetType     string     `json:"target_type,omitempty"`
	TargetID       string     `json:"target_id,omitempty"`
	After          *time.Time `json:"after,omitempty"`
	Before         *time.Time `json:"before,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}
