// Package history defines the append-only role history ledger. Every role
// assignment, removal, modification and expiry is recorded as an Entry
// carrying denormalized snapshots of the user, role and administrator
// involved, so entries stay meaningful after those entities change.
package history

import (
	"time"

	"github.com/xraph/concierge/id"
)

// Action is the state transition an entry records.
type Action string

const (
	ActionAssigned     Action = "ASSIGNED"
	ActionRemoved      Action = "REMOVED"
	ActionModified     Action = "MODIFIED"
	ActionExpired      Action = "EXPIRED"
	ActionBulkAssigned Action = "BULK_ASSIGNED"
	ActionBulkRemoved  Action = "BULK_REMOVED"
)

// Reversible reports whether a rollback can compensate the action.
func (a Action) Reversible() bool {
	switch a {
	case ActionAssigned, ActionBulkAssigned, ActionRemoved, ActionBulkRemoved:
		return true
	}
	return false
}

// IsGrant reports whether the action gave a user a role.
func (a Action) IsGrant() bool { return a == ActionAssigned || a == ActionBulkAssigned }

// Source names the operation that produced an entry.
type Source string

const (
	SourceManual    Source = "manual"
	SourceBulk      Source = "bulk"
	SourceTemplate  Source = "template"
	SourceMigration Source = "migration"
	SourceAutomated Source = "automated"
	SourceSystem    Source = "system"
)

// UserSnapshot is a point-in-time copy of a user or administrator.
type UserSnapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// RoleSnapshot is a point-in-time copy of a role.
type RoleSnapshot struct {
	ID             id.ID  `json:"id"`
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
	PropertyID     string `json:"property_id,omitempty"`
	Priority       int    `json:"priority"`
}

// Context describes why and how a change happened.
type Context struct {
	Source     Source         `json:"source"`
	BatchID    string         `json:"batch_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RollbackOf *id.ID         `json:"rollback_of,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// AuditTrail carries request provenance.
type AuditTrail struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is one immutable state transition. UserID is empty for role-level
// modifications that affect no single user.
type Entry struct {
	ID             id.ID        `json:"id"`
	OrganizationID string       `json:"organization_id"`
	PropertyID     string       `json:"property_id,omitempty"`
	UserID         string       `json:"user_id,omitempty"`
	RoleID         id.ID        `json:"role_id"`
	AdminID        string       `json:"admin_id,omitempty"`
	Action         Action       `json:"action"`
	User           UserSnapshot `json:"user"`
	Role           RoleSnapshot `json:"role"`
	Admin          UserSnapshot `json:"admin"`
	Context        Context      `json:"context"`
	AuditTrail     AuditTrail   `json:"audit_trail"`
	CreatedAt      time.Time    `json:"created_at"`
}

// HasAuditTrail reports whether the entry carries both caller IP and user agent.
func (e *Entry) HasAuditTrail() bool {
	return e.AuditTrail.IPAddress != "" && e.AuditTrail.UserAgent != ""
}
