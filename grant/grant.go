// Package grant defines direct per-user permission overrides.
package grant

import (
	"time"

	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
)

// Grant is a direct grant (Granted=true) or explicit deny (Granted=false) of
// one permission to one user. There is at most one per (user, permission).
type Grant struct {
	ID           id.ID                  `json:"id" db:"id"`
	UserID       string                 `json:"user_id" db:"user_id"`
	PermissionID id.ID                  `json:"permission_id" db:"permission_id"`
	Granted      bool                   `json:"granted" db:"granted"`
	Conditions   []permission.Condition `json:"conditions,omitempty" db:"conditions"`
	GrantedBy    string                 `json:"granted_by,omitempty" db:"granted_by"`
	Reason       string                 `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}
