// Package permission defines the platform-owned permission catalog: the
// Permission entity keyed by (resource, action, scope) and the conditions
// attached to it.
package permission

import (
	"encoding/json"
	"time"

	"github.com/xraph/concierge/id"
)

// Scope is the granularity at which a permission applies. Scopes are flat:
// no scope implies another.
type Scope string

const (
	ScopeOwn          Scope = "own"
	ScopeDepartment   Scope = "department"
	ScopeProperty     Scope = "property"
	ScopeOrganization Scope = "organization"
	ScopeExternal     Scope = "external"
)

// Permission is a catalog entry. Its key is immutable once created; only the
// display fields (Name, Description, Category) may change.
type Permission struct {
	ID          id.ID       `json:"id" db:"id"`
	Resource    string      `json:"resource" db:"resource"`
	Action      string      `json:"action" db:"action"`
	Scope       Scope       `json:"scope" db:"scope"`
	Name        string      `json:"name" db:"name"`
	Description string      `json:"description,omitempty" db:"description"`
	Category    string      `json:"category,omitempty" db:"category"`
	Conditions  []Condition `json:"conditions,omitempty" db:"-"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Key returns the "resource.action.scope" identity of the permission.
func (p *Permission) Key() string { return Key(p.Resource, p.Action, string(p.Scope)) }

// Key joins a permission triple into its "resource.action.scope" form.
func Key(resource, action, scope string) string {
	return resource + "." + action + "." + scope
}

// Condition is a predicate attached to a permission, or overriding one on a
// role grant, an assignment or a user grant. Value is an opaque payload
// interpreted by the evaluator registered for Type.
type Condition struct {
	ID           id.ID           `json:"id,omitempty" db:"id"`
	PermissionID id.ID           `json:"permission_id,omitempty" db:"permission_id"`
	Type         string          `json:"type" db:"condition_type"`
	Operator     string          `json:"operator,omitempty" db:"operator"`
	Value        json.RawMessage `json:"value,omitempty" db:"value"`
}

// ListFilter contains filters for listing permissions.
type ListFilter struct {
	Resource   string   `json:"resource,omitempty"`
	Action     string   `json:"action,omitempty"`
	Scope      Scope    `json:"scope,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Search     string   `json:"search,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}
