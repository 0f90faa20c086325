// Package concierge is the permission evaluation and role management engine
// of a multi-tenant property-management platform.
//
// It combines a coarse legacy role model with fine-grained
// (resource, action, scope) permissions, custom roles, per-user overrides,
// context-dependent conditions, a time-bounded decision cache and an
// append-only role history ledger with rollback.
//
//	eng, err := concierge.NewEngine(
//	    concierge.WithStore(memory.New()),
//	    concierge.WithCache(cache.NewMemory(cache.WithMaxSize(10_000))),
//	)
//	ctx = concierge.WithSubject(ctx, concierge.Subject{ID: "user_1", OrganizationID: "org_1"})
//	d := eng.Evaluate(ctx, &concierge.EvaluateRequest{
//	    SubjectID: "user_1",
//	    Resource:  "guest",
//	    Action:    "read",
//	    Scope:     "property",
//	    Context:   concierge.EvalContext{OrganizationID: "org_1", PropertyID: "prop_1"},
//	})
package concierge

import (
	"time"

	"github.com/xraph/concierge/permission"
)

// UserType distinguishes staff of the tenant from outside users.
type UserType string

const (
	UserTypeInternal UserType = "internal"
	UserTypeExternal UserType = "external"
)

// LegacyRole is one of the coarse roles predating custom roles.
type LegacyRole string

const (
	LegacyRoleSuperAdmin      LegacyRole = "super_admin"
	LegacyRoleOrgAdmin        LegacyRole = "organization_admin"
	LegacyRolePropertyManager LegacyRole = "property_manager"
	LegacyRoleStaff           LegacyRole = "staff"
	LegacyRoleUser            LegacyRole = "user"
)

// Subject is the authenticated identity supplied by the identity layer.
type Subject struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	PropertyID     string     `json:"property_id,omitempty"`
	DepartmentID   string     `json:"department_id,omitempty"`
	LegacyRole     LegacyRole `json:"legacy_role,omitempty"`
	UserType       UserType   `json:"user_type,omitempty"`
	Name           string     `json:"name,omitempty"`
	Email          string     `json:"email,omitempty"`
}

// IsSuperuser reports whether the subject holds the platform superuser role.
func (s *Subject) IsSuperuser() bool { return s.LegacyRole == LegacyRoleSuperAdmin }

// IsExternal reports whether the subject is an external user.
func (s *Subject) IsExternal() bool { return s.UserType == UserTypeExternal }

// EvalContext is the live request context a permission is evaluated in.
type EvalContext struct {
	OrganizationID string `json:"organization_id,omitempty"`
	PropertyID     string `json:"property_id,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	ResourceID     string `json:"resource_id,omitempty"`
	// OwnerID is the owner of the target resource. When empty, ResourceID
	// is compared against the subject for ownership checks.
	OwnerID    string         `json:"owner_id,omitempty"`
	Time       time.Time      `json:"time,omitzero"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Source tags which evaluation step produced a decision.
type Source string

const (
	SourceRole       Source = "role"
	SourceUser       Source = "user"
	SourceCached     Source = "cached"
	SourceDefault    Source = "default"
	SourceLegacy     Source = "legacy"
	SourceValidation Source = "validation"
)

// EvaluateRequest asks whether a subject may perform action on resource at scope.
type EvaluateRequest struct {
	SubjectID string      `json:"subject_id"`
	Resource  string      `json:"resource"`
	Action    string      `json:"action"`
	Scope     string      `json:"scope"`
	Context   EvalContext `json:"context"`
}

// Key returns the "resource.action.scope" permission key of the request.
func (r *EvaluateRequest) Key() string { return permission.Key(r.Resource, r.Action, r.Scope) }

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Source     Source `json:"source"`
	Permission string `json:"permission"`
	// TTL is the remaining cache lifetime, set on cached decisions.
	TTL time.Duration `json:"ttl,omitempty"`
	// Conditions echoes the condition types that were checked.
	Conditions []string `json:"conditions,omitempty"`
	EvalTimeNs int64    `json:"eval_time_ns"`
}

// BulkItem is one tuple of a bulk evaluation.
type BulkItem struct {
	Resource string      `json:"resource"`
	Action   string      `json:"action"`
	Scope    string      `json:"scope"`
	Context  EvalContext `json:"context"`
}

// BulkError reports an item of a bulk evaluation that could not be evaluated.
type BulkError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// BulkDecision is the result of EvaluateBulk. Results holds exactly one
// decision per distinct requested key.
type BulkDecision struct {
	Results        map[string]*Decision `json:"results"`
	CachedCount    int                  `json:"cached_count"`
	EvaluatedCount int                  `json:"evaluated_count"`
	Errors         []BulkError          `json:"errors,omitempty"`
}

// RequestInfo is the caller provenance recorded in history entries and the
// audit log.
type RequestInfo struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
