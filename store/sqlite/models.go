package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

// JSON columns are stored as TEXT in SQLite.

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" || s == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func optionalID(p *id.ID) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func parseOptionalID(s *string) *id.ID {
	if s == nil || *s == "" {
		return nil
	}
	v, err := id.Parse(*s)
	if err != nil {
		return nil
	}
	return &v
}

// ──────────────────────────────────────────────────
// Permission model
// ──────────────────────────────────────────────────

type permissionModel struct {
	grove.BaseModel `grove:"table:concierge_permissions"`
	ID              string    `grove:"id,pk"`
	Resource        string    `grove:"resource,notnull"`
	Action          string    `grove:"action,notnull"`
	Scope           string    `grove:"scope,notnull"`
	Name            string    `grove:"name,notnull"`
	Description     string    `grove:"description"`
	Category        string    `grove:"category"`
	Conditions      string    `grove:"conditions"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func permissionToModel(p *permission.Permission) (*permissionModel, error) {
	conds, err := marshalJSON(p.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal permission conditions: %w", err)
	}
	return &permissionModel{
		ID:          p.ID.String(),
		Resource:    p.Resource,
		Action:      p.Action,
		Scope:       string(p.Scope),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Conditions:  conds,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}, nil
}

func permissionFromModel(m *permissionModel) (*permission.Permission, error) {
	pid, _ := id.ParsePermissionID(m.ID) //nolint:errcheck // stored IDs are always valid
	p := &permission.Permission{
		ID:          pid,
		Resource:    m.Resource,
		Action:      m.Action,
		Scope:       permission.Scope(m.Scope),
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if err := unmarshalJSON(m.Conditions, &p.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal permission conditions: %w", err)
	}
	return p, nil
}

// ──────────────────────────────────────────────────
// Role model
// ──────────────────────────────────────────────────

type roleModel struct {
	grove.BaseModel `grove:"table:concierge_roles"`
	ID              string     `grove:"id,pk"`
	OrganizationID  string     `grove:"organization_id,notnull"`
	PropertyID      string     `grove:"property_id,notnull"`
	Name            string     `grove:"name,notnull"`
	Description     string     `grove:"description"`
	Priority        int        `grove:"priority,notnull"`
	IsSystem        bool       `grove:"is_system,notnull"`
	ClonedFromID    *string    `grove:"cloned_from_id"`
	Metadata        string     `grove:"metadata"` // JSON text
	CreatedBy       string     `grove:"created_by"`
	CreatedAt       time.Time  `grove:"created_at,notnull"`
	UpdatedAt       time.Time  `grove:"updated_at,notnull"`
	DeletedAt       *time.Time `grove:"deleted_at"`
}

func roleToModel(r *role.Role) (*roleModel, error) {
	metadata, err := marshalJSON(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal role metadata: %w", err)
	}
	return &roleModel{
		ID:             r.ID.String(),
		OrganizationID: r.OrganizationID,
		PropertyID:     r.PropertyID,
		Name:           r.Name,
		Description:    r.Description,
		Priority:       r.Priority,
		IsSystem:       r.IsSystem,
		ClonedFromID:   optionalID(r.ClonedFromID),
		Metadata:       metadata,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		DeletedAt:      utcTime(r.DeletedAt),
	}, nil
}

func roleFromModel(m *roleModel) (*role.Role, error) {
	rid, _ := id.ParseRoleID(m.ID) //nolint:errcheck // stored IDs are always valid
	r := &role.Role{
		ID:             rid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		Name:           m.Name,
		Description:    m.Description,
		Priority:       m.Priority,
		IsSystem:       m.IsSystem,
		ClonedFromID:   parseOptionalID(m.ClonedFromID),
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		DeletedAt:      m.DeletedAt,
	}
	if err := unmarshalJSON(m.Metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal role metadata: %w", err)
	}
	return r, nil
}

// ──────────────────────────────────────────────────
// Role permission model
// ──────────────────────────────────────────────────

type rolePermissionModel struct {
	grove.BaseModel `grove:"table:concierge_role_permissions"`
	RoleID          string `grove:"role_id,pk"`
	PermissionID    string `grove:"permission_id,pk"`
	Granted         bool   `grove:"granted,notnull"`
	Conditions      string `grove:"conditions"` // JSON text
}

func rolePermissionToModel(roleID id.ID, rp *role.Permission) (rolePermissionModel, error) {
	conds, err := marshalJSON(rp.Conditions)
	if err != nil {
		return rolePermissionModel{}, fmt.Errorf("marshal role permission conditions: %w", err)
	}
	return rolePermissionModel{
		RoleID:       roleID.String(),
		PermissionID: rp.PermissionID.String(),
		Granted:      rp.Granted,
		Conditions:   conds,
	}, nil
}

func rolePermissionFromModel(m *rolePermissionModel) (*role.Permission, error) {
	rid, _ := id.ParseRoleID(m.RoleID)             //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePermissionID(m.PermissionID) //nolint:errcheck // stored IDs are always valid
	rp := &role.Permission{RoleID: rid, PermissionID: pid, Granted: m.Granted}
	if err := unmarshalJSON(m.Conditions, &rp.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal role permission conditions: %w", err)
	}
	return rp, nil
}

// ──────────────────────────────────────────────────
// Assignment model
// ──────────────────────────────────────────────────

type assignmentModel struct {
	grove.BaseModel `grove:"table:concierge_assignments"`
	ID              string     `grove:"id,pk"`
	UserID          string     `grove:"user_id,notnull"`
	RoleID          string     `grove:"role_id,notnull"`
	OrganizationID  string     `grove:"organization_id,notnull"`
	PropertyID      string     `grove:"property_id,notnull"`
	IsActive        bool       `grove:"is_active,notnull"`
	ExpiresAt       *time.Time `grove:"expires_at"`
	Conditions      string     `grove:"conditions"` // JSON text
	AssignedBy      string     `grove:"assigned_by"`
	AssignedAt      time.Time  `grove:"assigned_at,notnull"`
	RemovedBy       string     `grove:"removed_by"`
	RemovedAt       *time.Time `grove:"removed_at"`
	UpdatedAt       time.Time  `grove:"updated_at,notnull"`
}

func assignmentToModel(a *assignment.Assignment) (*assignmentModel, error) {
	conds, err := marshalJSON(a.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal assignment conditions: %w", err)
	}
	return &assignmentModel{
		ID:             a.ID.String(),
		UserID:         a.UserID,
		RoleID:         a.RoleID.String(),
		OrganizationID: a.OrganizationID,
		PropertyID:     a.PropertyID,
		IsActive:       a.IsActive,
		ExpiresAt:      utcTime(a.ExpiresAt),
		Conditions:     conds,
		AssignedBy:     a.AssignedBy,
		AssignedAt:     a.AssignedAt.UTC(),
		RemovedBy:      a.RemovedBy,
		RemovedAt:      utcTime(a.RemovedAt),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}, nil
}

func assignmentFromModel(m *assignmentModel) (*assignment.Assignment, error) {
	aid, _ := id.ParseAssignmentID(m.ID) //nolint:errcheck // stored IDs are always valid
	rid, _ := id.ParseRoleID(m.RoleID)   //nolint:errcheck // stored IDs are always valid
	a := &assignment.Assignment{
		ID:             aid,
		UserID:         m.UserID,
		RoleID:         rid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		IsActive:       m.IsActive,
		ExpiresAt:      m.ExpiresAt,
		AssignedBy:     m.AssignedBy,
		AssignedAt:     m.AssignedAt,
		RemovedBy:      m.RemovedBy,
		RemovedAt:      m.RemovedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if err := unmarshalJSON(m.Conditions, &a.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal assignment conditions: %w", err)
	}
	return a, nil
}

// ──────────────────────────────────────────────────
// Grant model
// ──────────────────────────────────────────────────

type grantModel struct {
	grove.BaseModel `grove:"table:concierge_user_permissions"`
	ID              string    `grove:"id,pk"`
	UserID          string    `grove:"user_id,notnull"`
	PermissionID    string    `grove:"permission_id,notnull"`
	Granted         bool      `grove:"granted,notnull"`
	Conditions      string    `grove:"conditions"` // JSON text
	GrantedBy       string    `grove:"granted_by"`
	Reason          string    `grove:"reason"`
	CreatedAt       time.Time `grove:"created_at,notnull"`
	UpdatedAt       time.Time `grove:"updated_at,notnull"`
}

func grantToModel(g *grant.Grant) (*grantModel, error) {
	conds, err := marshalJSON(g.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal grant conditions: %w", err)
	}
	return &grantModel{
		ID:           g.ID.String(),
		UserID:       g.UserID,
		PermissionID: g.PermissionID.String(),
		Granted:      g.Granted,
		Conditions:   conds,
		GrantedBy:    g.GrantedBy,
		Reason:       g.Reason,
		CreatedAt:    g.CreatedAt.UTC(),
		UpdatedAt:    g.UpdatedAt.UTC(),
	}, nil
}

func grantFromModel(m *grantModel) (*grant.Grant, error) {
	gid, _ := id.ParseGrantID(m.ID)                //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePermissionID(m.PermissionID) //nolint:errcheck // stored IDs are always valid
	g := &grant.Grant{
		ID:           gid,
		UserID:       m.UserID,
		PermissionID: pid,
		Granted:      m.Granted,
		GrantedBy:    m.GrantedBy,
		Reason:       m.Reason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if err := unmarshalJSON(m.Conditions, &g.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal grant conditions: %w", err)
	}
	return g, nil
}

// ──────────────────────────────────────────────────
// History model
// ──────────────────────────────────────────────────

type historyModel struct {
	grove.BaseModel `grove:"table:concierge_role_history"`
	ID              string    `grove:"id,pk"`
	OrganizationID  string    `grove:"organization_id,notnull"`
	PropertyID      string    `grove:"property_id"`
	UserID          string    `grove:"user_id"`
	RoleID          string    `grove:"role_id,notnull"`
	AdminID         string    `grove:"admin_id"`
	Action          string    `grove:"action,notnull"`
	Source          string    `grove:"source,notnull"`
	BatchID         string    `grove:"batch_id"`
	Reason          string    `grove:"reason"`
	RollbackOf      *string   `grove:"rollback_of"`
	Changes         string    `grove:"changes"`        // JSON text
	UserSnapshot    string    `grove:"user_snapshot"`  // JSON text
	RoleSnapshot    string    `grove:"role_snapshot"`  // JSON text
	AdminSnapshot   string    `grove:"admin_snapshot"` // JSON text
	IPAddress       string    `grove:"ip_address"`
	UserAgent       string    `grove:"user_agent"`
	SessionID       string    `grove:"session_id"`
	RequestID       string    `grove:"request_id"`
	SearchText      string    `grove:"search_text"`
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

// searchText is the lowercased haystack free-text history search runs over.
func searchText(e *history.Entry) string {
	return strings.ToLower(strings.Join(history.SearchFields(e), "\n"))
}

func historyToModel(e *history.Entry) (*historyModel, error) {
	m := &historyModel{
		ID:             e.ID.String(),
		OrganizationID: e.OrganizationID,
		PropertyID:     e.PropertyID,
		UserID:         e.UserID,
		RoleID:         e.RoleID.String(),
		AdminID:        e.AdminID,
		Action:         string(e.Action),
		Source:         string(e.Context.Source),
		BatchID:        e.Context.BatchID,
		Reason:         e.Context.Reason,
		RollbackOf:     optionalID(e.Context.RollbackOf),
		IPAddress:      e.AuditTrail.IPAddress,
		UserAgent:      e.AuditTrail.UserAgent,
		SessionID:      e.AuditTrail.SessionID,
		RequestID:      e.AuditTrail.RequestID,
		SearchText:     searchText(e),
		CreatedAt:      e.CreatedAt.UTC(),
	}
	var err error
	if m.Changes, err = marshalJSON(e.Context.Changes); err != nil {
		return nil, fmt.Errorf("marshal history changes: %w", err)
	}
	if m.UserSnapshot, err = marshalJSON(e.User); err != nil {
		return nil, fmt.Errorf("marshal user snapshot: %w", err)
	}
	if m.RoleSnapshot, err = marshalJSON(e.Role); err != nil {
		return nil, fmt.Errorf("marshal role snapshot: %w", err)
	}
	if m.AdminSnapshot, err = marshalJSON(e.Admin); err != nil {
		return nil, fmt.Errorf("marshal admin snapshot: %w", err)
	}
	return m, nil
}

func historyFromModel(m *historyModel) (*history.Entry, error) {
	eid, _ := id.ParseHistoryEntryID(m.ID) //nolint:errcheck // stored IDs are always valid
	rid, _ := id.ParseRoleID(m.RoleID)     //nolint:errcheck // stored IDs are always valid
	e := &history.Entry{
		ID:             eid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		UserID:         m.UserID,
		RoleID:         rid,
		AdminID:        m.AdminID,
		Action:         history.Action(m.Action),
		Context: history.Context{
			Source:     history.Source(m.Source),
			BatchID:    m.BatchID,
			Reason:     m.Reason,
			RollbackOf: parseOptionalID(m.RollbackOf),
		},
		AuditTrail: history.AuditTrail{
			IPAddress: m.IPAddress,
			UserAgent: m.UserAgent,
			SessionID: m.SessionID,
			RequestID: m.RequestID,
		},
		CreatedAt: m.CreatedAt,
	}
	if err := unmarshalJSON(m.Changes, &e.Context.Changes); err != nil {
		return nil, fmt.Errorf("unmarshal history changes: %w", err)
	}
	if err := unmarshalJSON(m.UserSnapshot, &e.User); err != nil {
		return nil, fmt.Errorf("unmarshal user snapshot: %w", err)
	}
	if err := unmarshalJSON(m.RoleSnapshot, &e.Role); err != nil {
		return nil, fmt.Errorf("unmarshal role snapshot: %w", err)
	}
	if err := unmarshalJSON(m.AdminSnapshot, &e.Admin); err != nil {
		return nil, fmt.Errorf("unmarshal admin snapshot: %w", err)
	}
	return e, nil
}

// ──────────────────────────────────────────────────
// Audit log model
// ──────────────────────────────────────────────────

type auditModel struct {
	grove.BaseModel `grove:"table:concierge_audit_log"`
	ID              string    `grove:"id,pk"`
	OrganizationID  string    `grove:"organization_id"`
	ActorID         string    `grove:"actor_id,notnull"`
	Action          string    `grove:"action,notnull"`
	TargetType      string    `grove:"target_type,notnull"`
	TargetID        string    `grove:"target_id,notnull"`
	Detail          string    `grove:"detail"`
	IPAddress       string    `grove:"ip_address"`
	UserAgent       string    `grove:"user_agent"`
	RequestID       string    `grove:"request_id"`
	Metadata        string    `grove:"metadata"` // JSON text
	CreatedAt       time.Time `grove:"created_at,notnull"`
}

func auditToModel(e *auditlog.Entry) (*auditModel, error) {
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal audit metadata: %w", err)
	}
	return &auditModel{
		ID:             e.ID.String(),
		OrganizationID: e.OrganizationID,
		ActorID:        e.ActorID,
		Action:         e.Action,
		TargetType:     e.TargetType,
		TargetID:       e.TargetID,
		Detail:         e.Detail,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		RequestID:      e.RequestID,
		Metadata:       metadata,
		CreatedAt:      e.CreatedAt.UTC(),
	}, nil
}

func auditFromModel(m *auditModel) (*auditlog.Entry, error) {
	eid, _ := id.ParseAuditEntryID(m.ID) //nolint:errcheck // stored IDs are always valid
	e := &auditlog.Entry{
		ID:             eid,
		OrganizationID: m.OrganizationID,
		ActorID:        m.ActorID,
		Action:         m.Action,
		TargetType:     m.TargetType,
		TargetID:       m.TargetID,
		Detail:         m.Detail,
		IPAddress:      m.IPAddress,
		UserAgent:      m.UserAgent,
		RequestID:      m.RequestID,
		CreatedAt:      m.CreatedAt,
	}
	if err := unmarshalJSON(m.Metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
	}
	return e, nil
}
