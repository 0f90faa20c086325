package postgres

import (
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
	ID              string                 `grove:"id,pk"`
	Resource        string                 `grove:"resource,notnull"`
	Action          string                 `grove:"action,notnull"`
	Scope           string                 `grove:"scope,notnull"`
	Name            string                 `grove:"name,notnull"`
	Description     string                 `grove:"description"`
	Category        string                 `grove:"category"`
	Conditions      []permission.Condition `grove:"conditions,type:jsonb"`
	CreatedAt       time.Time              `grove:"created_at,notnull"`
	UpdatedAt       time.Time              `grove:"updated_at,notnull"`
}

func permissionToModel(p *permission.Permission) *permissionModel {
	return &permissionModel{
		ID:          p.ID.String(),
		Resource:    p.Resource,
		Action:      p.Action,
		Scope:       string(p.Scope),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Conditions:  p.Conditions,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func permissionFromModel(m *permissionModel) *permission.Permission {
	pid, _ := id.ParsePermissionID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &permission.Permission{
		ID:          pid,
		Resource:    m.Resource,
		Action:      m.Action,
		Scope:       permission.Scope(m.Scope),
		Name:        m.Name,
		Description: m.Description,
		Category:    m.Category,
		Conditions:  m.Conditions,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Role model
// ──────────────────────────────────────────────────

type roleModel struct {
	grove.BaseModel `grove:"table:concierge_roles"`
	ID              string         `grove:"id,pk"`
	OrganizationID  string         `grove:"organization_id,notnull"`
	PropertyID      string         `grove:"property_id,notnull"`
	Name            string         `grove:"name,notnull"`
	Description     string         `grove:"description"`
	Priority        int            `grove:"priority,notnull"`
	IsSystem        bool           `grove:"is_system,notnull"`
	ClonedFromID    *string        `grove:"cloned_from_id"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedBy       string         `grove:"created_by"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
	UpdatedAt       time.Time      `grove:"updated_at,notnull"`
	DeletedAt       *time.Time     `grove:"deleted_at"`
}

func roleToModel(r *role.Role) *roleModel {
	return &roleModel{
		ID:             r.ID.String(),
		OrganizationID: r.OrganizationID,
		PropertyID:     r.PropertyID,
		Name:           r.Name,
		Description:    r.Description,
		Priority:       r.Priority,
		IsSystem:       r.IsSystem,
		ClonedFromID:   optionalID(r.ClonedFromID),
		Metadata:       r.Metadata,
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DeletedAt:      r.DeletedAt,
	}
}

func roleFromModel(m *roleModel) *role.Role {
	rid, _ := id.ParseRoleID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &role.Role{
		ID:             rid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		Name:           m.Name,
		Description:    m.Description,
		Priority:       m.Priority,
		IsSystem:       m.IsSystem,
		ClonedFromID:   parseOptionalID(m.ClonedFromID),
		Metadata:       m.Metadata,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		DeletedAt:      m.DeletedAt,
	}
}

// ──────────────────────────────────────────────────
// Role permission model
// ──────────────────────────────────────────────────

type rolePermissionModel struct {
	grove.BaseModel `grove:"table:concierge_role_permissions"`
	RoleID          string                 `grove:"role_id,pk"`
	PermissionID    string                 `grove:"permission_id,pk"`
	Granted         bool                   `grove:"granted,notnull"`
	Conditions      []permission.Condition `grove:"conditions,type:jsonb"`
}

func rolePermissionToModel(roleID id.ID, rp *role.Permission) rolePermissionModel {
	return rolePermissionModel{
		RoleID:       roleID.String(),
		PermissionID: rp.PermissionID.String(),
		Granted:      rp.Granted,
		Conditions:   rp.Conditions,
	}
}

func rolePermissionFromModel(m *rolePermissionModel) *role.Permission {
	rid, _ := id.ParseRoleID(m.RoleID)             //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePermissionID(m.PermissionID) //nolint:errcheck // stored IDs are always valid
	return &role.Permission{
		RoleID:       rid,
		PermissionID: pid,
		Granted:      m.Granted,
		Conditions:   m.Conditions,
	}
}

// ──────────────────────────────────────────────────
// Assignment model
// ──────────────────────────────────────────────────

type assignmentModel struct {
	grove.BaseModel `grove:"table:concierge_assignments"`
	ID              string                 `grove:"id,pk"`
	UserID          string                 `grove:"user_id,notnull"`
	RoleID          string                 `grove:"role_id,notnull"`
	OrganizationID  string                 `grove:"organization_id,notnull"`
	PropertyID      string                 `grove:"property_id,notnull"`
	IsActive        bool                   `grove:"is_active,notnull"`
	ExpiresAt       *time.Time             `grove:"expires_at"`
	Conditions      []permission.Condition `grove:"conditions,type:jsonb"`
	AssignedBy      string                 `grove:"assigned_by"`
	AssignedAt      time.Time              `grove:"assigned_at,notnull"`
	RemovedBy       string                 `grove:"removed_by"`
	RemovedAt       *time.Time             `grove:"removed_at"`
	UpdatedAt       time.Time              `grove:"updated_at,notnull"`
}

func assignmentToModel(a *assignment.Assignment) *assignmentModel {
	return &assignmentModel{
		ID:             a.ID.String(),
		UserID:         a.UserID,
		RoleID:         a.RoleID.String(),
		OrganizationID: a.OrganizationID,
		PropertyID:     a.PropertyID,
		IsActive:       a.IsActive,
		ExpiresAt:      a.ExpiresAt,
		Conditions:     a.Conditions,
		AssignedBy:     a.AssignedBy,
		AssignedAt:     a.AssignedAt,
		RemovedBy:      a.RemovedBy,
		RemovedAt:      a.RemovedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func assignmentFromModel(m *assignmentModel) *assignment.Assignment {
	aid, _ := id.ParseAssignmentID(m.ID) //nolint:errcheck // stored IDs are always valid
	rid, _ := id.ParseRoleID(m.RoleID)   //nolint:errcheck // stored IDs are always valid
	return &assignment.Assignment{
		ID:             aid,
		UserID:         m.UserID,
		RoleID:         rid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		IsActive:       m.IsActive,
		ExpiresAt:      m.ExpiresAt,
		Conditions:     m.Conditions,
		AssignedBy:     m.AssignedBy,
		AssignedAt:     m.AssignedAt,
		RemovedBy:      m.RemovedBy,
		RemovedAt:      m.RemovedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Grant model
// ──────────────────────────────────────────────────

type grantModel struct {
	grove.BaseModel `grove:"table:concierge_user_permissions"`
	ID              string                 `grove:"id,pk"`
	UserID          string                 `grove:"user_id,notnull"`
	PermissionID    string                 `grove:"permission_id,notnull"`
	Granted         bool                   `grove:"granted,notnull"`
	Conditions      []permission.Condition `grove:"conditions,type:jsonb"`
	GrantedBy       string                 `grove:"granted_by"`
	Reason          string                 `grove:"reason"`
	CreatedAt       time.Time              `grove:"created_at,notnull"`
	UpdatedAt       time.Time              `grove:"updated_at,notnull"`
}

func grantToModel(g *grant.Grant) *grantModel {
	return &grantModel{
		ID:           g.ID.String(),
		UserID:       g.UserID,
		PermissionID: g.PermissionID.String(),
		Granted:      g.Granted,
		Conditions:   g.Conditions,
		GrantedBy:    g.GrantedBy,
		Reason:       g.Reason,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

func grantFromModel(m *grantModel) *grant.Grant {
	gid, _ := id.ParseGrantID(m.ID)                //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePermissionID(m.PermissionID) //nolint:errcheck // stored IDs are always valid
	return &grant.Grant{
		ID:           gid,
		UserID:       m.UserID,
		PermissionID: pid,
		Granted:      m.Granted,
		Conditions:   m.Conditions,
		GrantedBy:    m.GrantedBy,
		Reason:       m.Reason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// History model
// ──────────────────────────────────────────────────

type historyModel struct {
	grove.BaseModel `grove:"table:concierge_role_history"`
	ID              string               `grove:"id,pk"`
	OrganizationID  string               `grove:"organization_id,notnull"`
	PropertyID      string               `grove:"property_id"`
	UserID          string               `grove:"user_id"`
	RoleID          string               `grove:"role_id,notnull"`
	AdminID         string               `grove:"admin_id"`
	Action          string               `grove:"action,notnull"`
	Source          string               `grove:"source,notnull"`
	BatchID         string               `grove:"batch_id"`
	Reason          string               `grove:"reason"`
	RollbackOf      *string              `grove:"rollback_of"`
	Changes         map[string]any       `grove:"changes,type:jsonb"`
	UserSnapshot    history.UserSnapshot `grove:"user_snapshot,type:jsonb"`
	RoleSnapshot    history.RoleSnapshot `grove:"role_snapshot,type:jsonb"`
	AdminSnapshot   history.UserSnapshot `grove:"admin_snapshot,type:jsonb"`
	IPAddress       string               `grove:"ip_address"`
	UserAgent       string               `grove:"user_agent"`
	SessionID       string               `grove:"session_id"`
	RequestID       string               `grove:"request_id"`
	SearchText      string               `grove:"search_text"`
	CreatedAt       time.Time            `grove:"created_at,notnull"`
}

func historyToModel(e *history.Entry) *historyModel {
	return &historyModel{
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
		Changes:        e.Context.Changes,
		UserSnapshot:   e.User,
		RoleSnapshot:   e.Role,
		AdminSnapshot:  e.Admin,
		IPAddress:      e.AuditTrail.IPAddress,
		UserAgent:      e.AuditTrail.UserAgent,
		SessionID:      e.AuditTrail.SessionID,
		RequestID:      e.AuditTrail.RequestID,
		SearchText:     strings.ToLower(strings.Join(history.SearchFields(e), "\n")),
		CreatedAt:      e.CreatedAt,
	}
}

func historyFromModel(m *historyModel) *history.Entry {
	eid, _ := id.ParseHistoryEntryID(m.ID) //nolint:errcheck // stored IDs are always valid
	rid, _ := id.ParseRoleID(m.RoleID)     //nolint:errcheck // stored IDs are always valid
	return &history.Entry{
		ID:             eid,
		OrganizationID: m.OrganizationID,
		PropertyID:     m.PropertyID,
		UserID:         m.UserID,
		RoleID:         rid,
		AdminID:        m.AdminID,
		Action:         history.Action(m.Action),
		User:           m.UserSnapshot,
		Role:           m.RoleSnapshot,
		Admin:          m.AdminSnapshot,
		Context: history.Context{
			Source:     history.Source(m.Source),
			BatchID:    m.BatchID,
			Reason:     m.Reason,
			RollbackOf: parseOptionalID(m.RollbackOf),
			Changes:    m.Changes,
		},
		AuditTrail: history.AuditTrail{
			IPAddress: m.IPAddress,
			UserAgent: m.UserAgent,
			SessionID: m.SessionID,
			RequestID: m.RequestID,
		},
		CreatedAt: m.CreatedAt,
	}
}

// ──────────────────────────────────────────────────
// Audit log model
// ──────────────────────────────────────────────────

type auditModel struct {
	grove.BaseModel `grove:"table:concierge_audit_log"`
	ID              string         `grove:"id,pk"`
	OrganizationID  string         `grove:"organization_id"`
	ActorID         string         `grove:"actor_id,notnull"`
	Action          string         `grove:"action,notnull"`
	TargetType      string         `grove:"target_type,notnull"`
	TargetID        string         `grove:"target_id,notnull"`
	Detail          string         `grove:"detail"`
	IPAddress       string         `grove:"ip_address"`
	UserAgent       string         `grove:"user_agent"`
	RequestID       string         `grove:"request_id"`
	Metadata        map[string]any `grove:"metadata,type:jsonb"`
	CreatedAt       time.Time      `grove:"created_at,notnull"`
}

func auditToModel(e *auditlog.Entry) *auditModel {
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
		Metadata:       e.Metadata,
		CreatedAt:      e.CreatedAt,
	}
}

func auditFromModel(m *auditModel) *auditlog.Entry {
	eid, _ := id.ParseAuditEntryID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &auditlog.Entry{
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
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}
