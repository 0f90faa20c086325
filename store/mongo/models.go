package mongo

import (
	"encoding/json"
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
// Condition sub-document
// ──────────────────────────────────────────────────

// conditionDoc embeds a condition in its owning document. The operand is
// kept as JSON text so arbitrary payloads survive the BSON round trip.
type conditionDoc struct {
	ID           string `bson:"id,omitempty"`
	PermissionID string `bson:"permission_id,omitempty"`
	Type         string `bson:"type"`
	Operator     string `bson:"operator,omitempty"`
	Value        string `bson:"value,omitempty"`
}

func conditionsToDocs(conds []permission.Condition) []conditionDoc {
	if conds == nil {
		return nil
	}
	out := make([]conditionDoc, len(conds))
	for i, c := range conds {
		out[i] = conditionDoc{
			Type:     c.Type,
			Operator: c.Operator,
			Value:    string(c.Value),
		}
		if !c.ID.IsNil() {
			out[i].ID = c.ID.String()
		}
		if !c.PermissionID.IsNil() {
			out[i].PermissionID = c.PermissionID.String()
		}
	}
	return out
}

func conditionsFromDocs(docs []conditionDoc) []permission.Condition {
	if docs == nil {
		return nil
	}
	out := make([]permission.Condition, len(docs))
	for i, d := range docs {
		out[i] = permission.Condition{Type: d.Type, Operator: d.Operator}
		if d.Value != "" {
			out[i].Value = json.RawMessage(d.Value)
		}
		if d.ID != "" {
			out[i].ID, _ = id.ParseConditionID(d.ID) //nolint:errcheck // stored IDs are always valid
		}
		if d.PermissionID != "" {
			out[i].PermissionID, _ = id.ParsePermissionID(d.PermissionID) //nolint:errcheck // stored IDs are always valid
		}
	}
	return out
}

// ──────────────────────────────────────────────────
// Permission model
// ──────────────────────────────────────────────────

type permissionModel struct {
	grove.BaseModel `grove:"table:concierge_permissions"`
	ID              string         `grove:"id,pk"        bson:"_id"`
	Resource        string         `grove:"resource"     bson:"resource"`
	Action          string         `grove:"action"       bson:"action"`
	Scope           string         `grove:"scope"        bson:"scope"`
	Key             string         `grove:"key"          bson:"key"`
	Name            string         `grove:"name"         bson:"name"`
	Description     string         `grove:"description"  bson:"description"`
	Category        string         `grove:"category"     bson:"category"`
	Conditions      []conditionDoc `grove:"conditions"   bson:"conditions,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"   bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"   bson:"updated_at"`
}

func permissionToModel(p *permission.Permission) *permissionModel {
	return &permissionModel{
		ID:          p.ID.String(),
		Resource:    p.Resource,
		Action:      p.Action,
		Scope:       string(p.Scope),
		Key:         p.Key(),
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Conditions:  conditionsToDocs(p.Conditions),
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
		Conditions:  conditionsFromDocs(m.Conditions),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// Role model
// ──────────────────────────────────────────────────

type roleModel struct {
	grove.BaseModel `grove:"table:concierge_roles"`
	ID              string         `grove:"id,pk"            bson:"_id"`
	OrganizationID  string         `grove:"organization_id"  bson:"organization_id"`
	PropertyID      string         `grove:"property_id"      bson:"property_id"`
	Name            string         `grove:"name"             bson:"name"`
	Description     string         `grove:"description"      bson:"description"`
	Priority        int            `grove:"priority"         bson:"priority"`
	IsSystem        bool           `grove:"is_system"        bson:"is_system"`
	ClonedFromID    *string        `grove:"cloned_from_id"   bson:"cloned_from_id,omitempty"`
	Metadata        map[string]any `grove:"metadata"         bson:"metadata,omitempty"`
	CreatedBy       string         `grove:"created_by"       bson:"created_by"`
	CreatedAt       time.Time      `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"       bson:"updated_at"`
	DeletedAt       *time.Time     `grove:"deleted_at"       bson:"deleted_at"`
	// LiveName mirrors Name while the role is live and is null once it is
	// deleted. A partial unique index over it enforces live-name uniqueness.
	LiveName *string `grove:"live_name" bson:"live_name"`
}

func roleToModel(r *role.Role) *roleModel {
	m := &roleModel{
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
	if r.DeletedAt == nil {
		name := r.Name
		m.LiveName = &name
	}
	return m
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
	ID              string         `grove:"id,pk"          bson:"_id"`
	RoleID          string         `grove:"role_id"        bson:"role_id"`
	PermissionID    string         `grove:"permission_id"  bson:"permission_id"`
	Granted         bool           `grove:"granted"        bson:"granted"`
	Conditions      []conditionDoc `grove:"conditions"     bson:"conditions,omitempty"`
}

func rolePermissionToModel(roleID id.ID, rp *role.Permission) rolePermissionModel {
	return rolePermissionModel{
		ID:           roleID.String() + ":" + rp.PermissionID.String(),
		RoleID:       roleID.String(),
		PermissionID: rp.PermissionID.String(),
		Granted:      rp.Granted,
		Conditions:   conditionsToDocs(rp.Conditions),
	}
}

func rolePermissionFromModel(m *rolePermissionModel) *role.Permission {
	rid, _ := id.ParseRoleID(m.RoleID)             //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePermissionID(m.PermissionID) //nolint:errcheck // stored IDs are always valid
	return &role.Permission{
		RoleID:       rid,
		PermissionID: pid,
		Granted:      m.Granted,
		Conditions:   conditionsFromDocs(m.Conditions),
	}
}

// ──────────────────────────────────────────────────
// Assignment model
// ──────────────────────────────────────────────────

type assignmentModel struct {
	grove.BaseModel `grove:"table:concierge_assignments"`
	ID              string         `grove:"id,pk"            bson:"_id"`
	UserID          string         `grove:"user_id"          bson:"user_id"`
	RoleID          string         `grove:"role_id"          bson:"role_id"`
	OrganizationID  string         `grove:"organization_id"  bson:"organization_id"`
	PropertyID      string         `grove:"property_id"      bson:"property_id"`
	IsActive        bool           `grove:"is_active"        bson:"is_active"`
	ExpiresAt       *time.Time     `grove:"expires_at"       bson:"expires_at"`
	Conditions      []conditionDoc `grove:"conditions"       bson:"conditions,omitempty"`
	AssignedBy      string         `grove:"assigned_by"      bson:"assigned_by"`
	AssignedAt      time.Time      `grove:"assigned_at"      bson:"assigned_at"`
	RemovedBy       string         `grove:"removed_by"       bson:"removed_by"`
	RemovedAt       *time.Time     `grove:"removed_at"       bson:"removed_at,omitempty"`
	UpdatedAt       time.Time      `grove:"updated_at"       bson:"updated_at"`
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
		Conditions:     conditionsToDocs(a.Conditions),
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
		Conditions:     conditionsFromDocs(m.Conditions),
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
	ID              string         `grove:"id,pk"          bson:"_id"`
	UserID          string         `grove:"user_id"        bson:"user_id"`
	PermissionID    string         `grove:"permission_id"  bson:"permission_id"`
	Granted         bool           `grove:"granted"        bson:"granted"`
	Conditions      []conditionDoc `grove:"conditions"     bson:"conditions,omitempty"`
	GrantedBy       string         `grove:"granted_by"     bson:"granted_by"`
	Reason          string         `grove:"reason"         bson:"reason"`
	CreatedAt       time.Time      `grove:"created_at"     bson:"created_at"`
	UpdatedAt       time.Time      `grove:"updated_at"     bson:"updated_at"`
}

func grantToModel(g *grant.Grant) *grantModel {
	return &grantModel{
		ID:           g.ID.String(),
		UserID:       g.UserID,
		PermissionID: g.PermissionID.String(),
		Granted:      g.Granted,
		Conditions:   conditionsToDocs(g.Conditions),
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
		Conditions:   conditionsFromDocs(m.Conditions),
		GrantedBy:    m.GrantedBy,
		Reason:       m.Reason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ──────────────────────────────────────────────────
// History model
// ──────────────────────────────────────────────────

type userSnapshotDoc struct {
	ID    string `bson:"id"`
	Name  string `bson:"name,omitempty"`
	Email string `bson:"email,omitempty"`
}

type roleSnapshotDoc struct {
	ID             string `bson:"id"`
	Name           string `bson:"name"`
	OrganizationID string `bson:"organization_id"`
	PropertyID     string `bson:"property_id,omitempty"`
	Priority       int    `bson:"priority"`
}

type historyModel struct {
	grove.BaseModel `grove:"table:concierge_role_history"`
	ID              string          `grove:"id,pk"            bson:"_id"`
	OrganizationID  string          `grove:"organization_id"  bson:"organization_id"`
	PropertyID      string          `grove:"property_id"      bson:"property_id"`
	UserID          string          `grove:"user_id"          bson:"user_id"`
	RoleID          string          `grove:"role_id"          bson:"role_id"`
	AdminID         string          `grove:"admin_id"         bson:"admin_id"`
	Action          string          `grove:"action"           bson:"action"`
	Source          string          `grove:"source"           bson:"source"`
	BatchID         string          `grove:"batch_id"         bson:"batch_id"`
	Reason          string          `grove:"reason"           bson:"reason"`
	RollbackOf      *string         `grove:"rollback_of"      bson:"rollback_of,omitempty"`
	Changes         map[string]any  `grove:"changes"          bson:"changes,omitempty"`
	User            userSnapshotDoc `grove:"user"             bson:"user"`
	Role            roleSnapshotDoc `grove:"role"             bson:"role"`
	Admin           userSnapshotDoc `grove:"admin"            bson:"admin"`
	IPAddress       string          `grove:"ip_address"       bson:"ip_address"`
	UserAgent       string          `grove:"user_agent"       bson:"user_agent"`
	SessionID       string          `grove:"session_id"       bson:"session_id"`
	RequestID       string          `grove:"request_id"       bson:"request_id"`
	SearchText      string          `grove:"search_text"      bson:"search_text"`
	CreatedAt       time.Time       `grove:"created_at"       bson:"created_at"`
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
		User:           userSnapshotDoc(e.User),
		Role: roleSnapshotDoc{
			ID:             e.Role.ID.String(),
			Name:           e.Role.Name,
			OrganizationID: e.Role.OrganizationID,
			PropertyID:     e.Role.PropertyID,
			Priority:       e.Role.Priority,
		},
		Admin:      userSnapshotDoc(e.Admin),
		IPAddress:  e.AuditTrail.IPAddress,
		UserAgent:  e.AuditTrail.UserAgent,
		SessionID:  e.AuditTrail.SessionID,
		RequestID:  e.AuditTrail.RequestID,
		SearchText: strings.ToLower(strings.Join(history.SearchFields(e), "\n")),
		CreatedAt:  e.CreatedAt,
	}
}

func historyFromModel(m *historyModel) *history.Entry {
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
		User:           history.UserSnapshot(m.User),
		Role: history.RoleSnapshot{
			Name:           m.Role.Name,
			OrganizationID: m.Role.OrganizationID,
			PropertyID:     m.Role.PropertyID,
			Priority:       m.Role.Priority,
		},
		Admin: history.UserSnapshot(m.Admin),
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
	if m.Role.ID != "" {
		e.Role.ID, _ = id.ParseRoleID(m.Role.ID) //nolint:errcheck // stored IDs are always valid
	}
	return e
}

// ──────────────────────────────────────────────────
// Audit log model
// ──────────────────────────────────────────────────

type auditModel struct {
	grove.BaseModel `grove:"table:concierge_audit_log"`
	ID              string         `grove:"id,pk"            bson:"_id"`
	OrganizationID  string         `grove:"organization_id"  bson:"organization_id"`
	ActorID         string         `grove:"actor_id"         bson:"actor_id"`
	Action          string         `grove:"action"           bson:"action"`
	TargetType      string         `grove:"target_type"      bson:"target_type"`
	TargetID        string         `grove:"target_id"        bson:"target_id"`
	Detail          string         `grove:"detail"           bson:"detail"`
	IPAddress       string         `grove:"ip_address"       bson:"ip_address"`
	UserAgent       string         `grove:"user_agent"       bson:"user_agent"`
	RequestID       string         `grove:"request_id"       bson:"request_id"`
	Metadata        map[string]any `grove:"metadata"         bson:"metadata,omitempty"`
	CreatedAt       time.Time      `grove:"created_at"       bson:"created_at"`
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
