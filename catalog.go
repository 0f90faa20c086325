package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/store"
)

// ValidScope reports whether s is one of the catalog scopes.
func ValidScope(s permission.Scope) bool {
	switch s {
	case permission.ScopeOwn, permission.ScopeDepartment, permission.ScopeProperty,
		permission.ScopeOrganization, permission.ScopeExternal:
		return true
	}
	return false
}

func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".* ")
}

// PermissionInput describes a catalog entry to register.
type PermissionInput struct {
	Resource    string                 `json:"resource"`
	Action      string                 `json:"action"`
	Scope       permission.Scope       `json:"scope"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Conditions  []permission.Condition `json:"conditions,omitempty"`
}

// RegisterPermission adds an entry to the platform catalog. The catalog is
// platform-owned, so only trusted callers and superusers may change it.
func (e *Engine) RegisterPermission(ctx context.Context, in *PermissionInput) (*permission.Permission, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.checkPlatform(); err != nil {
		return nil, err
	}
	if in == nil || !validSegment(in.Resource) || !validSegment(in.Action) || !ValidScope(in.Scope) {
		return nil, fmt.Errorf("concierge: register permission: resource, action and a known scope are required: %w", ErrInvalidRequest)
	}
	if err := e.conditions.Validate(in.Conditions); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	p := &permission.Permission{
		ID:          id.NewPermissionID(),
		Resource:    in.Resource,
		Action:      in.Action,
		Scope:       in.Scope,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Conditions:  stampConditions(in.Conditions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Name == "" {
		p.Name = p.Key()
	}
	if err := e.store.CreatePermission(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("concierge: %s: %w", p.Key(), ErrDuplicatePermission)
		}
		return nil, fmt.Errorf("concierge: create permission: %w", err)
	}
	e.catalogReady.Store(true)

	// A new permission can turn a cached "does not exist" into a grant.
	if err := e.ClearCache(ctx, ""); err != nil {
		e.logger.Warn("concierge: cache invalidation failed", slog.String("error", err.Error()))
	}
	e.audit(ctx, c, "", auditlog.ActionCatalogChanged, "permission", p.ID.String(), "registered "+p.Key(), nil)
	return p, nil
}

// GetPermission returns one catalog entry.
func (e *Engine) GetPermission(ctx context.Context, permID id.ID) (*permission.Permission, error) {
	p, err := e.store.GetPermission(ctx, permID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("concierge: %s: %w", permID, ErrPermissionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("concierge: get permission: %w", err)
	}
	return p, nil
}

// PermissionMetadata holds the mutable display fields of a catalog entry.
type PermissionMetadata struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// UpdatePermissionMetadata changes display fields. The key is immutable.
func (e *Engine) UpdatePermissionMetadata(ctx context.Context, permID id.ID, md *PermissionMetadata) (*permission.Permission, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.checkPlatform(); err != nil {
		return nil, err
	}
	p, err := e.GetPermission(ctx, permID)
	if err != nil {
		return nil, err
	}
	if md != nil {
		if md.Name != nil {
			p.Name = *md.Name
		}
		if md.Description != nil {
			p.Description = *md.Description
		}
		if md.Category != nil {
			p.Category = *md.Category
		}
	}
	p.UpdatedAt = e.now().UTC()
	if err := e.store.UpdatePermission(ctx, p); err != nil {
		return nil, fmt.Errorf("concierge: update permission: %w", err)
	}
	e.audit(ctx, c, "", auditlog.ActionCatalogChanged, "permission", p.ID.String(), "updated "+p.Key(), nil)
	return p, nil
}

// SetPermissionConditions replaces the conditions attached to a catalog
// entry. Every cached decision is dropped since any user may be affected.
func (e *Engine) SetPermissionConditions(ctx context.Context, permID id.ID, conds []permission.Condition) error {
	c, err := callerFrom(ctx)
	if err != nil {
		return err
	}
	if err := c.checkPlatform(); err != nil {
		return err
	}
	if err := e.conditions.Validate(conds); err != nil {
		return err
	}
	p, err := e.GetPermission(ctx, permID)
	if err != nil {
		return err
	}
	conds = stampConditions(conds)
	for i := range conds {
		conds[i].PermissionID = p.ID
	}
	if err := e.store.SetPermissionConditions(ctx, p.ID, conds); err != nil {
		return fmt.Errorf("concierge: set permission conditions: %w", err)
	}
	if err := e.ClearCache(ctx, ""); err != nil {
		e.logger.Warn("concierge: cache invalidation failed", slog.String("error", err.Error()))
	}
	e.audit(ctx, c, "", auditlog.ActionCatalogChanged, "permission", p.ID.String(),
		"conditions changed on "+p.Key(), map[string]any{"conditions": len(conds)})
	return nil
}

// PermissionPage is one page of the catalog.
type PermissionPage struct {
	Permissions []*permission.Permission `json:"permissions"`
	Total       int64                    `json:"total"`
}

// ListPermissions lists catalog entries ordered by key.
func (e *Engine) ListPermissions(ctx context.Context, filter *permission.ListFilter) (*PermissionPage, error) {
	perms, err := e.store.ListPermissions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("concierge: list permissions: %w", err)
	}
	var count *permission.ListFilter
	if filter != nil {
		f := *filter
		f.Limit, f.Offset = 0, 0
		count = &f
	}
	total, err := e.store.CountPermissions(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("concierge: count permissions: %w", err)
	}
	return &PermissionPage{Permissions: perms, Total: total}, nil
}

// stampConditions returns a copy of conds with missing IDs generated.
func stampConditions(conds []permission.Condition) []permission.Condition {
	if len(conds) == 0 {
		return nil
	}
	out := make([]permission.Condition, len(conds))
	copy(out, conds)
	for i := range out {
		if out[i].ID.IsNil() {
			out[i].ID = id.NewConditionID()
		}
	}
	return out
}
