package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// RoleGrant is one permission granted by a role. Conditions, when set,
// override the permission's own conditions for holders of the role.
type RoleGrant struct {
	PermissionID id.ID                  `json:"permission_id"`
	Conditions   []permission.Condition `json:"conditions,omitempty"`
}

// CreateRoleInput describes a new custom role. An empty PropertyID makes the
// role organization-wide.
type CreateRoleInput struct {
	OrganizationID string         `json:"organization_id"`
	PropertyID     string         `json:"property_id,omitempty"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Priority       int            `json:"priority"`
	Permissions    []RoleGrant    `json:"permissions,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// IsSystem marks a platform-defined role. Only trusted callers and
	// superusers may create one.
	IsSystem bool   `json:"is_system,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// UpdateRoleInput changes a custom role. Nil fields are left unchanged; a
// non-nil Permissions replaces the whole permission set atomically.
type UpdateRoleInput struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	Permissions *[]RoleGrant    `json:"permissions,omitempty"`
	Metadata    *map[string]any `json:"metadata,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

func validateRoleFields(organizationID, name string, priority int) error {
	if organizationID == "" {
		return fmt.Errorf("concierge: organization is required: %w", ErrInvalidRole)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("concierge: name is required: %w", ErrInvalidRole)
	}
	if priority < role.MinPriority || priority > role.MaxPriority {
		return fmt.Errorf("concierge: priority %d outside %d..%d: %w", priority, role.MinPriority, role.MaxPriority, ErrInvalidRole)
	}
	return nil
}

// rolePermissions validates grants against the catalog and builds the join
// records. Duplicate permission IDs keep the last grant.
func (e *Engine) rolePermissions(ctx context.Context, roleID id.ID, grants []RoleGrant) ([]*role.Permission, error) {
	if len(grants) == 0 {
		return nil, nil
	}
	byID := make(map[string]RoleGrant, len(grants))
	order := make([]id.ID, 0, len(grants))
	for _, g := range grants {
		if g.PermissionID.IsNil() {
			return nil, fmt.Errorf("concierge: empty permission id: %w", ErrUnknownPermission)
		}
		if err := e.conditions.Validate(g.Conditions); err != nil {
			return nil, err
		}
		key := g.PermissionID.String()
		if _, seen := byID[key]; !seen {
			order = append(order, g.PermissionID)
		}
		byID[key] = g
	}
	found, err := e.store.GetPermissions(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("concierge: resolve permissions: %w", err)
	}
	if len(found) != len(order) {
		known := make(map[string]bool, len(found))
		for _, p := range found {
			known[p.ID.String()] = true
		}
		var missing []string
		for _, pid := range order {
			if !known[pid.String()] {
				missing = append(missing, pid.String())
			}
		}
		return nil, fmt.Errorf("concierge: %s: %w", strings.Join(missing, ", "), ErrUnknownPermission)
	}
	out := make([]*role.Permission, 0, len(order))
	for _, pid := range order {
		g := byID[pid.String()]
		out = append(out, &role.Permission{
			RoleID:       roleID,
			PermissionID: pid,
			Granted:      true,
			Conditions:   stampConditions(g.Conditions),
		})
	}
	return out, nil
}

// CreateRole creates a custom role with its permission set.
func (e *Engine) CreateRole(ctx context.Context, in *CreateRoleInput) (*role.Role, error) {
	if in == nil {
		return nil, fmt.Errorf("concierge: create role: %w", ErrInvalidRole)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if err := validateRoleFields(in.OrganizationID, name, in.Priority); err != nil {
		return nil, err
	}
	if err := c.checkTenant(in.OrganizationID); err != nil {
		return nil, err
	}
	if in.IsSystem {
		if err := c.checkPlatform(); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	r := &role.Role{
		ID:             id.NewRoleID(),
		OrganizationID: in.OrganizationID,
		PropertyID:     in.PropertyID,
		Name:           name,
		Description:    in.Description,
		Priority:       in.Priority,
		IsSystem:       in.IsSystem,
		Metadata:       in.Metadata,
		CreatedBy:      c.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	perms, err := e.rolePermissions(ctx, r.ID, in.Permissions)
	if err != nil {
		return nil, err
	}
	if err := e.insertRole(ctx, r, perms); err != nil {
		return nil, err
	}

	if err := e.recordRoleChange(ctx, c, r, in.Reason, map[string]any{
		"change":      "created",
		"permissions": len(perms),
	}); err != nil {
		return nil, err
	}
	e.audit(ctx, c, r.OrganizationID, auditlog.ActionRoleCreated, "role", r.ID.String(), r.Name, nil)
	if e.plugins != nil {
		e.plugins.EmitRoleCreated(ctx, r)
	}
	return r, nil
}

// insertRole stores the role and its permissions. When the permission
// write fails the role is tombstoned so no half-built role stays live.
func (e *Engine) insertRole(ctx context.Context, r *role.Role, perms []*role.Permission) error {
	if err := e.store.CreateRole(ctx, r); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("concierge: %q: %w", r.Name, ErrRoleNameConflict)
		}
		return fmt.Errorf("concierge: create role: %w", err)
	}
	if len(perms) == 0 {
		return nil
	}
	if err := e.store.SetRolePermissions(ctx, r.ID, perms); err != nil {
		deleted := e.now().UTC()
		r.DeletedAt = &deleted
		if uerr := e.store.UpdateRole(ctx, r); uerr != nil {
			e.logger.Error("concierge: cannot tombstone half-created role",
				slog.String("role_id", r.ID.String()),
				slog.String("error", uerr.Error()),
			)
		}
		return fmt.Errorf("concierge: set role permissions: %w", err)
	}
	return nil
}

// loadRole returns a live role the caller may see.
func (e *Engine) loadRole(ctx context.Context, c caller, roleID id.ID) (*role.Role, error) {
	r, err := e.store.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("concierge: %s: %w", roleID, ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("concierge: get role: %w", err)
	}
	if r.IsDeleted() {
		return nil, fmt.Errorf("concierge: %s: %w", roleID, ErrRoleNotFound)
	}
	if err := c.checkTenant(r.OrganizationID); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRole returns a live role.
func (e *Engine) GetRole(ctx context.Context, roleID id.ID) (*role.Role, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return e.loadRole(ctx, c, roleID)
}

// GetRolePermissions returns the permission set of a live role.
func (e *Engine) GetRolePermissions(ctx context.Context, roleID id.ID) ([]*role.Permission, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRole(ctx, c, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := e.store.ListRolePermissions(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("concierge: list role permissions: %w", err)
	}
	return perms, nil
}

// RolePage is one page of roles.
type RolePage struct {
	Roles []*role.Role `json:"roles"`
	Total int64        `json:"total"`
}

// ListRoles lists roles, newest first, restricted to the caller's
// organization unless the caller is a superuser.
func (e *Engine) ListRoles(ctx context.Context, filter *role.ListFilter) (*RolePage, error) {
	f := role.ListFilter{}
	if filter != nil {
		f = *filter
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.trusted && !c.IsSuperuser() {
		for _, org := range f.OrganizationIDs {
			if err := c.checkTenant(org); err != nil {
				return nil, err
			}
		}
		f.OrganizationIDs = []string{c.OrganizationID}
	}
	roles, err := e.store.ListRoles(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("concierge: list roles: %w", err)
	}
	count := f
	count.Limit, count.Offset = 0, 0
	total, err := e.store.CountRoles(ctx, &count)
	if err != nil {
		return nil, fmt.Errorf("concierge: count roles: %w", err)
	}
	return &RolePage{Roles: roles, Total: total}, nil
}

// UpdateRole changes a custom role. System roles are immutable.
func (e *Engine) UpdateRole(ctx context.Context, roleID id.ID, in *UpdateRoleInput) (*role.Role, error) {
	if in == nil {
		in = &UpdateRoleInput{}
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRole(ctx, c, roleID)
	if err != nil {
		return nil, err
	}
	if r.IsSystem {
		return nil, fmt.Errorf("concierge: %s: %w", r.Name, ErrSystemRoleImmutable)
	}

	changes := map[string]any{"change": "updated"}
	if in.Name != nil && strings.TrimSpace(*in.Name) != r.Name {
		changes["name"] = map[string]any{"from": r.Name, "to": strings.TrimSpace(*in.Name)}
		r.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil && *in.Description != r.Description {
		changes["description"] = map[string]any{"from": r.Description, "to": *in.Description}
		r.Description = *in.Description
	}
	if in.Priority != nil && *in.Priority != r.Priority {
		changes["priority"] = map[string]any{"from": r.Priority, "to": *in.Priority}
		r.Priority = *in.Priority
	}
	if in.Metadata != nil {
		r.Metadata = *in.Metadata
		changes["metadata"] = true
	}
	if err := validateRoleFields(r.OrganizationID, r.Name, r.Priority); err != nil {
		return nil, err
	}

	var perms []*role.Permission
	if in.Permissions != nil {
		perms, err = e.rolePermissions(ctx, r.ID, *in.Permissions)
		if err != nil {
			return nil, err
		}
		before, err := e.store.ListRolePermissions(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("concierge: list role permissions: %w", err)
		}
		added, removed := diffPermissions(before, perms)
		changes["permissions_added"] = added
		changes["permissions_removed"] = removed
	}

	r.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateRole(ctx, r); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("concierge: %q: %w", r.Name, ErrRoleNameConflict)
		}
		return nil, fmt.Errorf("concierge: update role: %w", err)
	}
	if in.Permissions != nil {
		if err := e.store.SetRolePermissions(ctx, r.ID, perms); err != nil {
			return nil, fmt.Errorf("concierge: set role permissions: %w", err)
		}
	}
	e.invalidateRole(ctx, r)

	if err := e.recordRoleChange(ctx, c, r, in.Reason, changes); err != nil {
		return nil, err
	}
	e.audit(ctx, c, r.OrganizationID, auditlog.ActionRoleUpdated, "role", r.ID.String(), r.Name, changes)
	if e.plugins != nil {
		e.plugins.EmitRoleUpdated(ctx, r)
	}
	return r, nil
}

func diffPermissions(before, after []*role.Permission) (added, removed []string) {
	had := make(map[string]bool, len(before))
	for _, p := range before {
		had[p.PermissionID.String()] = true
	}
	has := make(map[string]bool, len(after))
	for _, p := range after {
		key := p.PermissionID.String()
		has[key] = true
		if !had[key] {
			added = append(added, key)
		}
	}
	for key := range had {
		if !has[key] {
			removed = append(removed, key)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// DeleteRole tombstones a custom role. A role still held by active
// assignments cannot be deleted.
func (e *Engine) DeleteRole(ctx context.Context, roleID id.ID, reason string) error {
	c, err := callerFrom(ctx)
	if err != nil {
		return err
	}
	r, err := e.loadRole(ctx, c, roleID)
	if err != nil {
		return err
	}
	if r.IsSystem {
		return fmt.Errorf("concierge: %s: %w", r.Name, ErrSystemRoleImmutable)
	}
	n, err := e.store.CountActiveAssignments(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("concierge: count assignments: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("concierge: %s has %d: %w", r.Name, n, ErrRoleHasAssignments)
	}

	now := e.now().UTC()
	r.DeletedAt = &now
	r.UpdatedAt = now
	if err := e.store.UpdateRole(ctx, r); err != nil {
		return fmt.Errorf("concierge: delete role: %w", err)
	}
	e.invalidateRole(ctx, r)

	if err := e.recordRoleChange(ctx, c, r, reason, map[string]any{"change": "deleted"}); err != nil {
		return err
	}
	e.audit(ctx, c, r.OrganizationID, auditlog.ActionRoleDeleted, "role", r.ID.String(), r.Name, nil)
	if e.plugins != nil {
		e.plugins.EmitRoleDeleted(ctx, r)
	}
	return nil
}

// CloneOptions controls which permissions a clone copies. Include lists
// restrict when non-empty; exclude lists always win.
type CloneOptions struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// OrganizationID and PropertyID default to the source role's.
	OrganizationID    *string            `json:"organization_id,omitempty"`
	PropertyID        *string            `json:"property_id,omitempty"`
	Priority          *int               `json:"priority,omitempty"`
	IncludeCategories []string           `json:"include_categories,omitempty"`
	ExcludeCategories []string           `json:"exclude_categories,omitempty"`
	IncludeScopes     []permission.Scope `json:"include_scopes,omitempty"`
	ExcludeScopes     []permission.Scope `json:"exclude_scopes,omitempty"`
	Reason            string             `json:"reason,omitempty"`
}

// ExcludedPermission is a source permission a clone leaves out.
type ExcludedPermission struct {
	Permission *permission.Permission `json:"permission"`
	Reason     string                 `json:"reason"`
}

// ClonePreview shows what CloneRole would create.
type ClonePreview struct {
	Source       *role.Role               `json:"source"`
	Role         *role.Role               `json:"role"`
	Included     []*permission.Permission `json:"included"`
	Excluded     []ExcludedPermission     `json:"excluded,omitempty"`
	NameConflict bool                     `json:"name_conflict"`

	grants []*role.Permission
}

// PreviewClone computes a clone without writing anything.
func (e *Engine) PreviewClone(ctx context.Context, sourceID id.ID, opts *CloneOptions) (*ClonePreview, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return e.previewClone(ctx, c, sourceID, opts)
}

func (e *Engine) previewClone(ctx context.Context, c caller, sourceID id.ID, opts *CloneOptions) (*ClonePreview, error) {
	if opts == nil {
		opts = &CloneOptions{}
	}
	src, err := e.loadRole(ctx, c, sourceID)
	if err != nil {
		return nil, err
	}

	clone := &role.Role{
		ID:             id.NewRoleID(),
		OrganizationID: src.OrganizationID,
		PropertyID:     src.PropertyID,
		Name:           strings.TrimSpace(opts.Name),
		Description:    opts.Description,
		Priority:       src.Priority,
		ClonedFromID:   &src.ID,
		CreatedBy:      c.ID,
	}
	if clone.Name == "" {
		clone.Name = src.Name + " (copy)"
	}
	if clone.Description == "" {
		clone.Description = src.Description
	}
	if opts.OrganizationID != nil {
		clone.OrganizationID = *opts.OrganizationID
	}
	if opts.PropertyID != nil {
		clone.PropertyID = *opts.PropertyID
	}
	if opts.Priority != nil {
		clone.Priority = *opts.Priority
	}
	if err := validateRoleFields(clone.OrganizationID, clone.Name, clone.Priority); err != nil {
		return nil, err
	}
	if err := c.checkTenant(clone.OrganizationID); err != nil {
		return nil, err
	}

	srcPerms, err := e.store.ListRolePermissions(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("concierge: list role permissions: %w", err)
	}
	ids := make([]id.ID, 0, len(srcPerms))
	for _, rp := range srcPerms {
		ids = append(ids, rp.PermissionID)
	}
	catalog, err := e.store.GetPermissions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("concierge: resolve permissions: %w", err)
	}
	byID := make(map[string]*permission.Permission, len(catalog))
	for _, p := range catalog {
		byID[p.ID.String()] = p
	}

	preview := &ClonePreview{Source: src, Role: clone}
	for _, rp := range srcPerms {
		p, ok := byID[rp.PermissionID.String()]
		if !ok || !rp.Granted {
			continue
		}
		if why := opts.exclusion(p); why != "" {
			preview.Excluded = append(preview.Excluded, ExcludedPermission{Permission: p, Reason: why})
			continue
		}
		preview.Included = append(preview.Included, p)
		preview.grants = append(preview.grants, &role.Permission{
			RoleID:       clone.ID,
			PermissionID: p.ID,
			Granted:      true,
			Conditions:   stampConditions(rp.Conditions),
		})
	}

	_, err = e.store.GetRoleByName(ctx, clone.OrganizationID, clone.PropertyID, clone.Name)
	switch {
	case err == nil:
		preview.NameConflict = true
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("concierge: check role name: %w", err)
	}
	return preview, nil
}

// exclusion returns why p is left out of the clone, or "" to keep it.
func (o *CloneOptions) exclusion(p *permission.Permission) string {
	if slices.Contains(o.ExcludeCategories, p.Category) {
		return "category " + p.Category + " excluded"
	}
	if slices.Contains(o.ExcludeScopes, p.Scope) {
		return "scope " + string(p.Scope) + " excluded"
	}
	if len(o.IncludeCategories) > 0 && !slices.Contains(o.IncludeCategories, p.Category) {
		return "category " + p.Category + " not included"
	}
	if len(o.IncludeScopes) > 0 && !slices.Contains(o.IncludeScopes, p.Scope) {
		return "scope " + string(p.Scope) + " not included"
	}
	return ""
}

// CloneRole creates a new role from an existing one, recording lineage.
// The source may be a system role; the clone never is.
func (e *Engine) CloneRole(ctx context.Context, sourceID id.ID, opts *CloneOptions) (*role.Role, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	preview, err := e.previewClone(ctx, c, sourceID, opts)
	if err != nil {
		return nil, err
	}
	if preview.NameConflict {
		return nil, fmt.Errorf("concierge: %q: %w", preview.Role.Name, ErrRoleNameConflict)
	}

	now := e.now().UTC()
	r := preview.Role
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := e.insertRole(ctx, r, preview.grants); err != nil {
		return nil, err
	}

	reason := ""
	if opts != nil {
		reason = opts.Reason
	}
	if err := e.recordRoleChange(ctx, c, r, reason, map[string]any{
		"change":      "cloned",
		"cloned_from": preview.Source.ID.String(),
		"permissions": len(preview.grants),
		"excluded":    len(preview.Excluded),
	}); err != nil {
		return nil, err
	}
	e.audit(ctx, c, r.OrganizationID, auditlog.ActionRoleCloned, "role", r.ID.String(), r.Name,
		map[string]any{"cloned_from": preview.Source.ID.String()})
	if e.plugins != nil {
		e.plugins.EmitRoleCloned(ctx, preview.Source, r)
	}
	return r, nil
}

// RoleLineage is the clone ancestry of a role.
type RoleLineage struct {
	Role *role.Role `json:"role"`
	// Ancestors runs from the direct source to the root.
	Ancestors []*role.Role `json:"ancestors,omitempty"`
	// Clones are roles cloned directly from Role.
	Clones []*role.Role `json:"clones,omitempty"`
}

// GetRoleLineage returns where a role was cloned from and what was cloned
// from it. Deleted ancestors are included since lineage is historical.
func (e *Engine) GetRoleLineage(ctx context.Context, roleID id.ID) (*RoleLineage, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRole(ctx, c, roleID)
	if err != nil {
		return nil, err
	}
	out := &RoleLineage{Role: r}

	seen := map[string]bool{r.ID.String(): true}
	for next := r.ClonedFromID; next != nil; {
		if seen[next.String()] {
			break
		}
		seen[next.String()] = true
		parent, err := e.store.GetRole(ctx, *next)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("concierge: get role: %w", err)
		}
		if !c.canAccess(parent.OrganizationID) {
			break
		}
		out.Ancestors = append(out.Ancestors, parent)
		next = parent.ClonedFromID
	}

	f := &role.ListFilter{ClonedFromID: &r.ID, IncludeDeleted: true}
	if !c.trusted && !c.IsSuperuser() {
		f.OrganizationIDs = []string{c.OrganizationID}
	}
	clones, err := e.store.ListRoles(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("concierge: list clones: %w", err)
	}
	out.Clones = clones
	return out, nil
}
