package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// AssignInput assigns a role to a user.
type AssignInput struct {
	UserID    string                 `json:"user_id"`
	RoleID    id.ID                  `json:"role_id"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	// Conditions override the role's permission conditions for this user.
	Conditions []permission.Condition `json:"conditions,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	// Source defaults to manual.
	Source history.Source `json:"source,omitempty"`
}

// RemoveInput removes a role from a user.
type RemoveInput struct {
	UserID string         `json:"user_id"`
	RoleID id.ID          `json:"role_id"`
	Reason string         `json:"reason,omitempty"`
	Source history.Source `json:"source,omitempty"`
}

// change describes how one assignment transition is recorded.
type change struct {
	action history.Action
	ctx    history.Context
}

// AssignRole assigns a role to a user, reactivating a previously removed
// or expired assignment of the same pair.
func (e *Engine) AssignRole(ctx context.Context, in *AssignInput) (*assignment.Assignment, error) {
	if in == nil || in.UserID == "" {
		return nil, fmt.Errorf("concierge: assign role: user is required: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRole(ctx, c, in.RoleID)
	if err != nil {
		return nil, err
	}
	src := in.Source
	if src == "" {
		src = history.SourceManual
	}
	a, _, err := e.assign(ctx, c, r, in, change{
		action: history.ActionAssigned,
		ctx:    history.Context{Source: src, Reason: in.Reason},
	})
	return a, err
}

func (e *Engine) assign(ctx context.Context, c caller, r *role.Role, in *AssignInput, ch change) (*assignment.Assignment, *history.Entry, error) {
	if err := e.conditions.Validate(in.Conditions); err != nil {
		return nil, nil, err
	}
	user, err := e.userSnapshot(ctx, in.UserID)
	if err != nil {
		return nil, nil, err
	}
	now := e.now().UTC()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, nil, fmt.Errorf("concierge: expiry %s is in the past: %w", in.ExpiresAt.Format(time.RFC3339), ErrInvalidRequest)
	}

	a, err := e.store.GetAssignmentByUserRole(ctx, in.UserID, r.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		a = &assignment.Assignment{
			ID:             id.NewAssignmentID(),
			UserID:         in.UserID,
			RoleID:         r.ID,
			OrganizationID: r.OrganizationID,
			PropertyID:     r.PropertyID,
			IsActive:       true,
			ExpiresAt:      in.ExpiresAt,
			Conditions:     stampConditions(in.Conditions),
			AssignedBy:     c.ID,
			AssignedAt:     now,
			UpdatedAt:      now,
		}
		if err := e.store.CreateAssignment(ctx, a); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, nil, fmt.Errorf("concierge: %s -> %s: %w", in.UserID, r.Name, ErrDuplicateAssignment)
			}
			return nil, nil, fmt.Errorf("concierge: create assignment: %w", err)
		}
	case err != nil:
		return nil, nil, fmt.Errorf("concierge: get assignment: %w", err)
	case a.InForce(now):
		return nil, nil, fmt.Errorf("concierge: %s -> %s: %w", in.UserID, r.Name, ErrDuplicateAssignment)
	default:
		a.IsActive = true
		a.ExpiresAt = in.ExpiresAt
		a.Conditions = stampConditions(in.Conditions)
		a.AssignedBy = c.ID
		a.AssignedAt = now
		a.RemovedBy = ""
		a.RemovedAt = nil
		a.UpdatedAt = now
		if err := e.store.UpdateAssignment(ctx, a); err != nil {
			return nil, nil, fmt.Errorf("concierge: reactivate assignment: %w", err)
		}
	}
	e.invalidate(ctx, a.UserID)

	entry := e.assignmentEntry(c, r, a, user, ch)
	if err := e.record(ctx, entry); err != nil {
		return nil, nil, err
	}
	if e.plugins != nil {
		e.plugins.EmitRoleAssigned(ctx, a)
	}
	return a, entry, nil
}

// RemoveRole deactivates a user's active assignment of a role.
func (e *Engine) RemoveRole(ctx context.Context, in *RemoveInput) (*assignment.Assignment, error) {
	if in == nil || in.UserID == "" {
		return nil, fmt.Errorf("concierge: remove role: user is required: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadAnyRole(ctx, c, in.RoleID)
	if err != nil {
		return nil, err
	}
	src := in.Source
	if src == "" {
		src = history.SourceManual
	}
	a, _, err := e.remove(ctx, c, r, in.UserID, change{
		action: history.ActionRemoved,
		ctx:    history.Context{Source: src, Reason: in.Reason},
	})
	return a, err
}

// loadAnyRole returns a role the caller may see, deleted or not. Removals
// stay possible after a role is tombstoned.
func (e *Engine) loadAnyRole(ctx context.Context, c caller, roleID id.ID) (*role.Role, error) {
	r, err := e.store.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("concierge: %s: %w", roleID, ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("concierge: get role: %w", err)
	}
	if err := c.checkTenant(r.OrganizationID); err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) remove(ctx context.Context, c caller, r *role.Role, userID string, ch change) (*assignment.Assignment, *history.Entry, error) {
	a, err := e.store.GetAssignmentByUserRole(ctx, userID, r.ID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !a.IsActive) {
		return nil, nil, fmt.Errorf("concierge: %s -> %s: %w", userID, r.Name, ErrAssignmentNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	user, err := e.userSnapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	a.IsActive = false
	a.RemovedBy = c.ID
	a.RemovedAt = &now
	a.UpdatedAt = now
	if err := e.store.UpdateAssignment(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("concierge: remove assignment: %w", err)
	}
	e.invalidate(ctx, a.UserID)

	entry := e.assignmentEntry(c, r, a, user, ch)
	if err := e.record(ctx, entry); err != nil {
		return nil, nil, err
	}
	if e.plugins != nil {
		e.plugins.EmitRoleRemoved(ctx, a)
	}
	return a, entry, nil
}

func (e *Engine) assignmentEntry(c caller, r *role.Role, a *assignment.Assignment, user history.UserSnapshot, ch change) *history.Entry {
	return &history.Entry{
		OrganizationID: r.OrganizationID,
		PropertyID:     r.PropertyID,
		UserID:         a.UserID,
		RoleID:         r.ID,
		AdminID:        c.ID,
		Action:         ch.action,
		User:           user,
		Role:           roleSnapshot(r),
		Admin:          c.snapshot(),
		Context:        ch.ctx,
	}
}

// userSnapshot resolves display fields of a user for history. Without a
// resolver only the ID is recorded.
func (e *Engine) userSnapshot(ctx context.Context, userID string) (history.UserSnapshot, error) {
	if s, ok := SubjectFromContext(ctx); ok && s.ID == userID {
		return history.UserSnapshot{ID: s.ID, Name: s.Name, Email: s.Email}, nil
	}
	if e.resolver == nil {
		return history.UserSnapshot{ID: userID}, nil
	}
	s, err := e.resolver.ResolveSubject(ctx, userID)
	if err != nil {
		return history.UserSnapshot{}, fmt.Errorf("concierge: resolve user %s: %w", userID, err)
	}
	if s == nil {
		return history.UserSnapshot{ID: userID}, nil
	}
	return history.UserSnapshot{ID: userID, Name: s.Name, Email: s.Email}, nil
}

// BulkAssignInput assigns one role to many users.
type BulkAssignInput struct {
	RoleID     id.ID                  `json:"role_id"`
	UserIDs    []string               `json:"user_ids"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
	Conditions []permission.Condition `json:"conditions,omitempty"`
	// BatchID groups the resulting history entries. Generated when empty.
	BatchID string `json:"batch_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BulkRemoveInput removes one role from many users.
type BulkRemoveInput struct {
	RoleID  id.ID    `json:"role_id"`
	UserIDs []string `json:"user_ids"`
	BatchID string   `json:"batch_id,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// BulkFailure is one user a bulk operation could not process.
type BulkFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// BulkResult reports a bulk operation. Each user is processed
// independently; failures never roll back successes.
type BulkResult struct {
	BatchID   string        `json:"batch_id"`
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed,omitempty"`
}

// BulkAssign assigns a role to every listed user under one batch ID.
func (e *Engine) BulkAssign(ctx context.Context, in *BulkAssignInput) (*BulkResult, error) {
	if in == nil {
		return nil, fmt.Errorf("concierge: bulk assign: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRole(ctx, c, in.RoleID)
	if err != nil {
		return nil, err
	}
	if err := e.conditions.Validate(in.Conditions); err != nil {
		return nil, err
	}
	res := &BulkResult{BatchID: batchID(in.BatchID)}
	ch := change{
		action: history.ActionBulkAssigned,
		ctx:    history.Context{Source: history.SourceBulk, BatchID: res.BatchID, Reason: in.Reason},
	}
	for _, userID := range dedupe(in.UserIDs) {
		_, _, err := e.assign(ctx, c, r, &AssignInput{
			UserID:     userID,
			RoleID:     r.ID,
			ExpiresAt:  in.ExpiresAt,
			Conditions: in.Conditions,
			Reason:     in.Reason,
		}, ch)
		res.add(userID, err)
	}
	e.logBulk("bulk assign", r, res)
	return res, nil
}

// BulkRemove removes a role from every listed user under one batch ID.
func (e *Engine) BulkRemove(ctx context.Context, in *BulkRemoveInput) (*BulkResult, error) {
	if in == nil {
		return nil, fmt.Errorf("concierge: bulk remove: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.loadAnyRole(ctx, c, in.RoleID)
	if err != nil {
		return nil, err
	}
	res := &BulkResult{BatchID: batchID(in.BatchID)}
	ch := change{
		action: history.ActionBulkRemoved,
		ctx:    history.Context{Source: history.SourceBulk, BatchID: res.BatchID, Reason: in.Reason},
	}
	for _, userID := range dedupe(in.UserIDs) {
		_, _, err := e.remove(ctx, c, r, userID, ch)
		res.add(userID, err)
	}
	e.logBulk("bulk remove", r, res)
	return res, nil
}

func (res *BulkResult) add(userID string, err error) {
	if err != nil {
		res.Failed = append(res.Failed, BulkFailure{UserID: userID, Error: err.Error(), Err: err})
		return
	}
	res.Succeeded = append(res.Succeeded, userID)
}

func (e *Engine) logBulk(op string, r *role.Role, res *BulkResult) {
	e.logger.Info("concierge: "+op,
		slog.String("role_id", r.ID.String()),
		slog.String("batch_id", res.BatchID),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
	)
}

func batchID(given string) string {
	if given != "" {
		return given
	}
	return uuid.NewString()
}

// dedupe drops empty and repeated user IDs, keeping first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// expireBatch bounds one ExpireAssignments pass.
const expireBatch = 500

// ExpireAssignments deactivates active assignments whose expiry has passed
// and records an EXPIRED entry for each. It returns how many were expired.
// Only the system actor and superusers may run it.
func (e *Engine) ExpireAssignments(ctx context.Context) (int, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.checkPlatform(); err != nil {
		return 0, err
	}
	now := e.now().UTC()
	expired, err := e.store.ListExpiredAssignments(ctx, now, expireBatch)
	if err != nil {
		return 0, fmt.Errorf("concierge: list expired assignments: %w", err)
	}
	system := systemCaller()
	var (
		n    int
		errs []error
	)
	for _, a := range expired {
		r, err := e.store.GetRole(ctx, a.RoleID)
		if err != nil {
			errs = append(errs, fmt.Errorf("role %s: %w", a.RoleID, err))
			continue
		}
		a.IsActive = false
		a.RemovedBy = SystemActorID
		a.RemovedAt = &now
		a.UpdatedAt = now
		if err := e.store.UpdateAssignment(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("assignment %s: %w", a.ID, err))
			continue
		}
		e.invalidate(ctx, a.UserID)
		n++

		entry := e.assignmentEntry(system, r, a, history.UserSnapshot{ID: a.UserID}, change{
			action: history.ActionExpired,
			ctx:    history.Context{Source: history.SourceAutomated, Reason: "assignment expired"},
		})
		if err := e.record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
		if e.plugins != nil {
			e.plugins.EmitAssignmentExpired(ctx, a)
		}
	}
	if n > 0 {
		e.logger.Info("concierge: expired assignments", slog.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// GrantInput grants or denies one permission directly to a user.
type GrantInput struct {
	UserID       string                 `json:"user_id"`
	PermissionID id.ID                  `json:"permission_id"`
	Conditions   []permission.Condition `json:"conditions,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
}

// GrantPermission grants a permission directly to a user, replacing any
// previous override of the same permission.
func (e *Engine) GrantPermission(ctx context.Context, in *GrantInput) (*grant.Grant, error) {
	return e.upsertGrant(ctx, in, true)
}

// DenyPermission records an explicit deny, which beats every role grant of
// the same permission.
func (e *Engine) DenyPermission(ctx context.Context, in *GrantInput) (*grant.Grant, error) {
	return e.upsertGrant(ctx, in, false)
}

func (e *Engine) upsertGrant(ctx context.Context, in *GrantInput, granted bool) (*grant.Grant, error) {
	if in == nil || in.UserID == "" {
		return nil, fmt.Errorf("concierge: user is required: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	org, err := e.checkUserTenant(ctx, c, in.UserID)
	if err != nil {
		return nil, err
	}
	p, err := e.GetPermission(ctx, in.PermissionID)
	if err != nil {
		return nil, err
	}
	if err := e.conditions.Validate(in.Conditions); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	g := &grant.Grant{
		ID:           id.NewGrantID(),
		UserID:       in.UserID,
		PermissionID: p.ID,
		Granted:      granted,
		Conditions:   stampConditions(in.Conditions),
		GrantedBy:    c.ID,
		Reason:       in.Reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.UpsertGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("concierge: upsert user permission: %w", err)
	}
	e.invalidate(ctx, in.UserID)

	action := auditlog.ActionPermissionGranted
	if !granted {
		action = auditlog.ActionPermissionDenied
	}
	e.audit(ctx, c, org, action, "user", in.UserID, p.Key(), map[string]any{"reason": in.Reason})
	if e.plugins != nil {
		e.plugins.EmitPermissionGranted(ctx, g)
	}
	return g, nil
}

// RevokePermission deletes a user's direct grant or deny of a permission,
// returning the user to role-derived access.
func (e *Engine) RevokePermission(ctx context.Context, userID string, permID id.ID, reason string) error {
	if userID == "" {
		return fmt.Errorf("concierge: user is required: %w", ErrInvalidRequest)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return err
	}
	org, err := e.checkUserTenant(ctx, c, userID)
	if err != nil {
		return err
	}
	err = e.store.DeleteGrant(ctx, userID, permID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("concierge: %s/%s: %w", userID, permID, ErrGrantNotFound)
	}
	if err != nil {
		return fmt.Errorf("concierge: delete user permission: %w", err)
	}
	e.invalidate(ctx, userID)

	e.audit(ctx, c, org, auditlog.ActionPermissionRevoked, "user", userID, permID.String(), map[string]any{"reason": reason})
	if e.plugins != nil {
		e.plugins.EmitPermissionRevoked(ctx, userID, permID)
	}
	return nil
}

// ListUserPermissions returns a user's direct overrides.
func (e *Engine) ListUserPermissions(ctx context.Context, userID string) ([]*grant.Grant, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.checkUserTenant(ctx, c, userID); err != nil {
		return nil, err
	}
	grants, err := e.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("concierge: list user permissions: %w", err)
	}
	return grants, nil
}

// ListUserAssignments returns a user's assignments, active or not.
func (e *Engine) ListUserAssignments(ctx context.Context, userID string, activeOnly bool) ([]*assignment.Assignment, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := &assignment.ListFilter{UserID: userID, ActiveOnly: activeOnly}
	if !c.trusted && !c.IsSuperuser() {
		f.OrganizationID = c.OrganizationID
	}
	out, err := e.store.ListAssignments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("concierge: list assignments: %w", err)
	}
	return out, nil
}

// checkUserTenant resolves the user's home organization and checks the
// caller may manage it. Unknown organizations are not restricted.
func (e *Engine) checkUserTenant(ctx context.Context, c caller, userID string) (string, error) {
	var org string
	if s, ok := SubjectFromContext(ctx); ok && s.ID == userID {
		org = s.OrganizationID
	} else if e.resolver != nil {
		s, err := e.resolver.ResolveSubject(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("concierge: resolve user %s: %w", userID, err)
		}
		if s != nil {
			org = s.OrganizationID
		}
	}
	if org == "" {
		return c.OrganizationID, nil
	}
	return org, c.checkTenant(org)
}
