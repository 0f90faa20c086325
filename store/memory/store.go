// Package memory provides an in-memory implementation of the concierge
// composite store. It is intended for testing and development.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

var _ store.Store = (*Store)(nil)

// Store is a thread-safe in-memory store for all concierge entities.
type Store struct {
	mu sync.RWMutex

	permissions     map[string]*permission.Permission
	roles           map[string]*role.Role
	rolePermissions map[string][]*role.Permission // roleID -> join records
	assignments     map[string]*assignment.Assignment
	grants          map[string]*grant.Grant // userID|permID
	history         []*history.Entry        // append order
	auditEntries    []*auditlog.Entry

	// unavailable makes every call fail, for exercising fail-closed paths.
	unavailable error
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		permissions:     make(map[string]*permission.Permission),
		roles:           make(map[string]*role.Role),
		rolePermissions: make(map[string][]*role.Permission),
		assignments:     make(map[string]*assignment.Assignment),
		grants:          make(map[string]*grant.Grant),
	}
}

// SetUnavailable makes every subsequent call return err until it is reset
// with nil. It simulates an unreachable datastore.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports the simulated availability.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unavailable
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Permission Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePermission(_ context.Context, p *permission.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	for _, existing := range s.permissions {
		if existing.Key() == p.Key() {
			return fmt.Errorf("permission %s: %w", p.Key(), store.ErrConflict)
		}
	}
	s.permissions[p.ID.String()] = copyPermission(p)
	return nil
}

func (s *Store) GetPermission(_ context.Context, permID id.ID) (*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	p, ok := s.permissions[permID.String()]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
	}
	return copyPermission(p), nil
}

func (s *Store) GetPermissionByKey(_ context.Context, resource, action string, scope permission.Scope) (*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	for _, p := range s.permissions {
		if p.Resource == resource && p.Action == action && p.Scope == scope {
			return copyPermission(p), nil
		}
	}
	return nil, fmt.Errorf("permission %s: %w", permission.Key(resource, action, string(scope)), store.ErrNotFound)
}

func (s *Store) GetPermissions(_ context.Context, permIDs []id.ID) ([]*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	result := make([]*permission.Permission, 0, len(permIDs))
	for _, pid := range permIDs {
		if p, ok := s.permissions[pid.String()]; ok {
			result = append(result, copyPermission(p))
		}
	}
	return result, nil
}

func (s *Store) UpdatePermission(_ context.Context, p *permission.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	existing, ok := s.permissions[p.ID.String()]
	if !ok {
		return fmt.Errorf("permission %s: %w", p.ID, store.ErrNotFound)
	}
	c := copyPermission(existing)
	c.Name = p.Name
	c.Description = p.Description
	c.Category = p.Category
	c.UpdatedAt = p.UpdatedAt
	s.permissions[p.ID.String()] = c
	return nil
}

func (s *Store) SetPermissionConditions(_ context.Context, permID id.ID, conds []permission.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	p, ok := s.permissions[permID.String()]
	if !ok {
		return fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
	}
	c := copyPermission(p)
	c.Conditions = copyConditions(conds)
	s.permissions[permID.String()] = c
	return nil
}

func (s *Store) ListPermissions(_ context.Context, filter *permission.ListFilter) ([]*permission.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	result := make([]*permission.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if filter != nil {
			if filter.Resource != "" && p.Resource != filter.Resource {
				continue
			}
			if filter.Action != "" && p.Action != filter.Action {
				continue
			}
			if filter.Scope != "" && p.Scope != filter.Scope {
				continue
			}
			if len(filter.Categories) > 0 && !slices.Contains(filter.Categories, p.Category) {
				continue
			}
			if filter.Search != "" && !containsFold(p.Name, filter.Search) && !containsFold(p.Key(), filter.Search) {
				continue
			}
		}
		result = append(result, copyPermission(p))
	}
	slices.SortFunc(result, func(a, b *permission.Permission) int { return cmp.Compare(a.Key(), b.Key()) })
	if filter == nil {
		return result, nil
	}
	return applyPagination(result, filter.Limit, filter.Offset), nil
}

func (s *Store) CountPermissions(ctx context.Context, filter *permission.ListFilter) (int64, error) {
	var f permission.ListFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListPermissions(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

// ──────────────────────────────────────────────────
// Role Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRole(_ context.Context, r *role.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	if s.nameTakenLocked(r) {
		return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
	}
	s.roles[r.ID.String()] = copyRole(r)
	return nil
}

func (s *Store) GetRole(_ context.Context, roleID id.ID) (*role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	r, ok := s.roles[roleID.String()]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
	}
	return copyRole(r), nil
}

func (s *Store) GetRoleByName(_ context.Context, organizationID, propertyID, name string) (*role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	for _, r := range s.roles {
		if !r.IsDeleted() && r.OrganizationID == organizationID && r.PropertyID == propertyID && r.Name == name {
			return copyRole(r), nil
		}
	}
	return nil, fmt.Errorf("role name %q: %w", name, store.ErrNotFound)
}

func (s *Store) UpdateRole(_ context.Context, r *role.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	if _, ok := s.roles[r.ID.String()]; !ok {
		return fmt.Errorf("role %s: %w", r.ID, store.ErrNotFound)
	}
	if !r.IsDeleted() && s.nameTakenLocked(r) {
		return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
	}
	s.roles[r.ID.String()] = copyRole(r)
	return nil
}

// nameTakenLocked reports whether another live role in r's scope uses r's name.
func (s *Store) nameTakenLocked(r *role.Role) bool {
	for _, other := range s.roles {
		if other.ID.Equal(r.ID) || other.IsDeleted() {
			continue
		}
		if other.OrganizationID == r.OrganizationID && other.PropertyID == r.PropertyID && other.Name == r.Name {
			return true
		}
	}
	return false
}

func (s *Store) ListRoles(_ context.Context, filter *role.ListFilter) ([]*role.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	if filter == nil {
		filter = &role.ListFilter{}
	}
	result := make([]*role.Role, 0, len(s.roles))
	for _, r := range s.roles {
		if !filter.IncludeDeleted && r.IsDeleted() {
			continue
		}
		if filter.OrganizationIDs != nil && !slices.Contains(filter.OrganizationIDs, r.OrganizationID) {
			continue
		}
		if filter.PropertyID != nil && r.PropertyID != *filter.PropertyID {
			continue
		}
		if filter.IsSystem != nil && r.IsSystem != *filter.IsSystem {
			continue
		}
		if filter.ClonedFromID != nil && (r.ClonedFromID == nil || !r.ClonedFromID.Equal(*filter.ClonedFromID)) {
			continue
		}
		if filter.Search != "" && !containsFold(r.Name, filter.Search) && !containsFold(r.Description, filter.Search) {
			continue
		}
		result = append(result, copyRole(r))
	}
	slices.SortFunc(result, func(a, b *role.Role) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return applyPagination(result, filter.Limit, filter.Offset), nil
}

func (s *Store) CountRoles(ctx context.Context, filter *role.ListFilter) (int64, error) {
	var f role.ListFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListRoles(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) ListRolePermissions(_ context.Context, roleID id.ID) ([]*role.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	perms := s.rolePermissions[roleID.String()]
	result := make([]*role.Permission, 0, len(perms))
	for _, rp := range perms {
		result = append(result, copyRolePermission(rp))
	}
	return result, nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID id.ID, perms []*role.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	if _, ok := s.roles[roleID.String()]; !ok {
		return fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
	}
	set := make([]*role.Permission, 0, len(perms))
	for _, rp := range perms {
		c := copyRolePermission(rp)
		c.RoleID = roleID
		set = append(set, c)
	}
	s.rolePermissions[roleID.String()] = set
	return nil
}

// ──────────────────────────────────────────────────
// Assignment Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAssignment(_ context.Context, a *assignment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	for _, existing := range s.assignments {
		if existing.UserID == a.UserID && existing.RoleID.Equal(a.RoleID) {
			return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, store.ErrConflict)
		}
	}
	s.assignments[a.ID.String()] = copyAssignment(a)
	return nil
}

func (s *Store) GetAssignment(_ context.Context, assignmentID id.ID) (*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	a, ok := s.assignments[assignmentID.String()]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", assignmentID, store.ErrNotFound)
	}
	return copyAssignment(a), nil
}

func (s *Store) GetAssignmentByUserRole(_ context.Context, userID string, roleID id.ID) (*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	for _, a := range s.assignments {
		if a.UserID == userID && a.RoleID.Equal(roleID) {
			return copyAssignment(a), nil
		}
	}
	return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, store.ErrNotFound)
}

func (s *Store) UpdateAssignment(_ context.Context, a *assignment.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	if _, ok := s.assignments[a.ID.String()]; !ok {
		return fmt.Errorf("assignment %s: %w", a.ID, store.ErrNotFound)
	}
	s.assignments[a.ID.String()] = copyAssignment(a)
	return nil
}

func (s *Store) ListAssignments(_ context.Context, filter *assignment.ListFilter) ([]*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	if filter == nil {
		filter = &assignment.ListFilter{}
	}
	result := make([]*assignment.Assignment, 0)
	for _, a := range s.assignments {
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if filter.RoleID != nil && !a.RoleID.Equal(*filter.RoleID) {
			continue
		}
		if filter.OrganizationID != "" && a.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		result = append(result, copyAssignment(a))
	}
	sortAssignments(result)
	return applyPagination(result, filter.Limit, filter.Offset), nil
}

func (s *Store) ListActiveAssignmentsForUser(_ context.Context, userID string, now time.Time) ([]*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	result := make([]*assignment.Assignment, 0)
	for _, a := range s.assignments {
		if a.UserID == userID && a.InForce(now) {
			result = append(result, copyAssignment(a))
		}
	}
	sortAssignments(result)
	return result, nil
}

func (s *Store) ListUsersWithRole(_ context.Context, roleID id.ID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	seen := make(map[string]struct{})
	for _, a := range s.assignments {
		if a.IsActive && a.RoleID.Equal(roleID) {
			seen[a.UserID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Store) CountActiveAssignments(_ context.Context, roleID id.ID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return 0, s.unavailable
	}
	var n int64
	for _, a := range s.assignments {
		if a.IsActive && a.RoleID.Equal(roleID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListExpiredAssignments(_ context.Context, now time.Time, limit int) ([]*assignment.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	result := make([]*assignment.Assignment, 0)
	for _, a := range s.assignments {
		if a.IsActive && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			result = append(result, copyAssignment(a))
		}
	}
	sortAssignments(result)
	return applyPagination(result, limit, 0), nil
}

// ──────────────────────────────────────────────────
// Grant Store
// ──────────────────────────────────────────────────

func grantKey(userID string, permID id.ID) string { return userID + "|" + permID.String() }

func (s *Store) UpsertGrant(_ context.Context, g *grant.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	key := grantKey(g.UserID, g.PermissionID)
	c := copyGrant(g)
	if existing, ok := s.grants[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
	}
	s.grants[key] = c
	return nil
}

func (s *Store) GetGrant(_ context.Context, userID string, permID id.ID) (*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	g, ok := s.grants[grantKey(userID, permID)]
	if !ok {
		return nil, fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
	}
	return copyGrant(g), nil
}

func (s *Store) DeleteGrant(_ context.Context, userID string, permID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	key := grantKey(userID, permID)
	if _, ok := s.grants[key]; !ok {
		return fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
	}
	delete(s.grants, key)
	return nil
}

func (s *Store) ListGrants(_ context.Context, userID string) ([]*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	result := make([]*grant.Grant, 0)
	for _, g := range s.grants {
		if g.UserID == userID {
			result = append(result, copyGrant(g))
		}
	}
	slices.SortFunc(result, func(a, b *grant.Grant) int { return cmp.Compare(a.ID.String(), b.ID.String()) })
	return result, nil
}

// ──────────────────────────────────────────────────
// History Store
// ──────────────────────────────────────────────────

func (s *Store) RecordEntry(_ context.Context, e *history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	for _, existing := range s.history {
		if existing.ID.Equal(e.ID) {
			return fmt.Errorf("history entry %s: %w", e.ID, store.ErrConflict)
		}
	}
	s.history = append(s.history, copyEntry(e))
	return nil
}

func (s *Store) GetEntry(_ context.Context, entryID id.ID) (*history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	for _, e := range s.history {
		if e.ID.Equal(entryID) {
			return copyEntry(e), nil
		}
	}
	return nil, fmt.Errorf("history entry %s: %w", entryID, store.ErrNotFound)
}

func (s *Store) SearchEntries(_ context.Context, filter *history.Filter) ([]*history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	if filter == nil {
		filter = &history.Filter{}
	}
	result := make([]*history.Entry, 0)
	for _, e := range s.history {
		if filter.Matches(e) {
			result = append(result, copyEntry(e))
		}
	}
	// Timestamp ties keep append order, reversed for newest-first.
	if filter.Ascending {
		slices.SortStableFunc(result, func(a, b *history.Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	} else {
		slices.Reverse(result)
		slices.SortStableFunc(result, func(a, b *history.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	}
	return applyPagination(result, filter.Limit, filter.Offset), nil
}

func (s *Store) CountEntries(ctx context.Context, filter *history.Filter) (int64, error) {
	var f history.Filter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.SearchEntries(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) SummarizeEntries(ctx context.Context, filter *history.Filter) (*history.Summary, error) {
	var f history.Filter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.SearchEntries(ctx, &f)
	if err != nil {
		return nil, err
	}
	return history.Summarize(list), nil
}

// ──────────────────────────────────────────────────
// Audit Log Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAuditEntry(_ context.Context, e *auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return s.unavailable
	}
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	s.auditEntries = append(s.auditEntries, &c)
	return nil
}

func (s *Store) ListAuditEntries(_ context.Context, filter *auditlog.QueryFilter) ([]*auditlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable != nil {
		return nil, s.unavailable
	}
	if filter == nil {
		filter = &auditlog.QueryFilter{}
	}
	result := make([]*auditlog.Entry, 0)
	for i := len(s.auditEntries) - 1; i >= 0; i-- {
		e := s.auditEntries[i]
		if filter.OrganizationID != "" && e.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.TargetType != "" && e.TargetType != filter.TargetType {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		if filter.After != nil && e.CreatedAt.Before(*filter.After) {
			continue
		}
		if filter.Before != nil && !e.CreatedAt.Before(*filter.Before) {
			continue
		}
		c := *e
		result = append(result, &c)
	}
	return applyPagination(result, filter.Limit, filter.Offset), nil
}

func (s *Store) CountAuditEntries(ctx context.Context, filter *auditlog.QueryFilter) (int64, error) {
	var f auditlog.QueryFilter
	if filter != nil {
		f = *filter
	}
	f.Limit, f.Offset = 0, 0
	list, err := s.ListAuditEntries(ctx, &f)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (s *Store) PurgeAuditEntries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable != nil {
		return 0, s.unavailable
	}
	kept := s.auditEntries[:0]
	var purged int64
	for _, e := range s.auditEntries {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.auditEntries = kept
	return purged, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortAssignments(items []*assignment.Assignment) {
	slices.SortFunc(items, func(a, b *assignment.Assignment) int {
		if c := a.AssignedAt.Compare(b.AssignedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

func applyPagination[T any](items []*T, limit, offset int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func copyConditions(conds []permission.Condition) []permission.Condition {
	if conds == nil {
		return nil
	}
	out := make([]permission.Condition, len(conds))
	for i, c := range conds {
		out[i] = c
		out[i].Value = slices.Clone(c.Value)
	}
	return out
}

func copyPermission(p *permission.Permission) *permission.Permission {
	c := *p
	c.Conditions = copyConditions(p.Conditions)
	return &c
}

func copyRole(r *role.Role) *role.Role {
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	if r.ClonedFromID != nil {
		src := *r.ClonedFromID
		c.ClonedFromID = &src
	}
	if r.DeletedAt != nil {
		at := *r.DeletedAt
		c.DeletedAt = &at
	}
	return &c
}

func copyRolePermission(rp *role.Permission) *role.Permission {
	c := *rp
	c.Conditions = copyConditions(rp.Conditions)
	return &c
}

func copyAssignment(a *assignment.Assignment) *assignment.Assignment {
	c := *a
	c.Conditions = copyConditions(a.Conditions)
	if a.ExpiresAt != nil {
		at := *a.ExpiresAt
		c.ExpiresAt = &at
	}
	if a.RemovedAt != nil {
		at := *a.RemovedAt
		c.RemovedAt = &at
	}
	return &c
}

func copyGrant(g *grant.Grant) *grant.Grant {
	c := *g
	c.Conditions = copyConditions(g.Conditions)
	return &c
}

func copyEntry(e *history.Entry) *history.Entry {
	c := *e
	c.Context.Changes = maps.Clone(e.Context.Changes)
	if e.Context.RollbackOf != nil {
		ref := *e.Context.RollbackOf
		c.Context.RollbackOf = &ref
	}
	return &c
}
