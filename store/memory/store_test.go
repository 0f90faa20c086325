package memory

import (
	"context"
	"errors"
	"testing"
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

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newPermission(resource, action string, scope permission.Scope) *permission.Permission {
	return &permission.Permission{
		ID:        id.NewPermissionID(),
		Resource:  resource,
		Action:    action,
		Scope:     scope,
		Name:      resource + " " + action,
		Category:  resource,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPermissionCatalog(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := newPermission("guest", "read", permission.ScopeProperty)
	p.Conditions = []permission.Condition{{ID: id.NewConditionID(), Type: "time", Value: []byte(`{"startTime":"09:00","endTime":"17:00"}`)}}
	if err := s.CreatePermission(ctx, p); err != nil {
		t.Fatal(err)
	}

	dup := newPermission("guest", "read", permission.ScopeProperty)
	if err := s.CreatePermission(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate key, got %v", err)
	}

	got, err := s.GetPermissionByKey(ctx, "guest", "read", permission.ScopeProperty)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Type != "time" {
		t.Fatalf("expected time condition, got %+v", got.Conditions)
	}

	if _, err := s.GetPermissionByKey(ctx, "guest", "read", permission.ScopeOwn); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for other scope, got %v", err)
	}

	if err := s.SetPermissionConditions(ctx, p.ID, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPermission(ctx, p.ID)
	if len(got.Conditions) != 0 {
		t.Fatal("expected conditions cleared")
	}

	p.Name = "Read guests"
	p.Resource = "unit"
	if err := s.UpdatePermission(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPermission(ctx, p.ID)
	if got.Name != "Read guests" || got.Resource != "guest" {
		t.Fatalf("expected only display fields updated, got %+v", got)
	}

	if err := s.CreatePermission(ctx, newPermission("unit", "update", permission.ScopeProperty)); err != nil {
		t.Fatal(err)
	}
	n, err := s.CountPermissions(ctx, &permission.ListFilter{Categories: []string{"unit"}})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 unit permission, got %d (%v)", n, err)
	}
	all, _ := s.ListPermissions(ctx, nil)
	if len(all) != 2 || all[0].Key() != "guest.read.property" {
		t.Fatalf("expected key-ordered listing, got %d entries", len(all))
	}
}

func TestRoleNameUniquenessAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	r := &role.Role{ID: id.NewRoleID(), OrganizationID: "org-1", Name: "Front Desk", CreatedAt: now}
	if err := s.CreateRole(ctx, r); err != nil {
		t.Fatal(err)
	}

	clash := &role.Role{ID: id.NewRoleID(), OrganizationID: "org-1", Name: "Front Desk", CreatedAt: now}
	if err := s.CreateRole(ctx, clash); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	otherProperty := &role.Role{ID: id.NewRoleID(), OrganizationID: "org-1", PropertyID: "prop-1", Name: "Front Desk", CreatedAt: now}
	if err := s.CreateRole(ctx, otherProperty); err != nil {
		t.Fatalf("same name in another scope should be allowed: %v", err)
	}

	deletedAt := now
	r.DeletedAt = &deletedAt
	if err := s.UpdateRole(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRole(ctx, clash); err != nil {
		t.Fatalf("name of a deleted role should be reusable: %v", err)
	}

	live, err := s.ListRoles(ctx, &role.ListFilter{OrganizationIDs: []string{"org-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live roles, got %d", len(live))
	}
	withDeleted, _ := s.CountRoles(ctx, &role.ListFilter{IncludeDeleted: true})
	if withDeleted != 3 {
		t.Fatalf("expected 3 roles including deleted, got %d", withDeleted)
	}
	none, _ := s.ListRoles(ctx, &role.ListFilter{OrganizationIDs: []string{}})
	if len(none) != 0 {
		t.Fatal("an empty organization set should match nothing")
	}
}

func TestSetRolePermissionsReplaces(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := &role.Role{ID: id.NewRoleID(), OrganizationID: "org-1", Name: "Housekeeping"}
	if err := s.CreateRole(ctx, r); err != nil {
		t.Fatal(err)
	}
	p1, p2 := id.NewPermissionID(), id.NewPermissionID()

	if err := s.SetRolePermissions(ctx, r.ID, []*role.Permission{{PermissionID: p1, Granted: true}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRolePermissions(ctx, r.ID, []*role.Permission{{PermissionID: p2, Granted: true}}); err != nil {
		t.Fatal(err)
	}
	perms, _ := s.ListRolePermissions(ctx, r.ID)
	if len(perms) != 1 || !perms[0].PermissionID.Equal(p2) || !perms[0].RoleID.Equal(r.ID) {
		t.Fatalf("expected only p2 after replace, got %+v", perms)
	}

	if err := s.SetRolePermissions(ctx, id.NewRoleID(), nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown role, got %v", err)
	}
}

func TestAssignmentsInForce(t *testing.T) {
	ctx := context.Background()
	s := New()
	roleID := id.NewRoleID()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := &assignment.Assignment{ID: id.NewAssignmentID(), UserID: "u1", RoleID: roleID, IsActive: true, ExpiresAt: &future, AssignedAt: now}
	expired := &assignment.Assignment{ID: id.NewAssignmentID(), UserID: "u1", RoleID: id.NewRoleID(), IsActive: true, ExpiresAt: &past, AssignedAt: now}
	inactive := &assignment.Assignment{ID: id.NewAssignmentID(), UserID: "u1", RoleID: id.NewRoleID(), IsActive: false, AssignedAt: now}
	for _, a := range []*assignment.Assignment{active, expired, inactive} {
		if err := s.CreateAssignment(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	dup := &assignment.Assignment{ID: id.NewAssignmentID(), UserID: "u1", RoleID: roleID}
	if err := s.CreateAssignment(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate pair, got %v", err)
	}

	inForce, err := s.ListActiveAssignmentsForUser(ctx, "u1", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(inForce) != 1 || !inForce[0].ID.Equal(active.ID) {
		t.Fatalf("expected only the active unexpired assignment, got %d", len(inForce))
	}

	due, _ := s.ListExpiredAssignments(ctx, now, 10)
	if len(due) != 1 || !due[0].ID.Equal(expired.ID) {
		t.Fatalf("expected the expired assignment, got %d", len(due))
	}

	users, _ := s.ListUsersWithRole(ctx, roleID)
	if len(users) != 1 || users[0] != "u1" {
		t.Fatalf("expected [u1], got %v", users)
	}
	n, _ := s.CountActiveAssignments(ctx, roleID)
	if n != 1 {
		t.Fatalf("expected 1 active assignment, got %d", n)
	}
}

func TestGrantUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	permID := id.NewPermissionID()

	first := &grant.Grant{ID: id.NewGrantID(), UserID: "u1", PermissionID: permID, Granted: true, CreatedAt: now}
	if err := s.UpsertGrant(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &grant.Grant{ID: id.NewGrantID(), UserID: "u1", PermissionID: permID, Granted: false, CreatedAt: now.Add(time.Minute)}
	if err := s.UpsertGrant(ctx, second); err != nil {
		t.Fatal(err)
	}
	if !second.ID.Equal(first.ID) {
		t.Fatal("upsert should keep the original grant id")
	}
	got, err := s.GetGrant(ctx, "u1", permID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Granted {
		t.Fatal("expected explicit deny after upsert")
	}
	if err := s.DeleteGrant(ctx, "u1", permID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetGrant(ctx, "u1", permID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestHistorySearch(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := range 5 {
		e := &history.Entry{
			ID:        id.NewHistoryEntryID(),
			UserID:    "u1",
			RoleID:    id.NewRoleID(),
			Action:    history.ActionBulkAssigned,
			Context:   history.Context{Source: history.SourceBulk, BatchID: "b1"},
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if i == 4 {
			e.Context.BatchID = "b2"
		}
		if err := s.RecordEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.SearchEntries(ctx, &history.Filter{BatchID: "b1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || !page[0].CreatedAt.Equal(now.Add(3*time.Minute)) {
		t.Fatalf("expected newest-first page of 2, got %d", len(page))
	}
	n, _ := s.CountEntries(ctx, &history.Filter{BatchID: "b1", Limit: 2})
	if n != 4 {
		t.Fatalf("count should ignore pagination, got %d", n)
	}
	sum, err := s.SummarizeEntries(ctx, &history.Filter{BatchID: "b1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 4 || sum.BySource[history.SourceBulk] != 4 || sum.UniqueUsers != 1 || sum.UniqueRoles != 4 {
		t.Fatalf("summary should cover every match, got %+v", sum)
	}
	asc, _ := s.SearchEntries(ctx, &history.Filter{Ascending: true, Limit: 1})
	if !asc[0].CreatedAt.Equal(now) {
		t.Fatal("expected oldest entry first in ascending order")
	}
	if err := s.RecordEntry(ctx, page[0]); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("re-recording an entry should conflict, got %v", err)
	}
}

func TestAuditPurge(t *testing.T) {
	ctx := context.Background()
	s := New()
	old := &auditlog.Entry{ID: id.NewAuditEntryID(), ActorID: "a", Action: auditlog.ActionRoleCreated, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &auditlog.Entry{ID: id.NewAuditEntryID(), ActorID: "a", Action: auditlog.ActionRoleDeleted, CreatedAt: now}
	for _, e := range []*auditlog.Entry{old, fresh} {
		if err := s.CreateAuditEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	purged, err := s.PurgeAuditEntries(ctx, now.Add(-24*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged, got %d (%v)", purged, err)
	}
	left, _ := s.ListAuditEntries(ctx, nil)
	if len(left) != 1 || left[0].Action != auditlog.ActionRoleDeleted {
		t.Fatalf("unexpected remaining entries: %+v", left)
	}
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("connection refused")
	s.SetUnavailable(boom)
	if err := s.Ping(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected ping failure, got %v", err)
	}
	if _, err := s.CountPermissions(ctx, nil); !errors.Is(err, boom) {
		t.Fatalf("expected count failure, got %v", err)
	}
	s.SetUnavailable(nil)
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
}
