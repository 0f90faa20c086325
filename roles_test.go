package concierge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

func TestCreateRole_Validation(t *testing.T) {
	f := newFixture(t)
	admin := as("admin1")

	tests := []struct {
		name string
		in   CreateRoleInput
		want error
	}{
		{"priority too high", CreateRoleInput{OrganizationID: "org1", Name: "A", Priority: 1001}, ErrValidation},
		{"negative priority", CreateRoleInput{OrganizationID: "org1", Name: "A", Priority: -1}, ErrValidation},
		{"blank name", CreateRoleInput{OrganizationID: "org1", Name: "  "}, ErrValidation},
		{"no organization", CreateRoleInput{Name: "A"}, ErrValidation},
		{"unknown permission", CreateRoleInput{OrganizationID: "org1", Name: "A",
			Permissions: []RoleGrant{{PermissionID: id.NewPermissionID()}}}, ErrUnknownPermission},
		{"other tenant", CreateRoleInput{OrganizationID: "org2", Name: "A"}, ErrForbidden},
		{"system role by tenant admin", CreateRoleInput{OrganizationID: "org1", Name: "A", IsSystem: true}, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateRole(admin, &tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	// Boundaries are inclusive.
	for i, p := range []int{role.MinPriority, role.MaxPriority} {
		if _, err := f.eng.CreateRole(admin, &CreateRoleInput{OrganizationID: "org1", Name: []string{"Low", "High"}[i], Priority: p}); err != nil {
			t.Fatalf("priority %d: %v", p, err)
		}
	}
}

func TestCreateRole_NameUniqueness(t *testing.T) {
	f := newFixture(t)
	admin := as("admin1")
	f.createRole(t, "Front Desk")

	_, err := f.eng.CreateRole(admin, &CreateRoleInput{OrganizationID: "org1", Name: "Front Desk"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.eng.CreateRole(admin, &CreateRoleInput{OrganizationID: "org1", PropertyID: "p1", Name: "Front Desk"}); err != nil {
		t.Fatalf("same name at property scope should be allowed: %v", err)
	}
	if _, err := f.eng.CreateRole(as("admin2"), &CreateRoleInput{OrganizationID: "org2", Name: "Front Desk"}); err != nil {
		t.Fatalf("same name in another organization should be allowed: %v", err)
	}
}

func TestCreateRole_RecordsHistoryAndAudit(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.read.property")

	page, err := f.eng.GetRoleHistory(as("admin1"), r.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(page.Entries))
	}
	e := page.Entries[0]
	if e.Action != history.ActionModified || e.UserID != "" || e.Context.Changes["change"] != "created" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Admin.Name != "Ada Admin" || e.Role.Name != "Front Desk" {
		t.Fatalf("expected snapshots, got admin=%+v role=%+v", e.Admin, e.Role)
	}

	audit, err := f.eng.ListAuditLog(as("admin1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if audit.Total != 1 || audit.Entries[0].Action != "role.created" || audit.Entries[0].ActorID != "admin1" {
		t.Fatalf("unexpected audit log %+v", audit.Entries)
	}
	other, err := f.eng.ListAuditLog(as("admin2"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if other.Total != 0 {
		t.Fatal("another tenant must not see org1 audit entries")
	}
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.read.property")
	f.assign(t, "u1", r)

	// Warm the cache with a deny.
	if d := f.evaluate("u1", "guest.update.property", atProperty1); d.Allowed {
		t.Fatal("expected deny before update")
	}

	name := "Reception"
	prio := 500
	grants := []RoleGrant{{PermissionID: f.perm(t, "guest.update.property").ID}}
	updated, err := f.eng.UpdateRole(as("admin1"), r.ID, &UpdateRoleInput{Name: &name, Priority: &prio, Permissions: &grants})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Reception" || updated.Priority != 500 {
		t.Fatalf("unexpected role %+v", updated)
	}

	perms, err := f.eng.GetRolePermissions(as("admin1"), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 1 || !perms[0].PermissionID.Equal(f.perm(t, "guest.update.property").ID) {
		t.Fatalf("expected permission set replaced, got %+v", perms)
	}

	if d := f.evaluate("u1", "guest.update.property", atProperty1); !d.Allowed || d.Source == SourceCached {
		t.Fatalf("expected fresh allow after update, got %+v", d)
	}
	if d := f.evaluate("u1", "guest.read.property", atProperty1); d.Allowed {
		t.Fatal("removed permission must no longer be granted")
	}

	page, err := f.eng.SearchHistory(as("admin1"), &history.Filter{RoleIDs: []id.ID{r.ID}, Actions: []history.Action{history.ActionModified}})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("expected created and updated entries, got %d", page.Total)
	}
	changes := page.Entries[0].Context.Changes
	if changes["change"] != "updated" {
		t.Fatalf("expected newest entry to be the update, got %+v", changes)
	}
}

func TestUpdateRole_Errors(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	f.createRole(t, "Night Audit")

	taken := "Night Audit"
	if _, err := f.eng.UpdateRole(as("admin1"), r.ID, &UpdateRoleInput{Name: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	bad := 2000
	if _, err := f.eng.UpdateRole(as("admin1"), r.ID, &UpdateRoleInput{Priority: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.eng.UpdateRole(as("admin2"), r.ID, &UpdateRoleInput{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.eng.UpdateRole(as("admin1"), id.NewRoleID(), &UpdateRoleInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRole_RequiresActor(t *testing.T) {
	f := newFixture(t)
	in := &CreateRoleInput{OrganizationID: "org2", Name: "Night Audit"}
	if _, err := f.eng.CreateRole(context.Background(), in); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected a call without subject to be refused, got %v", err)
	}
	if _, err := f.eng.CreateRole(WithSubject(context.Background(), Subject{}), in); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected an empty subject to be refused, got %v", err)
	}
	r, err := f.eng.CreateRole(system(), in)
	if err != nil {
		t.Fatal(err)
	}
	if r.CreatedBy != SystemActorID {
		t.Fatalf("expected the system actor recorded, got %q", r.CreatedBy)
	}
}

func TestSystemRoleImmutable(t *testing.T) {
	f := newFixture(t)
	sys, err := f.eng.CreateRole(system(), &CreateRoleInput{OrganizationID: "org1", Name: "Owner", IsSystem: true})
	if err != nil {
		t.Fatal(err)
	}
	name := "Renamed"
	if _, err := f.eng.UpdateRole(as("admin1"), sys.ID, &UpdateRoleInput{Name: &name}); !errors.Is(err, ErrSystemRoleImmutable) {
		t.Fatalf("expected immutable, got %v", err)
	}
	if err := f.eng.DeleteRole(as("admin1"), sys.ID, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Cloning a system role is allowed and yields a custom role.
	clone, err := f.eng.CloneRole(as("admin1"), sys.ID, &CloneOptions{Name: "Owner Copy"})
	if err != nil {
		t.Fatal(err)
	}
	if clone.IsSystem {
		t.Fatal("a clone must not be a system role")
	}
}

func TestDeleteRole(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.read.property")
	f.assign(t, "u1", r)

	if err := f.eng.DeleteRole(as("admin1"), r.ID, "restructure"); !errors.Is(err, ErrRoleHasAssignments) {
		t.Fatalf("expected has-assignments conflict, got %v", err)
	}
	if _, err := f.eng.RemoveRole(as("admin1"), &RemoveInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatal(err)
	}
	if err := f.eng.DeleteRole(as("admin1"), r.ID, "restructure"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.GetRole(as("admin1"), r.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected deleted role to be gone, got %v", err)
	}

	// History of the deleted role stays queryable.
	page, err := f.eng.GetRoleHistory(as("admin1"), r.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 {
		t.Fatalf("expected created/assigned/removed/deleted entries, got %d", page.Total)
	}

	// The name is free again.
	if _, err := f.eng.CreateRole(as("admin1"), &CreateRoleInput{OrganizationID: "org1", Name: "Front Desk"}); err != nil {
		t.Fatalf("expected name reusable after delete: %v", err)
	}
}

func TestListRoles_TenantScoped(t *testing.T) {
	f := newFixture(t)
	f.createRole(t, "Front Desk")
	f.createRole(t, "Night Audit")
	f.clock.Advance(time.Minute)
	if _, err := f.eng.CreateRole(as("admin2"), &CreateRoleInput{OrganizationID: "org2", Name: "Vendor"}); err != nil {
		t.Fatal(err)
	}

	page, err := f.eng.ListRoles(as("admin2"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Roles[0].Name != "Vendor" {
		t.Fatalf("expected only org2 roles, got %+v", page.Roles)
	}
	if _, err := f.eng.ListRoles(as("admin2"), &role.ListFilter{OrganizationIDs: []string{"org1"}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	all, err := f.eng.ListRoles(as("root"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 3 {
		t.Fatalf("expected superuser to see all roles, got %d", all.Total)
	}
	if all.Roles[0].Name != "Vendor" {
		t.Fatalf("expected newest first, got %s", all.Roles[0].Name)
	}
}

func TestCloneRole(t *testing.T) {
	f := newFixture(t)
	src := f.createRole(t, "Front Desk", "guest.read.property", "guest.update.property", "report.read.organization")

	preview, err := f.eng.PreviewClone(as("admin1"), src.ID, &CloneOptions{
		Name:              "Front Desk Lite",
		ExcludeCategories: []string{"reports"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(preview.Included) != 2 || len(preview.Excluded) != 1 {
		t.Fatalf("expected 2 included and 1 excluded, got %d/%d", len(preview.Included), len(preview.Excluded))
	}
	if preview.Excluded[0].Permission.Key() != "report.read.organization" {
		t.Fatalf("unexpected exclusion %+v", preview.Excluded[0])
	}
	if preview.NameConflict {
		t.Fatal("unexpected name conflict")
	}
	// A preview writes nothing.
	if page, _ := f.eng.ListRoles(as("admin1"), nil); page.Total != 1 {
		t.Fatalf("preview must not create roles, got %d", page.Total)
	}

	clone, err := f.eng.CloneRole(as("admin1"), src.ID, &CloneOptions{
		Name:          "Front Desk Lite",
		IncludeScopes: []permission.Scope{permission.ScopeProperty},
	})
	if err != nil {
		t.Fatal(err)
	}
	if clone.ClonedFromID == nil || !clone.ClonedFromID.Equal(src.ID) {
		t.Fatal("expected lineage to the source")
	}
	perms, err := f.eng.GetRolePermissions(as("admin1"), clone.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 property-scope permissions, got %d", len(perms))
	}

	if _, err := f.eng.CloneRole(as("admin1"), src.ID, &CloneOptions{Name: "Front Desk Lite"}); !errors.Is(err, ErrRoleNameConflict) {
		t.Fatalf("expected name conflict, got %v", err)
	}
	if _, err := f.eng.CloneRole(as("admin2"), src.ID, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	lineage, err := f.eng.GetRoleLineage(as("admin1"), clone.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lineage.Ancestors) != 1 || !lineage.Ancestors[0].ID.Equal(src.ID) {
		t.Fatalf("unexpected ancestors %+v", lineage.Ancestors)
	}
	srcLineage, err := f.eng.GetRoleLineage(as("admin1"), src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(srcLineage.Clones) != 1 || !srcLineage.Clones[0].ID.Equal(clone.ID) {
		t.Fatalf("unexpected clones %+v", srcLineage.Clones)
	}
}
