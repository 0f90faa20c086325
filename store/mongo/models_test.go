package mongo

import (
	"encoding/json"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

func TestConditionDocs_RoundTrip(t *testing.T) {
	pid := id.NewPermissionID()
	in := []permission.Condition{
		{ID: id.NewConditionID(), PermissionID: pid, Type: "department", Value: json.RawMessage(`{"departments":["hk"]}`)},
		{Type: "ownership"},
	}
	out := conditionsFromDocs(conditionsToDocs(in))
	if len(out) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(out))
	}
	if !out[0].ID.Equal(in[0].ID) || !out[0].PermissionID.Equal(pid) || string(out[0].Value) != `{"departments":["hk"]}` {
		t.Fatalf("unexpected condition %+v", out[0])
	}
	if !out[1].ID.IsNil() || out[1].Value != nil {
		t.Fatalf("expected empty id and value, got %+v", out[1])
	}
	if conditionsFromDocs(conditionsToDocs(nil)) != nil {
		t.Fatal("expected nil conditions to stay nil")
	}
}

func TestRoleModel_LiveName(t *testing.T) {
	r := &role.Role{ID: id.NewRoleID(), OrganizationID: "org1", Name: "Housekeeping"}
	m := roleToModel(r)
	if m.LiveName == nil || *m.LiveName != "Housekeeping" {
		t.Fatalf("expected live name for a live role, got %v", m.LiveName)
	}

	now := time.Now()
	r.DeletedAt = &now
	if m := roleToModel(r); m.LiveName != nil {
		t.Fatal("expected no live name for a deleted role")
	}
	if got := roleFromModel(roleToModel(r)); !got.IsDeleted() || !got.ID.Equal(r.ID) {
		t.Fatalf("unexpected role %+v", got)
	}
}

func TestHistoryModel_RoundTrip(t *testing.T) {
	rid := id.NewRoleID()
	e := &history.Entry{
		ID:             id.NewHistoryEntryID(),
		OrganizationID: "org1",
		UserID:         "u1",
		RoleID:         rid,
		Action:         history.ActionAssigned,
		Role:           history.RoleSnapshot{ID: rid, Name: "Front Desk", OrganizationID: "org1", Priority: 5},
		User:           history.UserSnapshot{ID: "u1", Name: "Uma"},
		Context:        history.Context{Source: history.SourceBulk, BatchID: "b1"},
		CreatedAt:      time.Now().UTC(),
	}
	got := historyFromModel(historyToModel(e))
	if !got.Role.ID.Equal(rid) || got.Role.Priority != 5 || got.User.Name != "Uma" {
		t.Fatalf("expected snapshots to survive, got %+v", got)
	}
	if got.Context.BatchID != "b1" || got.Context.Source != history.SourceBulk {
		t.Fatalf("unexpected context %+v", got.Context)
	}
}

func TestRoleFilter(t *testing.T) {
	f := roleFilter(nil)
	if v, ok := f["deleted_at"]; !ok || v != nil {
		t.Fatalf("expected live-only filter, got %v", f)
	}

	f = roleFilter(&role.ListFilter{IncludeDeleted: true, OrganizationIDs: []string{}, Search: "a.b"})
	if _, ok := f["deleted_at"]; ok {
		t.Fatal("expected deleted roles to be included")
	}
	in, ok := f["organization_id"].(bson.M)
	if !ok || len(in["$in"].([]string)) != 0 {
		t.Fatalf("expected an empty $in, got %v", f["organization_id"])
	}
	if _, ok := f["$or"].(bson.A); !ok {
		t.Fatalf("expected search disjunction, got %v", f)
	}
}

func TestContainsFold_EscapesPattern(t *testing.T) {
	m := containsFold("a.b*")
	if m["$regex"] != `a\.b\*` || m["$options"] != "i" {
		t.Fatalf("unexpected regex %v", m)
	}
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colPermissions, colRoles, colAssignments, colGrants, colHistory, colAuditLog} {
		if len(idx[col]) == 0 {
			t.Fatalf("expected indexes for %s", col)
		}
	}
}
