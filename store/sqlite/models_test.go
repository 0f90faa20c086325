package sqlite

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

func TestPermissionModel_RoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)
	p := &permission.Permission{
		ID:       id.NewPermissionID(),
		Resource: "room",
		Action:   "read",
		Scope:    permission.ScopeProperty,
		Name:     "Read rooms",
		Conditions: []permission.Condition{{
			ID:    id.NewConditionID(),
			Type:  "time",
			Value: json.RawMessage(`{"start":"08:00","end":"18:00"}`),
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}

	m, err := permissionToModel(p)
	if err != nil {
		t.Fatal(err)
	}
	if m.CreatedAt.Location() != time.UTC || !m.CreatedAt.Equal(created) {
		t.Fatalf("expected UTC timestamp, got %v", m.CreatedAt)
	}

	got, err := permissionFromModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ID.Equal(p.ID) || got.Key() != "room.read.property" {
		t.Fatalf("unexpected permission %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Type != "time" || !got.Conditions[0].ID.Equal(p.Conditions[0].ID) {
		t.Fatalf("expected conditions to survive, got %+v", got.Conditions)
	}
}

func TestRoleModel_RoundTrip(t *testing.T) {
	src := id.NewRoleID()
	deleted := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	r := &role.Role{
		ID:             id.NewRoleID(),
		OrganizationID: "org1",
		Name:           "Front Desk",
		Priority:       10,
		ClonedFromID:   &src,
		Metadata:       map[string]any{"color": "blue"},
		DeletedAt:      &deleted,
	}

	m, err := roleToModel(r)
	if err != nil {
		t.Fatal(err)
	}
	if m.DeletedAt.Location() != time.UTC || m.ClonedFromID == nil || *m.ClonedFromID != src.String() {
		t.Fatalf("unexpected model %+v", m)
	}

	got, err := roleFromModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDeleted() || got.ClonedFromID == nil || !got.ClonedFromID.Equal(src) {
		t.Fatalf("unexpected role %+v", got)
	}
	if got.Metadata["color"] != "blue" {
		t.Fatalf("expected metadata to survive, got %v", got.Metadata)
	}
}

func TestHistoryModel_SearchText(t *testing.T) {
	orig := id.NewHistoryEntryID()
	e := &history.Entry{
		ID:             id.NewHistoryEntryID(),
		OrganizationID: "org1",
		UserID:         "u1",
		RoleID:         id.NewRoleID(),
		Action:         history.ActionRemoved,
		User:           history.UserSnapshot{ID: "u1", Name: "Uma User", Email: "uma@hotel.test"},
		Admin:          history.UserSnapshot{ID: "admin1", Name: "Ada Admin"},
		Context: history.Context{
			Source:     history.SourceManual,
			Reason:     "Contract Ended",
			RollbackOf: &orig,
		},
		CreatedAt: time.Now(),
	}
	e.Role = history.RoleSnapshot{ID: e.RoleID, Name: "Night Audit", OrganizationID: "org1"}

	m, err := historyToModel(e)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"uma user", "night audit", "ada admin", "contract ended"} {
		if !strings.Contains(m.SearchText, want) {
			t.Fatalf("search text %q missing %q", m.SearchText, want)
		}
	}

	got, err := historyFromModel(m)
	if err != nil {
		t.Fatal(err)
	}
	if got.Role.Name != "Night Audit" || !got.Role.ID.Equal(e.RoleID) || got.User.Email != "uma@hotel.test" {
		t.Fatalf("expected snapshots to survive, got %+v", got)
	}
	if got.Context.RollbackOf == nil || !got.Context.RollbackOf.Equal(orig) {
		t.Fatal("expected rollback reference to survive")
	}
}

func TestRoleClauses(t *testing.T) {
	if cs := roleClauses(nil); len(cs) != 1 || cs[0].expr != "deleted_at IS NULL" {
		t.Fatalf("expected live-only clause, got %+v", cs)
	}

	cs := roleClauses(&role.ListFilter{OrganizationIDs: []string{}})
	if len(cs) != 2 || cs[1].expr != "1 = 0" {
		t.Fatalf("expected empty tenant set to match nothing, got %+v", cs)
	}

	cs = roleClauses(&role.ListFilter{IncludeDeleted: true, Search: "Desk"})
	if len(cs) != 1 || cs[0].args[0] != "%desk%" {
		t.Fatalf("expected a lowercased search clause only, got %+v", cs)
	}

	cs = roleClauses(&role.ListFilter{IncludeDeleted: true, Search: `50%_Off\`})
	if len(cs) != 1 || cs[0].args[0] != `%50\%\_off\\%` || !strings.Contains(cs[0].expr, `ESCAPE '\'`) {
		t.Fatalf("expected wildcards in search text to match literally, got %+v", cs)
	}
}

func TestHistoryClauses(t *testing.T) {
	cs := historyClauses(&history.Filter{
		OrganizationID: "org1",
		Actions:        []history.Action{history.ActionAssigned, history.ActionExpired},
	})
	if len(cs) != 2 {
		t.Fatalf("expected 2 clauses, got %+v", cs)
	}
	actions, ok := cs[1].args[0].([]string)
	if !ok || len(actions) != 2 || actions[1] != "EXPIRED" {
		t.Fatalf("unexpected action args %+v", cs[1].args)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
	if isUniqueViolation(errors.New("disk I/O error")) {
		t.Fatal("unrelated error reported as a violation")
	}
	err := fmt.Errorf("insert: %w", errors.New("UNIQUE constraint failed: concierge_roles.name"))
	if !isUniqueViolation(err) {
		t.Fatal("expected a unique violation")
	}
}
