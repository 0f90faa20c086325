package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert role: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(err) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation reported as unique")
	}
	if isUniqueViolation(errors.New("UNIQUE constraint failed")) {
		t.Fatal("non-postgres error reported as unique")
	}
}

func TestAssignmentModel_RoundTrip(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	a := &assignment.Assignment{
		ID:             id.NewAssignmentID(),
		UserID:         "u1",
		RoleID:         id.NewRoleID(),
		OrganizationID: "org1",
		IsActive:       true,
		ExpiresAt:      &expires,
		Conditions:     []permission.Condition{{Type: "ownership"}},
		AssignedBy:     "admin1",
	}
	got := assignmentFromModel(assignmentToModel(a))
	if !got.ID.Equal(a.ID) || !got.RoleID.Equal(a.RoleID) || !got.IsActive {
		t.Fatalf("unexpected assignment %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expires) || len(got.Conditions) != 1 {
		t.Fatalf("expected expiry and conditions to survive, got %+v", got)
	}
}

func TestHistoryModel_SearchText(t *testing.T) {
	e := &history.Entry{
		ID:      id.NewHistoryEntryID(),
		RoleID:  id.NewRoleID(),
		Action:  history.ActionModified,
		Role:    history.RoleSnapshot{Name: "Maintenance Lead"},
		Context: history.Context{Reason: "Added Pool Access"},
	}
	m := historyToModel(e)
	if !strings.Contains(m.SearchText, "maintenance lead") || !strings.Contains(m.SearchText, "added pool access") {
		t.Fatalf("unexpected search text %q", m.SearchText)
	}
	if got := historyFromModel(m); got.Role.Name != "Maintenance Lead" || got.UserID != "" {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestRoleClauses(t *testing.T) {
	prop := "p1"
	cs := roleClauses(&role.ListFilter{OrganizationIDs: []string{"org1"}, PropertyID: &prop, Search: "Desk"})
	if len(cs) != 4 {
		t.Fatalf("expected 4 clauses, got %+v", cs)
	}
	if cs[0].expr != "deleted_at IS NULL" {
		t.Fatalf("expected live-only first clause, got %q", cs[0].expr)
	}
	if !strings.Contains(cs[3].expr, "ILIKE") {
		t.Fatalf("expected case-insensitive search, got %q", cs[3].expr)
	}

	cs = roleClauses(&role.ListFilter{IncludeDeleted: true, Search: "room_1%"})
	if len(cs) != 1 || cs[0].args[0] != `%room\_1\%%` || !strings.Contains(cs[0].expr, `ESCAPE '\'`) {
		t.Fatalf("expected wildcards in search text to match literally, got %+v", cs)
	}
}
