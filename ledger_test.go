package concierge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store/memory"
)

type rollbackRecorder struct {
	assigned int
	original *history.Entry
}

func (p *rollbackRecorder) Name() string { return "rollback-recorder" }

func (p *rollbackRecorder) OnRoleAssigned(context.Context, *assignment.Assignment) error {
	p.assigned++
	return nil
}

func (p *rollbackRecorder) OnRolledBack(_ context.Context, original, _ *history.Entry) error {
	p.original = original
	return nil
}

func (p *rollbackRecorder) OnRoleCreated(context.Context, *role.Role) error {
	return errors.New("hook failures are logged, never returned")
}

func lastEntry(t *testing.T, f *fixture, userID string) *history.Entry {
	t.Helper()
	page, err := f.eng.GetUserHistory(system(), userID, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) == 0 {
		t.Fatalf("no history for %s", userID)
	}
	return page.Entries[0]
}

func TestRollback_Assignment(t *testing.T) {
	rec := &rollbackRecorder{}
	f := newFixture(t, WithPlugin(rec))
	r := f.createRole(t, "Front Desk", "guest.update.property")
	f.assign(t, "u1", r)
	original := lastEntry(t, f, "u1")

	before, _ := f.store.CountEntries(context.Background(), nil)
	comp, err := f.eng.Rollback(as("admin1"), original.ID, "assigned by mistake")
	if err != nil {
		t.Fatal(err)
	}
	after, _ := f.store.CountEntries(context.Background(), nil)
	if after != before+1 {
		t.Fatalf("expected exactly one new entry, got %d", after-before)
	}
	if comp.Action != history.ActionRemoved || comp.Context.RollbackOf == nil || !comp.Context.RollbackOf.Equal(original.ID) {
		t.Fatalf("unexpected compensating entry %+v", comp)
	}

	stored, err := f.eng.GetHistoryEntry(as("admin1"), original.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Action != history.ActionAssigned || stored.Context.RollbackOf != nil {
		t.Fatal("the original entry must stay untouched")
	}
	if d := f.evaluate("u1", "guest.update.property", atProperty1); d.Allowed {
		t.Fatal("expected the rolled back assignment to no longer grant")
	}

	page, err := f.eng.SearchHistory(as("admin1"), &history.Filter{RollbackOf: &original.ID})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 {
		t.Fatalf("expected the compensation to be findable by rollback reference, got %d", page.Total)
	}
	if rec.assigned != 1 || rec.original == nil || !rec.original.ID.Equal(original.ID) {
		t.Fatalf("expected plugin hooks to fire, got assigned=%d original=%v", rec.assigned, rec.original)
	}
}

func TestRollback_Removal(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.update.property")
	f.assign(t, "u1", r)
	if _, err := f.eng.RemoveRole(as("admin1"), &RemoveInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatal(err)
	}
	removal := lastEntry(t, f, "u1")

	comp, err := f.eng.Rollback(as("root"), removal.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if comp.Action != history.ActionAssigned {
		t.Fatalf("expected re-assignment, got %s", comp.Action)
	}
	if d := f.evaluate("u1", "guest.update.property", atProperty1); !d.Allowed {
		t.Fatal("expected access restored by rollback")
	}

	// Rolling back the same removal again finds the role already assigned.
	if _, err := f.eng.Rollback(as("admin1"), removal.ID, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRollback_RemovalKeepsConditionsAndExpiry(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.update.property")
	expires := f.clock.Now().Add(48 * time.Hour)
	if _, err := f.eng.AssignRole(as("admin1"), &AssignInput{
		UserID:     "u1",
		RoleID:     r.ID,
		ExpiresAt:  &expires,
		Conditions: []permission.Condition{cond(t, ConditionDepartment, OpIn, map[string]any{"departments": []string{"housekeeping"}})},
	}); err != nil {
		t.Fatal(err)
	}
	if d := f.evaluate("u1", "guest.update.property", atProperty1); d.Allowed {
		t.Fatal("frontdesk user must fail the housekeeping condition")
	}
	if _, err := f.eng.RemoveRole(as("admin1"), &RemoveInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatal(err)
	}
	removal := lastEntry(t, f, "u1")

	if _, err := f.eng.Rollback(as("admin1"), removal.ID, ""); err != nil {
		t.Fatal(err)
	}
	if d := f.evaluate("u1", "guest.update.property", atProperty1); d.Allowed {
		t.Fatal("rollback must not widen the restored assignment")
	}
	a, err := f.store.GetAssignmentByUserRole(context.Background(), "u1", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsActive || a.ExpiresAt == nil || !a.ExpiresAt.Equal(expires) || len(a.Conditions) != 1 {
		t.Fatalf("expected restored expiry and conditions, got %+v", a)
	}
}

func TestRollback_RemovalAfterExpiry(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk", "guest.update.property")
	expires := f.clock.Now().Add(time.Hour)
	if _, err := f.eng.AssignRole(as("admin1"), &AssignInput{UserID: "u1", RoleID: r.ID, ExpiresAt: &expires}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.RemoveRole(as("admin1"), &RemoveInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatal(err)
	}
	removal := lastEntry(t, f, "u1")
	f.clock.Advance(2 * time.Hour)

	if _, err := f.eng.Rollback(as("admin1"), removal.ID, ""); !errors.Is(err, ErrNotReversible) {
		t.Fatalf("expected a lapsed assignment to stay removed, got %v", err)
	}
	if d := f.evaluate("u1", "guest.update.property", atProperty1); d.Allowed {
		t.Fatal("expected no access after refused rollback")
	}
}

func TestRollback_RequiresActor(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	f.assign(t, "u1", r)
	entry := lastEntry(t, f, "u1")

	if _, err := f.eng.Rollback(context.Background(), entry.ID, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated rollback to be refused, got %v", err)
	}
	if _, err := f.eng.Rollback(system(), entry.ID, "scheduled cleanup"); err != nil {
		t.Fatalf("expected the system actor to roll back, got %v", err)
	}
}

func TestRollback_Errors(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	f.assign(t, "u1", r)
	assigned := lastEntry(t, f, "u1")

	created, err := f.eng.GetRoleHistory(as("admin1"), r.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	modified := created.Entries[len(created.Entries)-1]
	if modified.Action != history.ActionModified {
		t.Fatalf("expected role creation entry, got %s", modified.Action)
	}

	tests := []struct {
		name string
		ctx  context.Context
		id   id.ID
		want error
	}{
		{"not reversible", as("admin1"), modified.ID, ErrNotReversible},
		{"non admin", as("u1"), assigned.ID, ErrRollbackNotAllowed},
		{"other organization", as("admin2"), assigned.ID, ErrForbidden},
		{"unknown entry", as("admin1"), id.NewHistoryEntryID(), ErrEntryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.eng.Rollback(tt.ctx, tt.id, ""); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// pagedStore fails any history search that is not paginated.
type pagedStore struct {
	*memory.Store
}

func (s pagedStore) SearchEntries(ctx context.Context, filter *history.Filter) ([]*history.Entry, error) {
	if filter == nil || filter.Limit <= 0 {
		return nil, errors.New("unbounded history search")
	}
	return s.Store.SearchEntries(ctx, filter)
}

func TestSearchHistory_SummaryWithoutLoadingAll(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	for _, u := range []string{"u1", "u2", "u3"} {
		f.assign(t, u, r)
	}
	eng, err := NewEngine(WithStore(pagedStore{f.store}), WithClock(f.clock.Now), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	page, err := eng.SearchHistory(as("admin1"), &history.Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 1 || page.Total != 4 {
		t.Fatalf("expected 1 of 4 entries, got %d/%d", len(page.Entries), page.Total)
	}
	if page.Summary.ByAction[history.ActionAssigned] != 3 || page.Summary.UniqueUsers != 3 {
		t.Fatalf("expected summary over all matches, got %+v", page.Summary)
	}
}

func TestSearchHistory(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	for _, u := range []string{"u1", "u2", "u3"} {
		f.assign(t, u, r)
		f.clock.Advance(time.Minute)
	}
	if _, err := f.eng.RemoveRole(as("admin1"), &RemoveInput{UserID: "u2", RoleID: r.ID, Reason: "transfer"}); err != nil {
		t.Fatal(err)
	}

	page, err := f.eng.SearchHistory(as("admin1"), &history.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entries) != 2 || page.Total != 5 {
		t.Fatalf("expected page of 2 out of 5, got %d/%d", len(page.Entries), page.Total)
	}
	if page.Summary.Total != 5 || page.Summary.ByAction[history.ActionAssigned] != 3 || page.Summary.UniqueUsers != 3 {
		t.Fatalf("expected summary over all matches, got %+v", page.Summary)
	}
	if page.Entries[0].Action != history.ActionRemoved {
		t.Fatalf("expected newest first, got %s", page.Entries[0].Action)
	}

	byName, err := f.eng.SearchHistory(as("admin1"), &history.Filter{Search: "VIC"})
	if err != nil {
		t.Fatal(err)
	}
	if byName.Total != 2 {
		t.Fatalf("expected case-insensitive search on user name, got %d", byName.Total)
	}
	byReason, err := f.eng.SearchHistory(as("admin1"), &history.Filter{Search: "transfer"})
	if err != nil {
		t.Fatal(err)
	}
	if byReason.Total != 1 {
		t.Fatalf("expected search on reason, got %d", byReason.Total)
	}

	if _, err := f.eng.SearchHistory(as("admin1"), &history.Filter{Window: "1y"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown window rejected, got %v", err)
	}
	if _, err := f.eng.SearchHistory(as("admin2"), &history.Filter{OrganizationID: "org1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	other, err := f.eng.SearchHistory(as("admin2"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if other.Total != 0 {
		t.Fatal("another tenant must not see org1 history")
	}
}

func TestSearchHistory_LimitClamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistoryLimit = 2
	f := newFixture(t, WithConfig(cfg))
	r := f.createRole(t, "Front Desk")
	for _, u := range []string{"u1", "u2", "u3"} {
		f.assign(t, u, r)
	}
	page, err := f.eng.SearchHistory(as("admin1"), &history.Filter{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if page.Limit != 2 || len(page.Entries) != 2 {
		t.Fatalf("expected clamp to 2, got limit=%d len=%d", page.Limit, len(page.Entries))
	}
}

func TestGetAdminActivity(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	f.assign(t, "u1", r)
	f.clock.Advance(48 * time.Hour)
	f.assign(t, "u2", r)

	day, err := f.eng.GetAdminActivity(as("admin1"), "admin1", history.WindowDay, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if day.Total != 1 {
		t.Fatalf("expected one change in the last day, got %d", day.Total)
	}
	week, err := f.eng.GetAdminActivity(as("admin1"), "admin1", history.WindowWeek, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if week.Total != 3 {
		t.Fatalf("expected three changes in the last week, got %d", week.Total)
	}
}

func TestGetAnalytics(t *testing.T) {
	f := newFixture(t)
	r := f.createRole(t, "Front Desk")
	ctx := WithRequestInfo(as("admin1"), RequestInfo{IPAddress: "10.0.0.1", UserAgent: "console/1.0"})
	if _, err := f.eng.BulkAssign(ctx, &BulkAssignInput{RoleID: r.ID, UserIDs: []string{"u1", "u2", "u3"}}); err != nil {
		t.Fatal(err)
	}

	a, err := f.eng.GetAnalytics(as("admin1"), "")
	if err != nil {
		t.Fatal(err)
	}
	if a.OrganizationID != "org1" || a.TotalChanges != 4 {
		t.Fatalf("unexpected analytics %+v", a)
	}
	if a.Patterns.ByAction[history.ActionBulkAssigned] != 3 {
		t.Fatalf("expected 3 bulk assignments, got %v", a.Patterns.ByAction)
	}
	if a.Compliance.AuditTrailCoverage != 75 {
		t.Fatalf("expected 75%% audit trail coverage, got %v", a.Compliance.AuditTrailCoverage)
	}
	if !a.Compliance.Retention.Compliant {
		t.Fatal("expected retention compliance with fresh entries")
	}

	if _, err := f.eng.GetAnalytics(as("admin2"), "org1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
