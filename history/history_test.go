package history_test

import (
	"testing"
	"time"

	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func entry(action history.Action, admin string, at time.Time) *history.Entry {
	return &history.Entry{
		ID:             id.NewHistoryEntryID(),
		OrganizationID: "org-1",
		UserID:         "user-1",
		RoleID:         id.NewRoleID(),
		AdminID:        admin,
		Action:         action,
		User:           history.UserSnapshot{ID: "user-1", Name: "Jane Doe", Email: "jane@example.com"},
		Role:           history.RoleSnapshot{Name: "Front Desk"},
		Admin:          history.UserSnapshot{ID: admin, Name: "Admin " + admin},
		Context:        history.Context{Source: history.SourceManual},
		CreatedAt:      at,
	}
}

func TestActionReversible(t *testing.T) {
	tests := []struct {
		action history.Action
		want   bool
	}{
		{history.ActionAssigned, true},
		{history.ActionBulkAssigned, true},
		{history.ActionRemoved, true},
		{history.ActionBulkRemoved, true},
		{history.ActionModified, false},
		{history.ActionExpired, false},
	}
	for _, tt := range tests {
		if got := tt.action.Reversible(); got != tt.want {
			t.Errorf("%s.Reversible() = %v, want %v", tt.action, got, tt.want)
		}
	}
}

func TestFilterResolveWindow(t *testing.T) {
	f := (&history.Filter{Window: history.WindowWeek}).Resolve(base)
	if f.After == nil || !f.After.Equal(base.Add(-7*24*time.Hour)) {
		t.Fatalf("expected After one week before now, got %v", f.After)
	}
	if f.Window != "" {
		t.Fatal("expected window cleared after resolve")
	}

	explicit := base.Add(-time.Hour)
	f = (&history.Filter{Window: history.WindowWeek, After: &explicit}).Resolve(base)
	if !f.After.Equal(explicit) {
		t.Fatal("explicit After should win over the window")
	}
}

func TestFilterMatches(t *testing.T) {
	e := entry(history.ActionBulkAssigned, "admin-1", base)
	e.Context.BatchID = "batch-1"

	tests := []struct {
		name   string
		filter history.Filter
		want   bool
	}{
		{"empty", history.Filter{}, true},
		{"batch", history.Filter{BatchID: "batch-1"}, true},
		{"other batch", history.Filter{BatchID: "batch-2"}, false},
		{"action set", history.Filter{Actions: []history.Action{history.ActionAssigned, history.ActionBulkAssigned}}, true},
		{"wrong action", history.Filter{Actions: []history.Action{history.ActionRemoved}}, false},
		{"user", history.Filter{UserIDs: []string{"user-1"}}, true},
		{"role", history.Filter{RoleIDs: []id.ID{e.RoleID}}, true},
		{"other role", history.Filter{RoleIDs: []id.ID{id.NewRoleID()}}, false},
		{"search email", history.Filter{Search: "JANE@"}, true},
		{"search role name", history.Filter{Search: "front"}, true},
		{"search miss", history.Filter{Search: "nobody"}, false},
		{"source", history.Filter{Sources: []history.Source{history.SourceBulk}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(e); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	entries := []*history.Entry{
		entry(history.ActionAssigned, "admin-1", base),
		entry(history.ActionRemoved, "admin-1", base),
		entry(history.ActionAssigned, "admin-2", base),
	}
	s := history.Summarize(entries)
	if s.Total != 3 || s.ByAction[history.ActionAssigned] != 2 || s.UniqueAdmins != 2 || s.UniqueUsers != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestAnalyzeBurstAndCoverage(t *testing.T) {
	var entries []*history.Entry
	for i := range 5 {
		e := entry(history.ActionAssigned, "admin-1", base.Add(time.Duration(i)*time.Minute))
		if i < 4 {
			e.AuditTrail = history.AuditTrail{IPAddress: "10.0.0.1", UserAgent: "test"}
		}
		entries = append(entries, e)
	}
	entries = append(entries, entry(history.ActionRemoved, "admin-2", base))

	a := history.Analyze(entries, history.AnalyticsOptions{
		Now:                 base.Add(time.Hour),
		Lookback:            30 * 24 * time.Hour,
		SuspiciousThreshold: 3,
		SuspiciousWindow:    time.Hour,
		BusinessHoursStart:  8,
		BusinessHoursEnd:    18,
		RetentionDays:       365,
	})

	if a.TotalChanges != 6 {
		t.Fatalf("expected 6 changes, got %d", a.TotalChanges)
	}
	if len(a.Trends) != 1 || a.Trends[0].Total != 6 {
		t.Fatalf("expected one day trend of 6, got %+v", a.Trends)
	}
	if a.Patterns.PeakHour != 10 {
		t.Fatalf("expected peak hour 10, got %d", a.Patterns.PeakHour)
	}
	if a.Patterns.TopAdmins[0].ID != "admin-1" {
		t.Fatalf("expected admin-1 on top, got %+v", a.Patterns.TopAdmins)
	}
	if got := a.Compliance.AuditTrailCoverage; got < 66 || got > 67 {
		t.Fatalf("expected ~66.7%% coverage, got %f", got)
	}
	if !a.Compliance.Retention.Compliant {
		t.Fatal("expected retention compliant")
	}
	if len(a.Compliance.Findings) != 1 {
		t.Fatalf("expected one finding, got %+v", a.Compliance.Findings)
	}
	f := a.Compliance.Findings[0]
	if f.Kind != history.FindingBurst || f.AdminID != "admin-1" || f.Count != 5 {
		t.Fatalf("unexpected finding: %+v", f)
	}
}

func TestAnalyzeAfterHours(t *testing.T) {
	night := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	entries := []*history.Entry{
		entry(history.ActionAssigned, "admin-1", night),
		entry(history.ActionAssigned, "admin-2", night.Add(time.Minute)),
		entry(history.ActionAssigned, "admin-3", base),
	}
	a := history.Analyze(entries, history.AnalyticsOptions{
		Now:                      night.Add(time.Hour),
		Lookback:                 24 * time.Hour,
		BusinessHoursStart:       8,
		BusinessHoursEnd:         18,
		AfterHoursShareThreshold: 0.5,
		EntriesBeyondRetention:   2,
	})
	if a.Compliance.Retention.Compliant {
		t.Fatal("expected retention non-compliant with entries beyond retention")
	}
	if len(a.Compliance.Findings) != 1 || a.Compliance.Findings[0].Kind != history.FindingAfterHours {
		t.Fatalf("expected after-hours finding, got %+v", a.Compliance.Findings)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	a := history.Analyze(nil, history.AnalyticsOptions{Now: base, Lookback: time.Hour})
	if a.TotalChanges != 0 || a.Compliance.AuditTrailCoverage != 100 || len(a.Compliance.Findings) != 0 {
		t.Fatalf("unexpected empty analytics: %+v", a)
	}
}
