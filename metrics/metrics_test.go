package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/concierge"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/store/memory"
)

func TestCollector_Decisions(t *testing.T) {
	c := New(prometheus.NewRegistry())
	ctx := context.Background()

	decisions := []*concierge.Decision{
		{Allowed: true, Source: concierge.SourceRole, EvalTimeNs: 1000},
		{Allowed: true, Source: concierge.SourceCached, EvalTimeNs: 200},
		{Allowed: false, Source: concierge.SourceCached, EvalTimeNs: 200},
		{Allowed: false, Source: concierge.SourceDefault, EvalTimeNs: 900},
	}
	for _, d := range decisions {
		if err := c.OnAfterEvaluate(ctx, &concierge.EvaluateRequest{}, d); err != nil {
			t.Fatalf("OnAfterEvaluate: %v", err)
		}
	}

	if got := testutil.ToFloat64(c.DecisionsTotal.WithLabelValues("role", "true")); got != 1 {
		t.Fatalf("role/true = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.DecisionsTotal.WithLabelValues("cached", "false")); got != 1 {
		t.Fatalf("cached/false = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CacheHitsTotal); got != 2 {
		t.Fatalf("cache hits = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.DecisionDuration); got != 3 {
		t.Fatalf("duration series = %d, want 3", got)
	}
}

func TestCollector_IgnoresForeignDecision(t *testing.T) {
	c := New(prometheus.NewRegistry())
	if err := c.OnAfterEvaluate(context.Background(), nil, "not a decision"); err != nil {
		t.Fatalf("OnAfterEvaluate: %v", err)
	}
	if got := testutil.CollectAndCount(c.DecisionsTotal); got != 0 {
		t.Fatalf("decision series = %d, want 0", got)
	}
}

func TestCollector_Lifecycle(t *testing.T) {
	c := New(prometheus.NewRegistry())
	ctx := context.Background()

	_ = c.OnRoleCreated(ctx, nil)
	_ = c.OnRoleDeleted(ctx, nil)
	_ = c.OnRoleAssigned(ctx, nil)
	_ = c.OnRoleAssigned(ctx, nil)
	_ = c.OnRoleRemoved(ctx, nil)
	_ = c.OnAssignmentExpired(ctx, nil)
	_ = c.OnHistoryRecorded(ctx, &history.Entry{
		Action:  history.ActionAssigned,
		Context: history.Context{Source: history.SourceManual},
	})
	_ = c.OnHistoryRecorded(ctx, &history.Entry{
		Action:  history.ActionBulkAssigned,
		Context: history.Context{Source: history.SourceBulk},
	})
	_ = c.OnRolledBack(ctx, nil, nil)

	if got := testutil.ToFloat64(c.AssignmentsTotal.WithLabelValues("assigned")); got != 2 {
		t.Fatalf("assigned = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.AssignmentsTotal.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RolesTotal.WithLabelValues("deleted")); got != 1 {
		t.Fatalf("deleted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RoleChangesTotal.WithLabelValues("BULK_ASSIGNED", "bulk")); got != 1 {
		t.Fatalf("bulk assigned = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RollbacksTotal); got != 1 {
		t.Fatalf("rollbacks = %v, want 1", got)
	}
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	c := New(prometheus.NewRegistry())
	eng, err := concierge.NewEngine(
		concierge.WithStore(memory.New()),
		concierge.WithPlugin(c),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// An empty catalog fails closed.
	d := eng.Evaluate(context.Background(), &concierge.EvaluateRequest{
		SubjectID: "u1", Resource: "room", Action: "read", Scope: "own",
	})
	if d.Allowed {
		t.Fatal("expected deny from an unprovisioned catalog")
	}
	if got := testutil.ToFloat64(c.DecisionsTotal.WithLabelValues(string(d.Source), "false")); got != 1 {
		t.Fatalf("decisions{%s,false} = %v, want 1", d.Source, got)
	}
}
