// Package metrics exports concierge activity as Prometheus metrics. The
// Collector is a plugin: register it with concierge.WithPlugin and expose
// the registry it was built with.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/concierge"
	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/plugin"
	"github.com/xraph/concierge/role"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin            = (*Collector)(nil)
	_ plugin.AfterEvaluate     = (*Collector)(nil)
	_ plugin.RoleCreated       = (*Collector)(nil)
	_ plugin.RoleDeleted       = (*Collector)(nil)
	_ plugin.RoleAssigned      = (*Collector)(nil)
	_ plugin.RoleRemoved       = (*Collector)(nil)
	_ plugin.AssignmentExpired = (*Collector)(nil)
	_ plugin.HistoryRecorded   = (*Collector)(nil)
	_ plugin.RolledBack        = (*Collector)(nil)
)

// Collector holds the concierge Prometheus metrics.
type Collector struct {
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	CacheHitsTotal   prometheus.Counter
	RoleChangesTotal *prometheus.CounterVec
	RolesTotal       *prometheus.CounterVec
	AssignmentsTotal *prometheus.CounterVec
	RollbacksTotal   prometheus.Counter
}

// New creates the collector and registers its metrics on registry.
func New(registry prometheus.Registerer) *Collector {
	c := &Collector{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"source", "allowed"},
		),
		DecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_decision_duration_seconds",
				Help:    "Permission evaluation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "concierge_decision_cache_hits_total",
				Help: "Total number of decisions served from the decision cache",
			},
		),
		RoleChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_role_changes_total",
				Help: "Total number of role history entries by action and source",
			},
			[]string{"action", "source"},
		),
		RolesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_roles_total",
				Help: "Total number of custom role lifecycle events",
			},
			[]string{"event"},
		),
		AssignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_assignments_total",
				Help: "Total number of role assignment lifecycle events",
			},
			[]string{"event"},
		),
		RollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "concierge_rollbacks_total",
				Help: "Total number of rolled back history entries",
			},
		),
	}

	registry.MustRegister(
		c.DecisionsTotal,
		c.DecisionDuration,
		c.CacheHitsTotal,
		c.RoleChangesTotal,
		c.RolesTotal,
		c.AssignmentsTotal,
		c.RollbacksTotal,
	)
	return c
}

// Name implements plugin.Plugin.
func (c *Collector) Name() string { return "metrics" }

// OnAfterEvaluate records the decision outcome and its latency.
func (c *Collector) OnAfterEvaluate(_ context.Context, _, decision any) error {
	d, ok := decision.(*concierge.Decision)
	if !ok || d == nil {
		return nil
	}
	source := string(d.Source)
	c.DecisionsTotal.WithLabelValues(source, strconv.FormatBool(d.Allowed)).Inc()
	c.DecisionDuration.WithLabelValues(source).Observe(time.Duration(d.EvalTimeNs).Seconds())
	if d.Source == concierge.SourceCached {
		c.CacheHitsTotal.Inc()
	}
	return nil
}

func (c *Collector) OnRoleCreated(_ context.Context, _ *role.Role) error {
	c.RolesTotal.WithLabelValues("created").Inc()
	return nil
}

func (c *Collector) OnRoleDeleted(_ context.Context, _ *role.Role) error {
	c.RolesTotal.WithLabelValues("deleted").Inc()
	return nil
}

func (c *Collector) OnRoleAssigned(_ context.Context, _ *assignment.Assignment) error {
	c.AssignmentsTotal.WithLabelValues("assigned").Inc()
	return nil
}

func (c *Collector) OnRoleRemoved(_ context.Context, _ *assignment.Assignment) error {
	c.AssignmentsTotal.WithLabelValues("removed").Inc()
	return nil
}

func (c *Collector) OnAssignmentExpired(_ context.Context, _ *assignment.Assignment) error {
	c.AssignmentsTotal.WithLabelValues("expired").Inc()
	return nil
}

func (c *Collector) OnHistoryRecorded(_ context.Context, e *history.Entry) error {
	c.RoleChangesTotal.WithLabelValues(string(e.Action), string(e.Context.Source)).Inc()
	return nil
}

func (c *Collector) OnRolledBack(_ context.Context, _, _ *history.Entry) error {
	c.RollbacksTotal.Inc()
	return nil
}
