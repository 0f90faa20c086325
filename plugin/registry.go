package plugin

import (
	"context"
	"log/slog"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/role"
)

// entry pairs a hook with the plugin name for logging.
type entry[H any] struct {
	name string
	hook H
}

// collect appends p to hooks when p implements H.
func collect[H any](hooks []entry[H], p Plugin) []entry[H] {
	if h, ok := p.(H); ok {
		return append(hooks, entry[H]{name: p.Name(), hook: h})
	}
	return hooks
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeEvaluate    []entry[BeforeEvaluate]
	afterEvaluate     []entry[AfterEvaluate]
	roleCreated       []entry[RoleCreated]
	roleUpdated       []entry[RoleUpdated]
	roleDeleted       []entry[RoleDeleted]
	roleCloned        []entry[RoleCloned]
	roleAssigned      []entry[RoleAssigned]
	roleRemoved       []entry[RoleRemoved]
	assignmentExpired []entry[AssignmentExpired]
	permissionGranted []entry[PermissionGranted]
	permissionRevoked []entry[PermissionRevoked]
	historyRecorded   []entry[HistoryRecorded]
	rolledBack        []entry[RolledBack]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)

	r.beforeEvaluate = collect(r.beforeEvaluate, p)
	r.afterEvaluate = collect(r.afterEvaluate, p)
	r.roleCreated = collect(r.roleCreated, p)
	r.roleUpdated = collect(r.roleUpdated, p)
	r.roleDeleted = collect(r.roleDeleted, p)
	r.roleCloned = collect(r.roleCloned, p)
	r.roleAssigned = collect(r.roleAssigned, p)
	r.roleRemoved = collect(r.roleRemoved, p)
	r.assignmentExpired = collect(r.assignmentExpired, p)
	r.permissionGranted = collect(r.permissionGranted, p)
	r.permissionRevoked = collect(r.permissionRevoked, p)
	r.historyRecorded = collect(r.historyRecorded, p)
	r.rolledBack = collect(r.rolledBack, p)
	r.shutdown = collect(r.shutdown, p)
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// emit runs call for every hook, logging failures.
func emit[H any](r *Registry, hookName string, hooks []entry[H], call func(H) error) {
	for _, e := range hooks {
		if err := call(e.hook); err != nil {
			r.logHookError(hookName, e.name, err)
		}
	}
}

// EmitBeforeEvaluate notifies all plugins that implement BeforeEvaluate.
func (r *Registry) EmitBeforeEvaluate(ctx context.Context, req any) {
	emit(r, "OnBeforeEvaluate", r.beforeEvaluate, func(h BeforeEvaluate) error {
		return h.OnBeforeEvaluate(ctx, req)
	})
}

// EmitAfterEvaluate notifies all plugins that implement AfterEvaluate.
func (r *Registry) EmitAfterEvaluate(ctx context.Context, req, decision any) {
	emit(r, "OnAfterEvaluate", r.afterEvaluate, func(h AfterEvaluate) error {
		return h.OnAfterEvaluate(ctx, req, decision)
	})
}

// EmitRoleCreated notifies all plugins that implement RoleCreated.
func (r *Registry) EmitRoleCreated(ctx context.Context, rl *role.Role) {
	emit(r, "OnRoleCreated", r.roleCreated, func(h RoleCreated) error {
		return h.OnRoleCreated(ctx, rl)
	})
}

// EmitRoleUpdated notifies all plugins that implement RoleUpdated.
func (r *Registry) EmitRoleUpdated(ctx context.Context, rl *role.Role) {
	emit(r, "OnRoleUpdated", r.roleUpdated, func(h RoleUpdated) error {
		return h.OnRoleUpdated(ctx, rl)
	})
}

// EmitRoleDeleted notifies all plugins that implement RoleDeleted.
func (r *Registry) EmitRoleDeleted(ctx context.Context, rl *role.Role) {
	emit(r, "OnRoleDeleted", r.roleDeleted, func(h RoleDeleted) error {
		return h.OnRoleDeleted(ctx, rl)
	})
}

// EmitRoleCloned notifies all plugins that implement RoleCloned.
func (r *Registry) EmitRoleCloned(ctx context.Context, source, clone *role.Role) {
	emit(r, "OnRoleCloned", r.roleCloned, func(h RoleCloned) error {
		return h.OnRoleCloned(ctx, source, clone)
	})
}

// EmitRoleAssigned notifies all plugins that implement RoleAssigned.
func (r *Registry) EmitRoleAssigned(ctx context.Context, a *assignment.Assignment) {
	emit(r, "OnRoleAssigned", r.roleAssigned, func(h RoleAssigned) error {
		return h.OnRoleAssigned(ctx, a)
	})
}

// EmitRoleRemoved notifies all plugins that implement RoleRemoved.
func (r *Registry) EmitRoleRemoved(ctx context.Context, a *assignment.Assignment) {
	emit(r, "OnRoleRemoved", r.roleRemoved, func(h RoleRemoved) error {
		return h.OnRoleRemoved(ctx, a)
	})
}

// EmitAssignmentExpired notifies all plugins that implement AssignmentExpired.
func (r *Registry) EmitAssignmentExpired(ctx context.Context, a *assignment.Assignment) {
	emit(r, "OnAssignmentExpired", r.assignmentExpired, func(h AssignmentExpired) error {
		return h.OnAssignmentExpired(ctx, a)
	})
}

// EmitPermissionGranted notifies all plugins that implement PermissionGranted.
func (r *Registry) EmitPermissionGranted(ctx context.Context, g *grant.Grant) {
	emit(r, "OnPermissionGranted", r.permissionGranted, func(h PermissionGranted) error {
		return h.OnPermissionGranted(ctx, g)
	})
}

// EmitPermissionRevoked notifies all plugins that implement PermissionRevoked.
func (r *Registry) EmitPermissionRevoked(ctx context.Context, userID string, permID id.ID) {
	emit(r, "OnPermissionRevoked", r.permissionRevoked, func(h PermissionRevoked) error {
		return h.OnPermissionRevoked(ctx, userID, permID)
	})
}

// EmitHistoryRecorded notifies all plugins that implement HistoryRecorded.
func (r *Registry) EmitHistoryRecorded(ctx context.Context, e *history.Entry) {
	emit(r, "OnHistoryRecorded", r.historyRecorded, func(h HistoryRecorded) error {
		return h.OnHistoryRecorded(ctx, e)
	})
}

// EmitRolledBack notifies all plugins that implement RolledBack.
func (r *Registry) EmitRolledBack(ctx context.Context, original, compensating *history.Entry) {
	emit(r, "OnRolledBack", r.rolledBack, func(h RolledBack) error {
		return h.OnRolledBack(ctx, original, compensating)
	})
}

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}
