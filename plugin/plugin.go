// Package plugin defines the plugin system for concierge.
// Plugins are notified of lifecycle events (permission evaluated, role
// assigned, history recorded, ...) and can react with logging, metrics or
// tracing.
//
// Each lifecycle hook is a separate interface so plugins opt in only
// to the events they care about.
package plugin

import (
	"context"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/role"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// BeforeEvaluate is called before a permission is evaluated.
// The req parameter is *concierge.EvaluateRequest (passed as any to avoid an
// import cycle).
type BeforeEvaluate interface {
	OnBeforeEvaluate(ctx context.Context, req any) error
}

// AfterEvaluate is called with the final decision of an evaluation.
// The req parameter is *concierge.EvaluateRequest; decision is *concierge.Decision.
type AfterEvaluate interface {
	OnAfterEvaluate(ctx context.Context, req, decision any) error
}

// RoleCreated is called after a role is created.
type RoleCreated interface {
	OnRoleCreated(ctx context.Context, r *role.Role) error
}

// RoleUpdated is called after a role's attributes or permission set change.
type RoleUpdated interface {
	OnRoleUpdated(ctx context.Context, r *role.Role) error
}

// RoleDeleted is called after a role is soft-deleted.
type RoleDeleted interface {
	OnRoleDeleted(ctx context.Context, r *role.Role) error
}

// RoleCloned is called after a role is cloned.
type RoleCloned interface {
	OnRoleCloned(ctx context.Context, source, clone *role.Role) error
}

// RoleAssigned is called after a role is assigned or reactivated.
type RoleAssigned interface {
	OnRoleAssigned(ctx context.Context, a *assignment.Assignment) error
}

// RoleRemoved is called after an assignment is deactivated by an administrator.
type RoleRemoved interface {
	OnRoleRemoved(ctx context.Context, a *assignment.Assignment) error
}

// AssignmentExpired is called after the sweeper deactivates an expired assignment.
type AssignmentExpired interface {
	OnAssignmentExpired(ctx context.Context, a *assignment.Assignment) error
}

// PermissionGranted is called after a user-level grant or deny is written.
type PermissionGranted interface {
	OnPermissionGranted(ctx context.Context, g *grant.Grant) error
}

// PermissionRevoked is called after a user-level override is removed.
type PermissionRevoked interface {
	OnPermissionRevoked(ctx context.Context, userID string, permID id.ID) error
}

// HistoryRecorded is called after a history entry is appended.
type HistoryRecorded interface {
	OnHistoryRecorded(ctx context.Context, e *history.Entry) error
}

// RolledBack is called after a rollback appends its compensating entry.
type RolledBack interface {
	OnRolledBack(ctx context.Context, original, compensating *history.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
