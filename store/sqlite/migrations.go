package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the concierge store (SQLite).
var Migrations = migrate.NewGroup("concierge")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_permissions",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_permissions (
    id              TEXT PRIMARY KEY,
    resource        TEXT NOT NULL,
    action          TEXT NOT NULL,
    scope           TEXT NOT NULL,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    category        TEXT NOT NULL DEFAULT '',
    conditions      TEXT NOT NULL DEFAULT 'null',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    UNIQUE(resource, action, scope)
);

CREATE INDEX IF NOT EXISTS idx_concierge_permissions_category ON concierge_permissions (category);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_permissions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_roles",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_roles (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    property_id     TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    priority        INTEGER NOT NULL DEFAULT 0,
    is_system       INTEGER NOT NULL DEFAULT 0,
    cloned_from_id  TEXT,
    metadata        TEXT NOT NULL DEFAULT 'null',
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    deleted_at      TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_concierge_roles_live_name
    ON concierge_roles (organization_id, property_id, name) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_concierge_roles_org ON concierge_roles (organization_id);
CREATE INDEX IF NOT EXISTS idx_concierge_roles_cloned_from ON concierge_roles (cloned_from_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_roles`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_role_permissions",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_role_permissions (
    role_id         TEXT NOT NULL REFERENCES concierge_roles(id) ON DELETE CASCADE,
    permission_id   TEXT NOT NULL REFERENCES concierge_permissions(id) ON DELETE CASCADE,
    granted         INTEGER NOT NULL DEFAULT 1,
    conditions      TEXT NOT NULL DEFAULT 'null',

    PRIMARY KEY (role_id, permission_id)
);

CREATE INDEX IF NOT EXISTS idx_concierge_role_perms_perm ON concierge_role_permissions (permission_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_role_permissions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_assignments",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_assignments (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    role_id         TEXT NOT NULL REFERENCES concierge_roles(id),
    organization_id TEXT NOT NULL,
    property_id     TEXT NOT NULL DEFAULT '',
    is_active       INTEGER NOT NULL DEFAULT 1,
    expires_at      TEXT,
    conditions      TEXT NOT NULL DEFAULT 'null',
    assigned_by     TEXT NOT NULL DEFAULT '',
    assigned_at     TEXT NOT NULL,
    removed_by      TEXT NOT NULL DEFAULT '',
    removed_at      TEXT,
    updated_at      TEXT NOT NULL,

    UNIQUE(user_id, role_id)
);

CREATE INDEX IF NOT EXISTS idx_concierge_assignments_user ON concierge_assignments (user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_concierge_assignments_role ON concierge_assignments (role_id, is_active);
CREATE INDEX IF NOT EXISTS idx_concierge_assignments_expiry ON concierge_assignments (is_active, expires_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_assignments`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_user_permissions",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_user_permissions (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    permission_id   TEXT NOT NULL REFERENCES concierge_permissions(id) ON DELETE CASCADE,
    granted         INTEGER NOT NULL,
    conditions      TEXT NOT NULL DEFAULT 'null',
    granted_by      TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,

    UNIQUE(user_id, permission_id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_user_permissions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_role_history",
			Version: "20260101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_role_history (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL,
    property_id     TEXT NOT NULL DEFAULT '',
    user_id         TEXT NOT NULL DEFAULT '',
    role_id         TEXT NOT NULL,
    admin_id        TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL,
    source          TEXT NOT NULL,
    batch_id        TEXT NOT NULL DEFAULT '',
    reason          TEXT NOT NULL DEFAULT '',
    rollback_of     TEXT,
    changes         TEXT NOT NULL DEFAULT 'null',
    user_snapshot   TEXT NOT NULL DEFAULT '{}',
    role_snapshot   TEXT NOT NULL DEFAULT '{}',
    admin_snapshot  TEXT NOT NULL DEFAULT '{}',
    ip_address      TEXT NOT NULL DEFAULT '',
    user_agent      TEXT NOT NULL DEFAULT '',
    session_id      TEXT NOT NULL DEFAULT '',
    request_id      TEXT NOT NULL DEFAULT '',
    search_text     TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concierge_history_org_time ON concierge_role_history (organization_id, created_at);
CREATE INDEX IF NOT EXISTS idx_concierge_history_user ON concierge_role_history (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_concierge_history_role ON concierge_role_history (role_id, created_at);
CREATE INDEX IF NOT EXISTS idx_concierge_history_admin ON concierge_role_history (admin_id, created_at);
CREATE INDEX IF NOT EXISTS idx_concierge_history_batch ON concierge_role_history (batch_id);
CREATE INDEX IF NOT EXISTS idx_concierge_history_rollback ON concierge_role_history (rollback_of);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_role_history`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_audit_log",
			Version: "20260101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS concierge_audit_log (
    id              TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL DEFAULT '',
    actor_id        TEXT NOT NULL,
    action          TEXT NOT NULL,
    target_type     TEXT NOT NULL,
    target_id       TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    ip_address      TEXT NOT NULL DEFAULT '',
    user_agent      TEXT NOT NULL DEFAULT '',
    request_id      TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT 'null',
    created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concierge_audit_org_time ON concierge_audit_log (organization_id, created_at);
CREATE INDEX IF NOT EXISTS idx_concierge_audit_created ON concierge_audit_log (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS concierge_audit_log`)
				return err
			},
		},
	)
}
