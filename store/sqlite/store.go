// Package sqlite provides a SQLite implementation of the concierge composite
// store using grove ORM with Go-based migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of the composite concierge store.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("concierge/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("concierge/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// clause is one WHERE predicate shared between list and count queries.
type clause struct {
	expr string
	args []any
}

func where(expr string, args ...any) clause { return clause{expr: expr, args: args} }

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containing returns a LIKE pattern matching s literally anywhere in a
// value. Pair it with ESCAPE '\'.
func containing(s string) string { return "%" + likeEscaper.Replace(s) + "%" }

// ──────────────────────────────────────────────────
// Permission operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePermission(ctx context.Context, p *permission.Permission) error {
	m, err := permissionToModel(p)
	if err != nil {
		return fmt.Errorf("concierge: create permission: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("permission %s: %w", p.Key(), store.ErrConflict)
		}
		return fmt.Errorf("concierge: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.ID) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", permID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get permission: %w", err)
	}
	return permissionFromModel(m)
}

func (s *Store) GetPermissionByKey(ctx context.Context, resource, action string, scope permission.Scope) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.sdb.NewSelect(m).
		Where("resource = ?", resource).
		Where("action = ?", action).
		Where("scope = ?", string(scope)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("permission %s: %w", permission.Key(resource, action, string(scope)), store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get permission by key: %w", err)
	}
	return permissionFromModel(m)
}

func (s *Store) GetPermissions(ctx context.Context, permIDs []id.ID) ([]*permission.Permission, error) {
	if len(permIDs) == 0 {
		return []*permission.Permission{}, nil
	}
	ids := make([]string, len(permIDs))
	for i, pid := range permIDs {
		ids[i] = pid.String()
	}
	var models []permissionModel
	if err := s.sdb.NewSelect(&models).Where("id IN (?)", ids).Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: get permissions: %w", err)
	}
	return permissionsFromModels(models)
}

func (s *Store) UpdatePermission(ctx context.Context, p *permission.Permission) error {
	res, err := s.sdb.NewUpdate((*permissionModel)(nil)).
		Set("name = ?", p.Name).
		Set("description = ?", p.Description).
		Set("category = ?", p.Category).
		Set("updated_at = ?", p.UpdatedAt.UTC()).
		Where("id = ?", p.ID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: update permission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("permission %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SetPermissionConditions(ctx context.Context, permID id.ID, conds []permission.Condition) error {
	raw, err := marshalJSON(conds)
	if err != nil {
		return fmt.Errorf("concierge: set permission conditions: %w", err)
	}
	res, err := s.sdb.NewUpdate((*permissionModel)(nil)).
		Set("conditions = ?", raw).
		Where("id = ?", permID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: set permission conditions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
	}
	return nil
}

func permissionClauses(filter *permission.ListFilter) []clause {
	if filter == nil {
		return nil
	}
	var cs []clause
	if filter.Resource != "" {
		cs = append(cs, where("resource = ?", filter.Resource))
	}
	if filter.Action != "" {
		cs = append(cs, where("action = ?", filter.Action))
	}
	if filter.Scope != "" {
		cs = append(cs, where("scope = ?", string(filter.Scope)))
	}
	if len(filter.Categories) > 0 {
		cs = append(cs, where("category IN (?)", filter.Categories))
	}
	if filter.Search != "" {
		like := containing(strings.ToLower(filter.Search))
		cs = append(cs, where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(resource || '.' || action || '.' || scope) LIKE ? ESCAPE '\')`, like, like))
	}
	return cs
}

func (s *Store) ListPermissions(ctx context.Context, filter *permission.ListFilter) ([]*permission.Permission, error) {
	var models []permissionModel
	q := s.sdb.NewSelect(&models).OrderExpr("resource ASC, action ASC, scope ASC")
	for _, c := range permissionClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list permissions: %w", err)
	}
	return permissionsFromModels(models)
}

func (s *Store) CountPermissions(ctx context.Context, filter *permission.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*permissionModel)(nil))
	for _, c := range permissionClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count permissions: %w", err)
	}
	return count, nil
}

func permissionsFromModels(models []permissionModel) ([]*permission.Permission, error) {
	result := make([]*permission.Permission, len(models))
	for i := range models {
		p, err := permissionFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Role operations
// ──────────────────────────────────────────────────

func (s *Store) CreateRole(ctx context.Context, r *role.Role) error {
	m, err := roleToModel(r)
	if err != nil {
		return fmt.Errorf("concierge: create role: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID id.ID) (*role.Role, error) {
	m := new(roleModel)
	err := s.sdb.NewSelect(m).Where("id = ?", roleID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get role: %w", err)
	}
	return roleFromModel(m)
}

func (s *Store) GetRoleByName(ctx context.Context, organizationID, propertyID, name string) (*role.Role, error) {
	m := new(roleModel)
	err := s.sdb.NewSelect(m).
		Where("organization_id = ?", organizationID).
		Where("property_id = ?", propertyID).
		Where("name = ?", name).
		Where("deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("role name %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get role by name: %w", err)
	}
	return roleFromModel(m)
}

func (s *Store) UpdateRole(ctx context.Context, r *role.Role) error {
	m, err := roleToModel(r)
	if err != nil {
		return fmt.Errorf("concierge: update role: %w", err)
	}
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
		}
		return fmt.Errorf("concierge: update role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("role %s: %w", r.ID, store.ErrNotFound)
	}
	return nil
}

func roleClauses(filter *role.ListFilter) []clause {
	if filter == nil {
		return []clause{where("deleted_at IS NULL")}
	}
	var cs []clause
	if !filter.IncludeDeleted {
		cs = append(cs, where("deleted_at IS NULL"))
	}
	if filter.OrganizationIDs != nil {
		if len(filter.OrganizationIDs) == 0 {
			cs = append(cs, where("1 = 0"))
		} else {
			cs = append(cs, where("organization_id IN (?)", filter.OrganizationIDs))
		}
	}
	if filter.PropertyID != nil {
		cs = append(cs, where("property_id = ?", *filter.PropertyID))
	}
	if filter.IsSystem != nil {
		cs = append(cs, where("is_system = ?", *filter.IsSystem))
	}
	if filter.ClonedFromID != nil {
		cs = append(cs, where("cloned_from_id = ?", filter.ClonedFromID.String()))
	}
	if filter.Search != "" {
		like := containing(strings.ToLower(filter.Search))
		cs = append(cs, where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, like, like))
	}
	return cs
}

func (s *Store) ListRoles(ctx context.Context, filter *role.ListFilter) ([]*role.Role, error) {
	var models []roleModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
	for _, c := range roleClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list roles: %w", err)
	}
	result := make([]*role.Role, len(models))
	for i := range models {
		r, err := roleFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("concierge: list roles: %w", err)
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) CountRoles(ctx context.Context, filter *role.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*roleModel)(nil))
	for _, c := range roleClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count roles: %w", err)
	}
	return count, nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID id.ID) ([]*role.Permission, error) {
	var models []rolePermissionModel
	err := s.sdb.NewSelect(&models).
		Where("role_id = ?", roleID.String()).
		OrderExpr("permission_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list role permissions: %w", err)
	}
	result := make([]*role.Permission, len(models))
	for i := range models {
		rp, err := rolePermissionFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("concierge: list role permissions: %w", err)
		}
		result[i] = rp
	}
	return result, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID id.ID, perms []*role.Permission) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return fmt.Errorf("concierge: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.NewDelete((*rolePermissionModel)(nil)).
		Where("role_id = ?", roleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: clear role permissions: %w", err)
	}

	if len(perms) > 0 {
		models := make([]rolePermissionModel, len(perms))
		for i, rp := range perms {
			if models[i], err = rolePermissionToModel(roleID, rp); err != nil {
				return fmt.Errorf("concierge: set role permissions: %w", err)
			}
		}
		if _, err = tx.NewInsert(&models).Exec(ctx); err != nil {
			return fmt.Errorf("concierge: set role permissions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("concierge: commit tx: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Assignment operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAssignment(ctx context.Context, a *assignment.Assignment) error {
	m, err := assignmentToModel(a)
	if err != nil {
		return fmt.Errorf("concierge: create assignment: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, assignmentID id.ID) (*assignment.Assignment, error) {
	m := new(assignmentModel)
	err := s.sdb.NewSelect(m).Where("id = ?", assignmentID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("assignment %s: %w", assignmentID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(m)
}

func (s *Store) GetAssignmentByUserRole(ctx context.Context, userID string, roleID id.ID) (*assignment.Assignment, error) {
	m := new(assignmentModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(m)
}

func (s *Store) UpdateAssignment(ctx context.Context, a *assignment.Assignment) error {
	m, err := assignmentToModel(a)
	if err != nil {
		return fmt.Errorf("concierge: update assignment: %w", err)
	}
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: update assignment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("assignment %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, filter *assignment.ListFilter) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	q := s.sdb.NewSelect(&models).OrderExpr("assigned_at ASC, id ASC")
	if filter != nil {
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.RoleID != nil {
			q = q.Where("role_id = ?", filter.RoleID.String())
		}
		if filter.OrganizationID != "" {
			q = q.Where("organization_id = ?", filter.OrganizationID)
		}
		if filter.ActiveOnly {
			q = q.Where("is_active = ?", true)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list assignments: %w", err)
	}
	return assignmentsFromModels(models)
}

func (s *Store) ListActiveAssignmentsForUser(ctx context.Context, userID string, now time.Time) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		OrderExpr("assigned_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list active assignments: %w", err)
	}
	return assignmentsFromModels(models)
}

func (s *Store) ListUsersWithRole(ctx context.Context, roleID id.ID) ([]string, error) {
	var models []assignmentModel
	err := s.sdb.NewSelect(&models).
		Where("role_id = ?", roleID.String()).
		Where("is_active = ?", true).
		OrderExpr("user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list users with role: %w", err)
	}
	users := make([]string, 0, len(models))
	for i := range models {
		if n := len(users); n == 0 || users[n-1] != models[i].UserID {
			users = append(users, models[i].UserID)
		}
	}
	return users, nil
}

func (s *Store) CountActiveAssignments(ctx context.Context, roleID id.ID) (int64, error) {
	count, err := s.sdb.NewSelect((*assignmentModel)(nil)).
		Where("role_id = ?", roleID.String()).
		Where("is_active = ?", true).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count active assignments: %w", err)
	}
	return count, nil
}

func (s *Store) ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	q := s.sdb.NewSelect(&models).
		Where("is_active = ?", true).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now.UTC()).
		OrderExpr("assigned_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list expired assignments: %w", err)
	}
	return assignmentsFromModels(models)
}

func assignmentsFromModels(models []assignmentModel) ([]*assignment.Assignment, error) {
	result := make([]*assignment.Assignment, len(models))
	for i := range models {
		a, err := assignmentFromModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Grant operations
// ──────────────────────────────────────────────────

func (s *Store) UpsertGrant(ctx context.Context, g *grant.Grant) error {
	existing, err := s.GetGrant(ctx, g.UserID, g.PermissionID)
	switch {
	case err == nil:
		g.ID = existing.ID
		g.CreatedAt = existing.CreatedAt
		m, err := grantToModel(g)
		if err != nil {
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		if _, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
		m, err := grantToModel(g)
		if err != nil {
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("grant %s/%s: %w", g.UserID, g.PermissionID, store.ErrConflict)
			}
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		return nil
	default:
		return err
	}
}

func (s *Store) GetGrant(ctx context.Context, userID string, permID id.ID) (*grant.Grant, error) {
	m := new(grantModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("permission_id = ?", permID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get grant: %w", err)
	}
	return grantFromModel(m)
}

func (s *Store) DeleteGrant(ctx context.Context, userID string, permID id.ID) error {
	res, err := s.sdb.NewDelete((*grantModel)(nil)).
		Where("user_id = ?", userID).
		Where("permission_id = ?", permID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: delete grant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]*grant.Grant, error) {
	var models []grantModel
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list grants: %w", err)
	}
	result := make([]*grant.Grant, len(models))
	for i := range models {
		g, err := grantFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("concierge: list grants: %w", err)
		}
		result[i] = g
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// History operations
// ──────────────────────────────────────────────────

func (s *Store) RecordEntry(ctx context.Context, e *history.Entry) error {
	m, err := historyToModel(e)
	if err != nil {
		return fmt.Errorf("concierge: record history: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("history entry %s: %w", e.ID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: record history: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*history.Entry, error) {
	m := new(historyModel)
	err := s.sdb.NewSelect(m).Where("id = ?", entryID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("history entry %s: %w", entryID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get history entry: %w", err)
	}
	return historyFromModel(m)
}

func historyClauses(f *history.Filter) []clause {
	if f == nil {
		return nil
	}
	var cs []clause
	if f.After != nil {
		cs = append(cs, where("created_at >= ?", f.After.UTC()))
	}
	if f.Before != nil {
		cs = append(cs, where("created_at < ?", f.Before.UTC()))
	}
	if f.OrganizationID != "" {
		cs = append(cs, where("organization_id = ?", f.OrganizationID))
	}
	if len(f.UserIDs) > 0 {
		cs = append(cs, where("user_id IN (?)", f.UserIDs))
	}
	if len(f.RoleIDs) > 0 {
		cs = append(cs, where("role_id IN (?)", f.RoleIDStrings()))
	}
	if len(f.AdminIDs) > 0 {
		cs = append(cs, where("admin_id IN (?)", f.AdminIDs))
	}
	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		cs = append(cs, where("action IN (?)", actions))
	}
	if len(f.Sources) > 0 {
		sources := make([]string, len(f.Sources))
		for i, src := range f.Sources {
			sources[i] = string(src)
		}
		cs = append(cs, where("source IN (?)", sources))
	}
	if f.BatchID != "" {
		cs = append(cs, where("batch_id = ?", f.BatchID))
	}
	if f.RollbackOf != nil {
		cs = append(cs, where("rollback_of = ?", f.RollbackOf.String()))
	}
	if f.Search != "" {
		cs = append(cs, where(`search_text LIKE ? ESCAPE '\'`, containing(strings.ToLower(f.Search))))
	}
	return cs
}

func (s *Store) SearchEntries(ctx context.Context, filter *history.Filter) ([]*history.Entry, error) {
	if filter == nil {
		filter = &history.Filter{}
	}
	var models []historyModel
	order := "created_at DESC, rowid DESC"
	if filter.Ascending {
		order = "created_at ASC, rowid ASC"
	}
	q := s.sdb.NewSelect(&models).OrderExpr(order)
	for _, c := range historyClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: search history: %w", err)
	}
	result := make([]*history.Entry, len(models))
	for i := range models {
		e, err := historyFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("concierge: search history: %w", err)
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) CountEntries(ctx context.Context, filter *history.Filter) (int64, error) {
	q := s.sdb.NewSelect((*historyModel)(nil))
	for _, c := range historyClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count history: %w", err)
	}
	return count, nil
}

// SummarizeEntries groups matching entries by action and source and counts
// distinct users, roles and admins in the database.
func (s *Store) SummarizeEntries(ctx context.Context, filter *history.Filter) (*history.Summary, error) {
	grouped := s.sdb.NewSelect((*historyModel)(nil)).
		ColumnExpr("action").
		ColumnExpr("source").
		ColumnExpr("COUNT(*)").
		GroupExpr("action, source")
	distinct := s.sdb.NewSelect((*historyModel)(nil)).
		ColumnExpr("COUNT(DISTINCT NULLIF(user_id, ''))").
		ColumnExpr("COUNT(DISTINCT NULLIF(role_id, ''))").
		ColumnExpr("COUNT(DISTINCT NULLIF(admin_id, ''))")
	for _, c := range historyClauses(filter) {
		grouped = grouped.Where(c.expr, c.args...)
		distinct = distinct.Where(c.expr, c.args...)
	}

	query, args, err := grouped.Build()
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	rows, err := s.sdb.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sum := history.NewSummary()
	for rows.Next() {
		var (
			action, source string
			n              int64
		)
		if err := rows.Scan(&action, &source, &n); err != nil {
			return nil, fmt.Errorf("concierge: summarize history: %w", err)
		}
		sum.Add(history.Action(action), history.Source(source), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}

	query, args, err = distinct.Build()
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	var users, roles, admins int64
	if err := s.sdb.QueryRow(ctx, query, args...).Scan(&users, &roles, &admins); err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	sum.UniqueUsers, sum.UniqueRoles, sum.UniqueAdmins = int(users), int(roles), int(admins)
	return sum, nil
}

// ──────────────────────────────────────────────────
// Audit log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAuditEntry(ctx context.Context, e *auditlog.Entry) error {
	m, err := auditToModel(e)
	if err != nil {
		return fmt.Errorf("concierge: create audit entry: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("concierge: create audit entry: %w", err)
	}
	return nil
}

func auditClauses(f *auditlog.QueryFilter) []clause {
	if f == nil {
		return nil
	}
	var cs []clause
	if f.OrganizationID != "" {
		cs = append(cs, where("organization_id = ?", f.OrganizationID))
	}
	if f.ActorID != "" {
		cs = append(cs, where("actor_id = ?", f.ActorID))
	}
	if f.Action != "" {
		cs = append(cs, where("action = ?", f.Action))
	}
	if f.TargetType != "" {
		cs = append(cs, where("target_type = ?", f.TargetType))
	}
	if f.TargetID != "" {
		cs = append(cs, where("target_id = ?", f.TargetID))
	}
	if f.After != nil {
		cs = append(cs, where("created_at >= ?", f.After.UTC()))
	}
	if f.Before != nil {
		cs = append(cs, where("created_at < ?", f.Before.UTC()))
	}
	return cs
}

func (s *Store) ListAuditEntries(ctx context.Context, filter *auditlog.QueryFilter) ([]*auditlog.Entry, error) {
	var models []auditModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at DESC, rowid DESC")
	for _, c := range auditClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list audit entries: %w", err)
	}
	result := make([]*auditlog.Entry, len(models))
	for i := range models {
		e, err := auditFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("concierge: list audit entries: %w", err)
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) CountAuditEntries(ctx context.Context, filter *auditlog.QueryFilter) (int64, error) {
	q := s.sdb.NewSelect((*auditModel)(nil))
	for _, c := range auditClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeAuditEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*auditModel)(nil)).
		Where("created_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("concierge: purge audit entries rows: %w", err)
	}
	return n, nil
}
