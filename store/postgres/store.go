// Package postgres provides a PostgreSQL implementation of the concierge
// composite store using grove ORM with Go-based migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

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

// Store is a PostgreSQL implementation of the composite concierge store.
type Store struct {
	db   *grove.DB
	pgdb *pgdriver.PgDB
}

// New creates a new PostgreSQL store.
func New(db *grove.DB) *Store {
	return &Store{
		db:   db,
		pgdb: pgdriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pgdb)
	if err != nil {
		return fmt.Errorf("concierge/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("concierge/postgres: migration failed: %w", err)
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

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// isUniqueViolation reports a unique index or primary key violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
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
	m := permissionToModel(p)
	if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("permission %s: %w", p.Key(), store.ErrConflict)
		}
		return fmt.Errorf("concierge: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.ID) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", permID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get permission: %w", err)
	}
	return permissionFromModel(m), nil
}

func (s *Store) GetPermissionByKey(ctx context.Context, resource, action string, scope permission.Scope) (*permission.Permission, error) {
	m := new(permissionModel)
	err := s.pgdb.NewSelect(m).
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
	return permissionFromModel(m), nil
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
	if err := s.pgdb.NewSelect(&models).Where("id IN (?)", ids).Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: get permissions: %w", err)
	}
	return permissionsFromModels(models), nil
}

func (s *Store) UpdatePermission(ctx context.Context, p *permission.Permission) error {
	res, err := s.pgdb.NewUpdate((*permissionModel)(nil)).
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
	m := new(permissionModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", permID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
		}
		return fmt.Errorf("concierge: set permission conditions: %w", err)
	}
	m.Conditions = conds
	if _, err := s.pgdb.NewUpdate(m).WherePK().Exec(ctx); err != nil {
		return fmt.Errorf("concierge: set permission conditions: %w", err)
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
		like := containing(filter.Search)
		cs = append(cs, where(`(name ILIKE ? ESCAPE '\' OR resource || '.' || action || '.' || scope ILIKE ? ESCAPE '\')`, like, like))
	}
	return cs
}

func (s *Store) ListPermissions(ctx context.Context, filter *permission.ListFilter) ([]*permission.Permission, error) {
	var models []permissionModel
	q := s.pgdb.NewSelect(&models).OrderExpr("resource ASC, action ASC, scope ASC")
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
	return permissionsFromModels(models), nil
}

func (s *Store) CountPermissions(ctx context.Context, filter *permission.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*permissionModel)(nil))
	for _, c := range permissionClauses(filter) {
		q = q.Where(c.expr, c.args...)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count permissions: %w", err)
	}
	return count, nil
}

func permissionsFromModels(models []permissionModel) []*permission.Permission {
	result := make([]*permission.Permission, len(models))
	for i := range models {
		result[i] = permissionFromModel(&models[i])
	}
	return result
}

// ──────────────────────────────────────────────────
// Role operations
// ──────────────────────────────────────────────────

func (s *Store) CreateRole(ctx context.Context, r *role.Role) error {
	m := roleToModel(r)
	if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID id.ID) (*role.Role, error) {
	m := new(roleModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", roleID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get role: %w", err)
	}
	return roleFromModel(m), nil
}

func (s *Store) GetRoleByName(ctx context.Context, organizationID, propertyID, name string) (*role.Role, error) {
	m := new(roleModel)
	err := s.pgdb.NewSelect(m).
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
	return roleFromModel(m), nil
}

func (s *Store) UpdateRole(ctx context.Context, r *role.Role) error {
	res, err := s.pgdb.NewUpdate(roleToModel(r)).WherePK().Exec(ctx)
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
		like := containing(filter.Search)
		cs = append(cs, where(`(name ILIKE ? ESCAPE '\' OR description ILIKE ? ESCAPE '\')`, like, like))
	}
	return cs
}

func (s *Store) ListRoles(ctx context.Context, filter *role.ListFilter) ([]*role.Role, error) {
	var models []roleModel
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
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
		result[i] = roleFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountRoles(ctx context.Context, filter *role.ListFilter) (int64, error) {
	q := s.pgdb.NewSelect((*roleModel)(nil))
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
	err := s.pgdb.NewSelect(&models).
		Where("role_id = ?", roleID.String()).
		OrderExpr("permission_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list role permissions: %w", err)
	}
	result := make([]*role.Permission, len(models))
	for i := range models {
		result[i] = rolePermissionFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID id.ID, perms []*role.Permission) error {
	tx, err := s.pgdb.BeginTxQuery(ctx, nil)
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
			models[i] = rolePermissionToModel(roleID, rp)
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
	m := assignmentToModel(a)
	if _, err := s.pgdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, assignmentID id.ID) (*assignment.Assignment, error) {
	m := new(assignmentModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", assignmentID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("assignment %s: %w", assignmentID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(m), nil
}

func (s *Store) GetAssignmentByUserRole(ctx context.Context, userID string, roleID id.ID) (*assignment.Assignment, error) {
	m := new(assignmentModel)
	err := s.pgdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(m), nil
}

func (s *Store) UpdateAssignment(ctx context.Context, a *assignment.Assignment) error {
	res, err := s.pgdb.NewUpdate(assignmentToModel(a)).WherePK().Exec(ctx)
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
	q := s.pgdb.NewSelect(&models).OrderExpr("assigned_at ASC, id ASC")
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
	return assignmentsFromModels(models), nil
}

func (s *Store) ListActiveAssignmentsForUser(ctx context.Context, userID string, now time.Time) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	err := s.pgdb.NewSelect(&models).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		OrderExpr("assigned_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list active assignments: %w", err)
	}
	return assignmentsFromModels(models), nil
}

func (s *Store) ListUsersWithRole(ctx context.Context, roleID id.ID) ([]string, error) {
	var models []assignmentModel
	err := s.pgdb.NewSelect(&models).
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
	count, err := s.pgdb.NewSelect((*assignmentModel)(nil)).
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
	q := s.pgdb.NewSelect(&models).
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
	return assignmentsFromModels(models), nil
}

func assignmentsFromModels(models []assignmentModel) []*assignment.Assignment {
	result := make([]*assignment.Assignment, len(models))
	for i := range models {
		result[i] = assignmentFromModel(&models[i])
	}
	return result
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
		if _, err := s.pgdb.NewUpdate(grantToModel(g)).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
		if _, err := s.pgdb.NewInsert(grantToModel(g)).Exec(ctx); err != nil {
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
	err := s.pgdb.NewSelect(m).
		Where("user_id = ?", userID).
		Where("permission_id = ?", permID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get grant: %w", err)
	}
	return grantFromModel(m), nil
}

func (s *Store) DeleteGrant(ctx context.Context, userID string, permID id.ID) error {
	res, err := s.pgdb.NewDelete((*grantModel)(nil)).
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
	err := s.pgdb.NewSelect(&models).
		Where("user_id = ?", userID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list grants: %w", err)
	}
	result := make([]*grant.Grant, len(models))
	for i := range models {
		result[i] = grantFromModel(&models[i])
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// History operations
// ──────────────────────────────────────────────────

func (s *Store) RecordEntry(ctx context.Context, e *history.Entry) error {
	if _, err := s.pgdb.NewInsert(historyToModel(e)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("history entry %s: %w", e.ID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: record history: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*history.Entry, error) {
	m := new(historyModel)
	err := s.pgdb.NewSelect(m).Where("id = ?", entryID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("history entry %s: %w", entryID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get history entry: %w", err)
	}
	return historyFromModel(m), nil
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
	order := "created_at DESC, id DESC"
	if filter.Ascending {
		order = "created_at ASC, id ASC"
	}
	q := s.pgdb.NewSelect(&models).OrderExpr(order)
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
		result[i] = historyFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountEntries(ctx context.Context, filter *history.Filter) (int64, error) {
	q := s.pgdb.NewSelect((*historyModel)(nil))
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
	grouped := s.pgdb.NewSelect((*historyModel)(nil)).
		ColumnExpr("action").
		ColumnExpr("source").
		ColumnExpr("COUNT(*)").
		GroupExpr("action, source")
	distinct := s.pgdb.NewSelect((*historyModel)(nil)).
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
	rows, err := s.pgdb.Query(ctx, query, args...)
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
	if err := s.pgdb.QueryRow(ctx, query, args...).Scan(&users, &roles, &admins); err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	sum.UniqueUsers, sum.UniqueRoles, sum.UniqueAdmins = int(users), int(roles), int(admins)
	return sum, nil
}

// ──────────────────────────────────────────────────
// Audit log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAuditEntry(ctx context.Context, e *auditlog.Entry) error {
	if _, err := s.pgdb.NewInsert(auditToModel(e)).Exec(ctx); err != nil {
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
	q := s.pgdb.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
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
		result[i] = auditFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountAuditEntries(ctx context.Context, filter *auditlog.QueryFilter) (int64, error) {
	q := s.pgdb.NewSelect((*auditModel)(nil))
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
	res, err := s.pgdb.NewDelete((*auditModel)(nil)).
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
