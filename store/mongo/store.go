// Package mongo provides a MongoDB implementation of the concierge composite
// store using grove's mongo driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// Collection name constants.
const (
	colPermissions     = "concierge_permissions"
	colRoles           = "concierge_roles"
	colRolePermissions = "concierge_role_permissions"
	colAssignments     = "concierge_assignments"
	colGrants          = "concierge_user_permissions"
	colHistory         = "concierge_role_history"
	colAuditLog        = "concierge_audit_log"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite concierge store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all concierge collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()
	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("concierge/mongo: migrate %s indexes: %w", col, err)
		}
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// containsFold builds a case-insensitive substring match.
func containsFold(sub string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(sub), "$options": "i"}
}

// migrationIndexes returns the index definitions for all concierge collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colPermissions: {
			{
				Keys:    bson.D{{Key: "resource", Value: 1}, {Key: "action", Value: 1}, {Key: "scope", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "key", Value: 1}}},
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
		colRoles: {
			{
				Keys: bson.D{
					{Key: "organization_id", Value: 1},
					{Key: "property_id", Value: 1},
					{Key: "live_name", Value: 1},
				},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"live_name": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "cloned_from_id", Value: 1}}},
		},
		colRolePermissions: {
			{
				Keys:    bson.D{{Key: "role_id", Value: 1}, {Key: "permission_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "permission_id", Value: 1}}},
		},
		colAssignments: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "role_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "role_id", Value: 1}, {Key: "is_active", Value: 1}}},
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colGrants: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "permission_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colHistory: {
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "role_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "admin_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
			{Keys: bson.D{{Key: "rollback_of", Value: 1}}},
		},
		colAuditLog: {
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
}

// ──────────────────────────────────────────────────
// Permission operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePermission(ctx context.Context, p *permission.Permission) error {
	m := permissionToModel(p)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("permission %s: %w", p.Key(), store.ErrConflict)
		}
		return fmt.Errorf("concierge: create permission: %w", err)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, permID id.ID) (*permission.Permission, error) {
	var m permissionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": permID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("permission %s: %w", permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get permission: %w", err)
	}
	return permissionFromModel(&m), nil
}

func (s *Store) GetPermissionByKey(ctx context.Context, resource, action string, scope permission.Scope) (*permission.Permission, error) {
	var m permissionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"resource": resource, "action": action, "scope": string(scope)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("permission %s: %w", permission.Key(resource, action, string(scope)), store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get permission by key: %w", err)
	}
	return permissionFromModel(&m), nil
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
	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"_id": bson.M{"$in": ids}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: get permissions: %w", err)
	}
	return permissionsFromModels(models), nil
}

func (s *Store) UpdatePermission(ctx context.Context, p *permission.Permission) error {
	existing, err := s.GetPermission(ctx, p.ID)
	if err != nil {
		return err
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.Category = p.Category
	existing.UpdatedAt = p.UpdatedAt
	return s.replacePermission(ctx, existing)
}

func (s *Store) SetPermissionConditions(ctx context.Context, permID id.ID, conds []permission.Condition) error {
	existing, err := s.GetPermission(ctx, permID)
	if err != nil {
		return err
	}
	existing.Conditions = conds
	return s.replacePermission(ctx, existing)
}

func (s *Store) replacePermission(ctx context.Context, p *permission.Permission) error {
	m := permissionToModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: update permission: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("permission %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func permissionFilter(filter *permission.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.Resource != "" {
		f["resource"] = filter.Resource
	}
	if filter.Action != "" {
		f["action"] = filter.Action
	}
	if filter.Scope != "" {
		f["scope"] = string(filter.Scope)
	}
	if len(filter.Categories) > 0 {
		f["category"] = bson.M{"$in": filter.Categories}
	}
	if filter.Search != "" {
		f["$or"] = bson.A{
			bson.M{"name": containsFold(filter.Search)},
			bson.M{"key": containsFold(filter.Search)},
		}
	}
	return f
}

func (s *Store) ListPermissions(ctx context.Context, filter *permission.ListFilter) ([]*permission.Permission, error) {
	var models []permissionModel
	q := s.mdb.NewFind(&models).
		Filter(permissionFilter(filter)).
		Sort(bson.D{{Key: "key", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list permissions: %w", err)
	}
	return permissionsFromModels(models), nil
}

func (s *Store) CountPermissions(ctx context.Context, filter *permission.ListFilter) (int64, error) {
	count, err := s.mdb.NewFind((*permissionModel)(nil)).
		Filter(permissionFilter(filter)).
		Count(ctx)
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
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, roleID id.ID) (*role.Role, error) {
	var m roleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": roleID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("role %s: %w", roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get role: %w", err)
	}
	return roleFromModel(&m), nil
}

func (s *Store) GetRoleByName(ctx context.Context, organizationID, propertyID, name string) (*role.Role, error) {
	var m roleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"organization_id": organizationID,
			"property_id":     propertyID,
			"live_name":       name,
		}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("role name %q: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get role by name: %w", err)
	}
	return roleFromModel(&m), nil
}

func (s *Store) UpdateRole(ctx context.Context, r *role.Role) error {
	m := roleToModel(r)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("role name %q: %w", r.Name, store.ErrConflict)
		}
		return fmt.Errorf("concierge: update role: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("role %s: %w", r.ID, store.ErrNotFound)
	}
	return nil
}

func roleFilter(filter *role.ListFilter) bson.M {
	f := bson.M{}
	if filter == nil || !filter.IncludeDeleted {
		f["deleted_at"] = nil
	}
	if filter == nil {
		return f
	}
	if filter.OrganizationIDs != nil {
		f["organization_id"] = bson.M{"$in": filter.OrganizationIDs}
	}
	if filter.PropertyID != nil {
		f["property_id"] = *filter.PropertyID
	}
	if filter.IsSystem != nil {
		f["is_system"] = *filter.IsSystem
	}
	if filter.ClonedFromID != nil {
		f["cloned_from_id"] = filter.ClonedFromID.String()
	}
	if filter.Search != "" {
		f["$or"] = bson.A{
			bson.M{"name": containsFold(filter.Search)},
			bson.M{"description": containsFold(filter.Search)},
		}
	}
	return f
}

func (s *Store) ListRoles(ctx context.Context, filter *role.ListFilter) ([]*role.Role, error) {
	var models []roleModel
	q := s.mdb.NewFind(&models).
		Filter(roleFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*roleModel)(nil)).
		Filter(roleFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count roles: %w", err)
	}
	return count, nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID id.ID) ([]*role.Permission, error) {
	var models []rolePermissionModel
	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"role_id": roleID.String()}).
		Sort(bson.D{{Key: "permission_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list role permissions: %w", err)
	}
	result := make([]*role.Permission, len(models))
	for i := range models {
		result[i] = rolePermissionFromModel(&models[i])
	}
	return result, nil
}

// SetRolePermissions replaces the join documents for a role inside a
// multi-document transaction, so readers never see a role with a partial
// permission set. Transactions need a replica set or sharded cluster.
func (s *Store) SetRolePermissions(ctx context.Context, roleID id.ID, perms []*role.Permission) error {
	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return fmt.Errorf("concierge: set role permissions: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	models := make([]rolePermissionModel, len(perms))
	for i, rp := range perms {
		models[i] = rolePermissionToModel(roleID, rp)
	}
	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		if _, err := s.mdb.NewDelete((*rolePermissionModel)(nil)).
			Many().
			Filter(bson.M{"role_id": roleID.String()}).
			Exec(txCtx); err != nil {
			return nil, fmt.Errorf("clear: %w", err)
		}
		if len(models) == 0 {
			return nil, nil
		}
		if _, err := s.mdb.NewInsert(&models).Exec(txCtx); err != nil {
			return nil, fmt.Errorf("insert: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("concierge: set role permissions: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Assignment operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAssignment(ctx context.Context, a *assignment.Assignment) error {
	m := assignmentToModel(a)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: create assignment: %w", err)
	}
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, assignmentID id.ID) (*assignment.Assignment, error) {
	var m assignmentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": assignmentID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("assignment %s: %w", assignmentID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(&m), nil
}

func (s *Store) GetAssignmentByUserRole(ctx context.Context, userID string, roleID id.ID) (*assignment.Assignment, error) {
	var m assignmentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID, "role_id": roleID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get assignment: %w", err)
	}
	return assignmentFromModel(&m), nil
}

func (s *Store) UpdateAssignment(ctx context.Context, a *assignment.Assignment) error {
	m := assignmentToModel(a)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: update assignment: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("assignment %s: %w", a.ID, store.ErrNotFound)
	}
	return nil
}

var assignmentOrder = bson.D{{Key: "assigned_at", Value: 1}, {Key: "_id", Value: 1}}

func (s *Store) ListAssignments(ctx context.Context, filter *assignment.ListFilter) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	f := bson.M{}
	if filter != nil {
		if filter.UserID != "" {
			f["user_id"] = filter.UserID
		}
		if filter.RoleID != nil {
			f["role_id"] = filter.RoleID.String()
		}
		if filter.OrganizationID != "" {
			f["organization_id"] = filter.OrganizationID
		}
		if filter.ActiveOnly {
			f["is_active"] = true
		}
	}
	q := s.mdb.NewFind(&models).
		Filter(f).
		Sort(assignmentOrder)
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("concierge: list assignments: %w", err)
	}
	return assignmentsFromModels(models), nil
}

func (s *Store) ListActiveAssignmentsForUser(ctx context.Context, userID string, now time.Time) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"user_id":   userID,
			"is_active": true,
			"$or": bson.A{
				bson.M{"expires_at": nil},
				bson.M{"expires_at": bson.M{"$gt": now}},
			},
		}).
		Sort(assignmentOrder).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: list active assignments: %w", err)
	}
	return assignmentsFromModels(models), nil
}

func (s *Store) ListUsersWithRole(ctx context.Context, roleID id.ID) ([]string, error) {
	var models []assignmentModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"role_id": roleID.String(), "is_active": true}).
		Sort(bson.D{{Key: "user_id", Value: 1}}).
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
	count, err := s.mdb.NewFind((*assignmentModel)(nil)).
		Filter(bson.M{"role_id": roleID.String(), "is_active": true}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count active assignments: %w", err)
	}
	return count, nil
}

func (s *Store) ListExpiredAssignments(ctx context.Context, now time.Time, limit int) ([]*assignment.Assignment, error) {
	var models []assignmentModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"is_active": true,
			"expires_at": bson.M{
				"$ne":  nil,
				"$lte": now,
			},
		}).
		Sort(assignmentOrder)
	if limit > 0 {
		q = q.Limit(int64(limit))
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
		m := grantToModel(g)
		if _, err := s.mdb.NewUpdate(m).Filter(bson.M{"_id": m.ID}).Exec(ctx); err != nil {
			return fmt.Errorf("concierge: upsert grant: %w", err)
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
		if _, err := s.mdb.NewInsert(grantToModel(g)).Exec(ctx); err != nil {
			if mongod.IsDuplicateKeyError(err) {
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
	var m grantModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID, "permission_id": permID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get grant: %w", err)
	}
	return grantFromModel(&m), nil
}

func (s *Store) DeleteGrant(ctx context.Context, userID string, permID id.ID) error {
	res, err := s.mdb.NewDelete((*grantModel)(nil)).
		Filter(bson.M{"user_id": userID, "permission_id": permID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("concierge: delete grant: %w", err)
	}
	if res.DeletedCount() == 0 {
		return fmt.Errorf("grant %s/%s: %w", userID, permID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]*grant.Grant, error) {
	var models []grantModel
	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
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
	if _, err := s.mdb.NewInsert(historyToModel(e)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("history entry %s: %w", e.ID, store.ErrConflict)
		}
		return fmt.Errorf("concierge: record history: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.ID) (*history.Entry, error) {
	var m historyModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("history entry %s: %w", entryID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("concierge: get history entry: %w", err)
	}
	return historyFromModel(&m), nil
}

func historyFilter(filter *history.Filter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.After != nil || filter.Before != nil {
		window := bson.M{}
		if filter.After != nil {
			window["$gte"] = *filter.After
		}
		if filter.Before != nil {
			window["$lt"] = *filter.Before
		}
		f["created_at"] = window
	}
	if filter.OrganizationID != "" {
		f["organization_id"] = filter.OrganizationID
	}
	if len(filter.UserIDs) > 0 {
		f["user_id"] = bson.M{"$in": filter.UserIDs}
	}
	if len(filter.RoleIDs) > 0 {
		f["role_id"] = bson.M{"$in": filter.RoleIDStrings()}
	}
	if len(filter.AdminIDs) > 0 {
		f["admin_id"] = bson.M{"$in": filter.AdminIDs}
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		f["action"] = bson.M{"$in": actions}
	}
	if len(filter.Sources) > 0 {
		sources := make([]string, len(filter.Sources))
		for i, src := range filter.Sources {
			sources[i] = string(src)
		}
		f["source"] = bson.M{"$in": sources}
	}
	if filter.BatchID != "" {
		f["batch_id"] = filter.BatchID
	}
	if filter.RollbackOf != nil {
		f["rollback_of"] = filter.RollbackOf.String()
	}
	if filter.Search != "" {
		f["search_text"] = bson.M{"$regex": regexp.QuoteMeta(strings.ToLower(filter.Search))}
	}
	return f
}

func (s *Store) SearchEntries(ctx context.Context, filter *history.Filter) ([]*history.Entry, error) {
	if filter == nil {
		filter = &history.Filter{}
	}
	dir := -1
	if filter.Ascending {
		dir = 1
	}
	var models []historyModel
	q := s.mdb.NewFind(&models).
		Filter(historyFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}})
	if filter.Limit > 0 {
		q = q.Limit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*historyModel)(nil)).
		Filter(historyFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count history: %w", err)
	}
	return count, nil
}

// SummarizeEntries aggregates matching entries with $group stages.
func (s *Store) SummarizeEntries(ctx context.Context, filter *history.Filter) (*history.Summary, error) {
	match := historyFilter(filter)

	var groups []struct {
		Key struct {
			Action string `bson:"action"`
			Source string `bson:"source"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	err := s.mdb.NewAggregate(colHistory).
		Match(match).
		Group(bson.M{
			"_id":   bson.M{"action": "$action", "source": "$source"},
			"count": bson.M{"$sum": 1},
		}).
		Scan(ctx, &groups)
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	sum := history.NewSummary()
	for _, g := range groups {
		sum.Add(history.Action(g.Key.Action), history.Source(g.Key.Source), g.Count)
	}

	var distinct []struct {
		Users  int `bson:"users"`
		Roles  int `bson:"roles"`
		Admins int `bson:"admins"`
	}
	blank := bson.A{"", nil}
	err = s.mdb.NewAggregate(colHistory).
		Match(match).
		Group(bson.M{
			"_id":    nil,
			"users":  bson.M{"$addToSet": "$user_id"},
			"roles":  bson.M{"$addToSet": "$role_id"},
			"admins": bson.M{"$addToSet": "$admin_id"},
		}).
		Project(bson.M{
			"users":  bson.M{"$size": bson.M{"$setDifference": bson.A{"$users", blank}}},
			"roles":  bson.M{"$size": bson.M{"$setDifference": bson.A{"$roles", blank}}},
			"admins": bson.M{"$size": bson.M{"$setDifference": bson.A{"$admins", blank}}},
		}).
		Scan(ctx, &distinct)
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	if len(distinct) > 0 {
		sum.UniqueUsers, sum.UniqueRoles, sum.UniqueAdmins = distinct[0].Users, distinct[0].Roles, distinct[0].Admins
	}
	return sum, nil
}

// ──────────────────────────────────────────────────
// Audit log operations
// ──────────────────────────────────────────────────

func (s *Store) CreateAuditEntry(ctx context.Context, e *auditlog.Entry) error {
	if _, err := s.mdb.NewInsert(auditToModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("concierge: create audit entry: %w", err)
	}
	return nil
}

func auditFilter(filter *auditlog.QueryFilter) bson.M {
	f := bson.M{}
	if filter == nil {
		return f
	}
	if filter.OrganizationID != "" {
		f["organization_id"] = filter.OrganizationID
	}
	if filter.ActorID != "" {
		f["actor_id"] = filter.ActorID
	}
	if filter.Action != "" {
		f["action"] = filter.Action
	}
	if filter.TargetType != "" {
		f["target_type"] = filter.TargetType
	}
	if filter.TargetID != "" {
		f["target_id"] = filter.TargetID
	}
	if filter.After != nil || filter.Before != nil {
		window := bson.M{}
		if filter.After != nil {
			window["$gte"] = *filter.After
		}
		if filter.Before != nil {
			window["$lt"] = *filter.Before
		}
		f["created_at"] = window
	}
	return f
}

func (s *Store) ListAuditEntries(ctx context.Context, filter *auditlog.QueryFilter) ([]*auditlog.Entry, error) {
	var models []auditModel
	q := s.mdb.NewFind(&models).
		Filter(auditFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*auditModel)(nil)).
		Filter(auditFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: count audit entries: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeAuditEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*auditModel)(nil)).
		Many().
		Filter(bson.M{"created_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("concierge: purge audit entries: %w", err)
	}
	return res.DeletedCount(), nil
}
