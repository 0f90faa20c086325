// Package store defines the aggregate persistence interface. Each subsystem
// (permission, role, assignment, grant, history, auditlog) defines its own
// store interface and a single backend implements all of them.
// Backends: Memory, SQLite, Postgres and MongoDB.
package store

import (
	"context"
	"errors"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/grant"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/role"
)

// Backend errors. Implementations wrap these so callers can use errors.Is.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// Store is the aggregate persistence interface.
type Store interface {
	permission.Store
	role.Store
	assignment.Store
	grant.Store
	history.Store
	auditlog.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
