package auditlog

import (
	"context"
	"time"
)

// Store defines persistence operations for the audit log.
type Store interface {
	// CreateAuditEntry persists a new entry.
	CreateAuditEntry(ctx context.Context, e *Entry) error

	// ListAuditEntries returns entries matching the filter, newest first.
	ListAuditEntries(ctx context.Context, filter *QueryFilter) ([]*Entry, error)

	// CountAuditEntries returns the number of entries matching the filter.
	CountAuditEntries(ctx context.Context, filter *QueryFilter) (int64, error)

	// PurgeAuditEntries removes entries created before the given time.
	PurgeAuditEntries(ctx context.Context, before time.Time) (int64, error)
}
