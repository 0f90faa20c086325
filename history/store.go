package history

import (
	"context"

	"github.com/xraph/concierge/id"
)

// Store persists the ledger. It is append-only: there is no update or
// delete operation.
type Store interface {
	// RecordEntry appends an entry.
	RecordEntry(ctx context.Context, e *Entry) error

	// GetEntry retrieves an entry by ID.
	GetEntry(ctx context.Context, entryID id.ID) (*Entry, error)

	// SearchEntries returns entries matching a resolved filter, newest first
	// unless Ascending is set. A non-positive Limit returns every match.
	SearchEntries(ctx context.Context, filter *Filter) ([]*Entry, error)

	// CountEntries returns the number of entries matching a resolved filter.
	CountEntries(ctx context.Context, filter *Filter) (int64, error)

	// SummarizeEntries aggregates every entry matching a resolved filter,
	// ignoring Limit and Offset.
	SummarizeEntries(ctx context.Context, filter *Filter) (*Summary, error)
}
