package concierge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// HistoryPage is one page of ledger entries plus a summary over every
// entry the filter matched.
type HistoryPage struct {
	Entries []*history.Entry `json:"entries"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	Summary *history.Summary `json:"summary"`
}

// SearchHistory queries the ledger. Callers other than a superuser are
// restricted to their own organization.
func (e *Engine) SearchHistory(ctx context.Context, filter *history.Filter) (*HistoryPage, error) {
	if filter == nil {
		filter = &history.Filter{}
	}
	if filter.Window != "" {
		if _, ok := filter.Window.Duration(); !ok {
			return nil, fmt.Errorf("concierge: unknown window %q: %w", filter.Window, ErrInvalidRequest)
		}
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("concierge: negative offset: %w", ErrInvalidRequest)
	}
	f := filter.Resolve(e.now())
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.trusted && !c.IsSuperuser() {
		if f.OrganizationID != "" {
			if err := c.checkTenant(f.OrganizationID); err != nil {
				return nil, err
			}
		}
		f.OrganizationID = c.OrganizationID
	}
	f.Limit = e.config.historyLimit(f.Limit)

	entries, err := e.store.SearchEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("concierge: search history: %w", err)
	}
	total, err := e.store.CountEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("concierge: count history: %w", err)
	}
	summary, err := e.store.SummarizeEntries(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("concierge: summarize history: %w", err)
	}
	return &HistoryPage{
		Entries: entries,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		Summary: summary,
	}, nil
}

// GetUserHistory returns the entries concerning one user, newest first.
func (e *Engine) GetUserHistory(ctx context.Context, userID string, limit, offset int) (*HistoryPage, error) {
	return e.SearchHistory(ctx, &history.Filter{UserIDs: []string{userID}, Limit: limit, Offset: offset})
}

// GetRoleHistory returns the entries concerning one role, newest first.
func (e *Engine) GetRoleHistory(ctx context.Context, roleID id.ID, limit, offset int) (*HistoryPage, error) {
	return e.SearchHistory(ctx, &history.Filter{RoleIDs: []id.ID{roleID}, Limit: limit, Offset: offset})
}

// GetAdminActivity returns the changes made by one administrator within a
// named window.
func (e *Engine) GetAdminActivity(ctx context.Context, adminID string, window history.Window, limit, offset int) (*HistoryPage, error) {
	return e.SearchHistory(ctx, &history.Filter{
		AdminIDs: []string{adminID},
		Window:   window,
		Limit:    limit,
		Offset:   offset,
	})
}

// GetHistoryEntry returns one ledger entry.
func (e *Engine) GetHistoryEntry(ctx context.Context, entryID id.ID) (*history.Entry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("concierge: %s: %w", entryID, ErrEntryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("concierge: get history entry: %w", err)
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.checkTenant(entry.OrganizationID); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetAnalytics reports trends, patterns and compliance for one
// organization over the configured lookback.
func (e *Engine) GetAnalytics(ctx context.Context, organizationID string) (*history.Analytics, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if organizationID == "" {
		organizationID = c.OrganizationID
	}
	if organizationID == "" {
		return nil, fmt.Errorf("concierge: analytics: organization is required: %w", ErrInvalidRequest)
	}
	if err := c.checkTenant(organizationID); err != nil {
		return nil, err
	}

	now := e.now()
	after := now.Add(-e.config.AnalyticsLookback)
	entries, err := e.store.SearchEntries(ctx, &history.Filter{
		OrganizationID: organizationID,
		After:          &after,
		Ascending:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("concierge: analytics: %w", err)
	}

	opts := history.AnalyticsOptions{
		Now:                      now,
		Lookback:                 e.config.AnalyticsLookback,
		Location:                 e.config.location(),
		SuspiciousThreshold:      e.config.SuspiciousChangeThreshold,
		SuspiciousWindow:         e.config.SuspiciousWindow,
		BusinessHoursStart:       e.config.BusinessHoursStart,
		BusinessHoursEnd:         e.config.BusinessHoursEnd,
		AfterHoursShareThreshold: e.config.AfterHoursShareThreshold,
		RetentionDays:            e.config.RetentionDays,
	}

	oldest, err := e.store.SearchEntries(ctx, &history.Filter{
		OrganizationID: organizationID,
		Ascending:      true,
		Limit:          1,
	})
	if err != nil {
		return nil, fmt.Errorf("concierge: analytics: %w", err)
	}
	if len(oldest) > 0 {
		at := oldest[0].CreatedAt
		opts.OldestEntryAt = &at
	}
	if e.config.RetentionDays > 0 {
		cutoff := now.Add(-time.Duration(e.config.RetentionDays) * 24 * time.Hour)
		n, err := e.store.CountEntries(ctx, &history.Filter{
			OrganizationID: organizationID,
			Before:         &cutoff,
		})
		if err != nil {
			return nil, fmt.Errorf("concierge: analytics: %w", err)
		}
		opts.EntriesBeyondRetention = n
	}

	a := history.Analyze(entries, opts)
	a.OrganizationID = organizationID
	return a, nil
}

// Rollback compensates a reversible ledger entry: a grant is undone by a
// removal and a removal by a re-assignment. The original entry stays
// untouched; exactly one new entry referencing it is appended.
func (e *Engine) Rollback(ctx context.Context, entryID id.ID, reason string) (*history.Entry, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.trusted && !c.IsSuperuser() && c.LegacyRole != LegacyRoleOrgAdmin {
		return nil, fmt.Errorf("concierge: rollback %s: %w", entryID, ErrRollbackNotAllowed)
	}
	original, err := e.GetHistoryEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !original.Action.Reversible() {
		return nil, fmt.Errorf("concierge: %s is %s: %w", entryID, original.Action, ErrNotReversible)
	}

	ch := change{ctx: history.Context{
		Source:     history.SourceManual,
		Reason:     reason,
		RollbackOf: &original.ID,
	}}
	var (
		r     *role.Role
		entry *history.Entry
	)
	if original.Action.IsGrant() {
		if r, err = e.loadAnyRole(ctx, c, original.RoleID); err != nil {
			return nil, err
		}
		ch.action = history.ActionRemoved
		_, entry, err = e.remove(ctx, c, r, original.UserID, ch)
	} else {
		if r, err = e.loadRole(ctx, c, original.RoleID); err != nil {
			return nil, err
		}
		ch.action = history.ActionAssigned
		in, rerr := e.restoreInput(ctx, original, r)
		if rerr != nil {
			return nil, rerr
		}
		_, entry, err = e.assign(ctx, c, r, in, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("concierge: rollback %s: %w", entryID, err)
	}

	e.audit(ctx, c, original.OrganizationID, auditlog.ActionHistoryRolledBack, "history_entry", original.ID.String(), reason,
		map[string]any{"compensating_entry": entry.ID.String()})
	if e.plugins != nil {
		e.plugins.EmitRolledBack(ctx, original, entry)
	}
	return entry, nil
}

// restoreInput rebuilds the assignment a removal took away, carrying over
// its conditions and expiry. An assignment whose expiry has passed since the
// removal cannot be restored.
func (e *Engine) restoreInput(ctx context.Context, original *history.Entry, r *role.Role) (*AssignInput, error) {
	in := &AssignInput{UserID: original.UserID, RoleID: r.ID}
	prev, err := e.store.GetAssignmentByUserRole(ctx, original.UserID, r.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return in, nil
	case err != nil:
		return nil, fmt.Errorf("concierge: rollback %s: get assignment: %w", original.ID, err)
	}
	if prev.ExpiresAt != nil && !prev.ExpiresAt.After(e.now()) {
		return nil, fmt.Errorf("concierge: rollback %s: assignment expired at %s: %w",
			original.ID, prev.ExpiresAt.UTC().Format(time.RFC3339), ErrNotReversible)
	}
	in.ExpiresAt = prev.ExpiresAt
	in.Conditions = prev.Conditions
	return in, nil
}
