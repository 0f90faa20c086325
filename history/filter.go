package history

import (
	"slices"
	"strings"
	"time"

	"github.com/xraph/concierge/id"
)

// Window is a named lookback period.
type Window string

const (
	WindowDay     Window = "24h"
	WindowWeek    Window = "7d"
	WindowMonth   Window = "30d"
	WindowQuarter Window = "90d"
)

// Duration returns the length of the window.
func (w Window) Duration() (time.Duration, bool) {
	switch w {
	case WindowDay:
		return 24 * time.Hour, true
	case WindowWeek:
		return 7 * 24 * time.Hour, true
	case WindowMonth:
		return 30 * 24 * time.Hour, true
	case WindowQuarter:
		return 90 * 24 * time.Hour, true
	}
	return 0, false
}

// Filter selects history entries. Empty fields do not restrict; set fields
// combine with AND, and values within a set combine with OR.
type Filter struct {
	After          *time.Time `json:"after,omitempty"`
	Before         *time.Time `json:"before,omitempty"`
	Window         Window     `json:"window,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	UserIDs        []string   `json:"user_ids,omitempty"`
	RoleIDs        []id.ID    `json:"role_ids,omitempty"`
	AdminIDs       []string   `json:"admin_ids,omitempty"`
	Actions        []Action   `json:"actions,omitempty"`
	Sources        []Source   `json:"sources,omitempty"`
	Search         string     `json:"search,omitempty"`
	BatchID        string     `json:"batch_id,omitempty"`
	RollbackOf     *id.ID     `json:"rollback_of,omitempty"`
	Ascending      bool       `json:"ascending,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

// Resolve returns a copy of f with a named Window converted into an After
// bound relative to now. An explicit After wins over the window.
func (f *Filter) Resolve(now time.Time) *Filter {
	out := *f
	if out.After == nil {
		if d, ok := out.Window.Duration(); ok {
			after := now.Add(-d)
			out.After = &after
		}
	}
	out.Window = ""
	return &out
}

// RoleIDStrings returns the role ids as strings, for query builders.
func (f *Filter) RoleIDStrings() []string {
	out := make([]string, 0, len(f.RoleIDs))
	for _, r := range f.RoleIDs {
		out = append(out, r.String())
	}
	return out
}

// Matches reports whether e satisfies the resolved filter. Backends that
// cannot push every predicate down use it to post-filter.
func (f *Filter) Matches(e *Entry) bool {
	if f.After != nil && e.CreatedAt.Before(*f.After) {
		return false
	}
	if f.Before != nil && !e.CreatedAt.Before(*f.Before) {
		return false
	}
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if len(f.UserIDs) > 0 && !slices.Contains(f.UserIDs, e.UserID) {
		return false
	}
	if len(f.RoleIDs) > 0 && !slices.Contains(f.RoleIDStrings(), e.RoleID.String()) {
		return false
	}
	if len(f.AdminIDs) > 0 && !slices.Contains(f.AdminIDs, e.AdminID) {
		return false
	}
	if len(f.Actions) > 0 && !slices.Contains(f.Actions, e.Action) {
		return false
	}
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, e.Context.Source) {
		return false
	}
	if f.BatchID != "" && e.Context.BatchID != f.BatchID {
		return false
	}
	if f.RollbackOf != nil && (e.Context.RollbackOf == nil || !e.Context.RollbackOf.Equal(*f.RollbackOf)) {
		return false
	}
	if f.Search != "" && !matchesSearch(e, f.Search) {
		return false
	}
	return true
}

// SearchFields returns the denormalized text a free-text search runs over.
func SearchFields(e *Entry) []string {
	return []string{
		e.User.Name, e.User.Email,
		e.Role.Name,
		e.Admin.Name, e.Admin.Email,
		e.Context.Reason,
	}
}

func matchesSearch(e *Entry, q string) bool {
	q = strings.ToLower(q)
	for _, field := range SearchFields(e) {
		if field != "" && strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
