package concierge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/concierge/auditlog"
	"github.com/xraph/concierge/history"
	"github.com/xraph/concierge/id"
	"github.com/xraph/concierge/role"
)

// SystemActorID is recorded as the actor of changes made by in-process code
// acting through WithSystemActor, such as scheduled expiry.
const SystemActorID = "system"

// caller is the actor of a mutation. A trusted caller is in-process code
// that opted in with WithSystemActor and is not tenant restricted.
type caller struct {
	Subject
	trusted bool
}

func systemCaller() caller {
	return caller{Subject: Subject{ID: SystemActorID}, trusted: true}
}

// callerFrom resolves the actor of an administrative call. A context with
// neither a subject nor the system actor marker is refused.
func callerFrom(ctx context.Context) (caller, error) {
	if s, ok := SubjectFromContext(ctx); ok && s.ID != "" {
		return caller{Subject: s}, nil
	}
	if isSystemActor(ctx) {
		return systemCaller(), nil
	}
	return caller{}, fmt.Errorf("concierge: %w", ErrUnauthenticated)
}

// canAccess reports whether the caller may act on the organization.
func (c caller) canAccess(organizationID string) bool {
	return c.trusted || c.IsSuperuser() || c.OrganizationID == organizationID
}

func (c caller) checkTenant(organizationID string) error {
	if !c.canAccess(organizationID) {
		return fmt.Errorf("concierge: organization %s: %w", organizationID, ErrTenantScope)
	}
	return nil
}

func (c caller) snapshot() history.UserSnapshot {
	return history.UserSnapshot{ID: c.ID, Name: c.Name, Email: c.Email}
}

func roleSnapshot(r *role.Role) history.RoleSnapshot {
	return history.RoleSnapshot{
		ID:             r.ID,
		Name:           r.Name,
		OrganizationID: r.OrganizationID,
		PropertyID:     r.PropertyID,
		Priority:       r.Priority,
	}
}

// record appends a history entry, stamping ID, time and request provenance.
func (e *Engine) record(ctx context.Context, entry *history.Entry) error {
	info := requestInfoFromContext(ctx)
	entry.ID = id.NewHistoryEntryID()
	entry.CreatedAt = e.now().UTC()
	entry.AuditTrail = history.AuditTrail{
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		SessionID: info.SessionID,
		RequestID: info.RequestID,
	}
	if entry.Context.Source == "" {
		entry.Context.Source = history.SourceManual
	}
	if err := e.store.RecordEntry(ctx, entry); err != nil {
		return fmt.Errorf("concierge: record history: %w", err)
	}
	if e.plugins != nil {
		e.plugins.EmitHistoryRecorded(ctx, entry)
	}
	return nil
}

// recordRoleChange appends a role-level MODIFIED entry.
func (e *Engine) recordRoleChange(ctx context.Context, c caller, r *role.Role, reason string, changes map[string]any) error {
	return e.record(ctx, &history.Entry{
		OrganizationID: r.OrganizationID,
		PropertyID:     r.PropertyID,
		RoleID:         r.ID,
		AdminID:        c.ID,
		Action:         history.ActionModified,
		Role:           roleSnapshot(r),
		Admin:          c.snapshot(),
		Context: history.Context{
			Source:  history.SourceManual,
			Reason:  reason,
			Changes: changes,
		},
	})
}

// audit writes to the administrative audit sink. The sink is a side
// channel: failures are logged and never fail the operation.
func (e *Engine) audit(ctx context.Context, c caller, organizationID, action, targetType, targetID, detail string, metadata map[string]any) {
	info := requestInfoFromContext(ctx)
	entry := &auditlog.Entry{
		ID:             id.NewAuditEntryID(),
		OrganizationID: organizationID,
		ActorID:        c.ID,
		Action:         action,
		TargetType:     targetType,
		TargetID:       targetID,
		Detail:         detail,
		IPAddress:      info.IPAddress,
		UserAgent:      info.UserAgent,
		RequestID:      info.RequestID,
		Metadata:       metadata,
		CreatedAt:      e.now().UTC(),
	}
	if err := e.store.CreateAuditEntry(ctx, entry); err != nil {
		e.logger.Warn("concierge: audit write failed",
			slog.String("action", action),
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
	}
}

// AuditPage is one page of the administrative audit log.
type AuditPage struct {
	Entries []*auditlog.Entry `json:"entries"`
	Total   int64             `json:"total"`
}

// ListAuditLog returns administrative actions, newest first. Callers other
// than a superuser only see their own organization.
func (e *Engine) ListAuditLog(ctx context.Context, filter *auditlog.QueryFilter) (*AuditPage, error) {
	f := auditlog.QueryFilter{}
	if filter != nil {
		f = *filter
	}
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.trusted && !c.IsSuperuser() {
		if f.OrganizationID != "" && f.OrganizationID != c.OrganizationID {
			return nil, c.checkTenant(f.OrganizationID)
		}
		f.OrganizationID = c.OrganizationID
	}
	f.Limit = e.config.historyLimit(f.Limit)

	entries, err := e.store.ListAuditEntries(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("concierge: list audit log: %w", err)
	}
	count := f
	count.Limit, count.Offset = 0, 0
	total, err := e.store.CountAuditEntries(ctx, &count)
	if err != nil {
		return nil, fmt.Errorf("concierge: count audit log: %w", err)
	}
	return &AuditPage{Entries: entries, Total: total}, nil
}

// PurgeAuditLog deletes audit entries older than RetentionDays. Only
// trusted callers and superusers may purge.
func (e *Engine) PurgeAuditLog(ctx context.Context) (int64, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return 0, err
	}
	if !c.trusted && !c.IsSuperuser() {
		return 0, fmt.Errorf("concierge: purge audit log: %w", ErrForbidden)
	}
	if e.config.RetentionDays <= 0 {
		return 0, nil
	}
	before := e.now().Add(-time.Duration(e.config.RetentionDays) * 24 * time.Hour)
	n, err := e.store.PurgeAuditEntries(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("concierge: purge audit log: %w", err)
	}
	return n, nil
}

// checkPlatform allows only the system actor and superusers.
func (c caller) checkPlatform() error {
	if c.trusted || c.IsSuperuser() {
		return nil
	}
	return fmt.Errorf("concierge: platform operation: %w", ErrForbidden)
}
