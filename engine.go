package concierge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/concierge/assignment"
	"github.com/xraph/concierge/permission"
	"github.com/xraph/concierge/plugin"
	"github.com/xraph/concierge/role"
	"github.com/xraph/concierge/store"
)

// Cross-organization access permission required of external users acting
// outside their home organization.
const (
	CrossOrgResource = "organization"
	CrossOrgAction   = "access"
	CrossOrgScope    = string(permission.ScopeExternal)
)

const evaluationErrorPrefix = "evaluation error: "

// Engine evaluates permissions and manages custom roles, assignments, user
// overrides and the role history ledger.
type Engine struct {
	store      store.Store
	cache      Cache
	conditions *Conditions
	legacy     *LegacyMapper
	resolver   SubjectResolver
	plugins    *plugin.Registry
	logger     *slog.Logger
	config     Config
	now        func() time.Time

	// catalogReady latches once the catalog has been seen non-empty.
	catalogReady atomic.Bool
}

// NewEngine creates a new engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: slog.Default(),
		config: DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("concierge: store is required")
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.conditions == nil {
		e.conditions = DefaultConditions()
	}
	if e.legacy == nil {
		if e.config.LegacyRoles != nil {
			m, err := NewLegacyMapper(e.config.LegacyRoles)
			if err != nil {
				return nil, err
			}
			e.legacy = m
		} else {
			e.legacy = DefaultLegacyMapper()
		}
	}
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Start performs any startup initialization.
func (e *Engine) Start(_ context.Context) error { return nil }

// Stop notifies plugins of shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	if e.plugins != nil {
		e.plugins.EmitShutdown(ctx)
	}
	return nil
}

// Evaluate decides whether the subject may perform the request. It never
// returns an error and never panics: failures degrade to a deny decision
// whose reason describes the failure.
func (e *Engine) Evaluate(ctx context.Context, req *EvaluateRequest) (d *Decision) {
	start := time.Now()
	if req == nil {
		return &Decision{Source: SourceValidation, Reason: "empty request"}
	}
	r := *req
	if r.Context.OrganizationID == "" {
		r.Context.OrganizationID = scopeFromContext(ctx).organizationID
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("concierge: evaluation panic",
				slog.String("subject_id", r.SubjectID),
				slog.String("permission", r.Key()),
				slog.Any("panic", p),
			)
			d = &Decision{Source: SourceDefault, Reason: evaluationErrorPrefix + fmt.Sprint(p)}
		}
		d.Permission = r.Key()
		d.EvalTimeNs = time.Since(start).Nanoseconds()
		if e.plugins != nil {
			e.plugins.EmitAfterEvaluate(ctx, &r, d)
		}
	}()

	if e.plugins != nil {
		e.plugins.EmitBeforeEvaluate(ctx, &r)
	}
	return e.evaluate(ctx, &r)
}

// Can reports whether the subject may perform action on resource at scope.
func (e *Engine) Can(ctx context.Context, subjectID, resource, action, scope string, ec EvalContext) bool {
	return e.Evaluate(ctx, &EvaluateRequest{
		SubjectID: subjectID,
		Resource:  resource,
		Action:    action,
		Scope:     scope,
		Context:   ec,
	}).Allowed
}

// Enforce returns ErrAccessDenied when the request is denied.
func (e *Engine) Enforce(ctx context.Context, req *EvaluateRequest) error {
	d := e.Evaluate(ctx, req)
	if !d.Allowed {
		return fmt.Errorf("%w: %s (%s: %s)", ErrAccessDenied, d.Permission, d.Source, d.Reason)
	}
	return nil
}

// evaluation carries the state of one evaluation.
type evaluation struct {
	req     *EvaluateRequest
	key     CacheKey
	now     time.Time
	subject *Subject
	in      *ConditionInput
	checked []string
	// failure is the reason of the last failed condition, reported when
	// nothing grants.
	failure string
}

func (ev *evaluation) noteConditions(res ConditionResult) {
	ev.checked = append(ev.checked, res.Checked...)
	if !res.Passed {
		ev.failure = res.Reason
	}
}

func (e *Engine) evaluate(ctx context.Context, req *EvaluateRequest) *Decision {
	if req.SubjectID == "" || req.Resource == "" || req.Action == "" || req.Scope == "" {
		return &Decision{Source: SourceValidation, Reason: "subject, resource, action and scope are required"}
	}
	ev := &evaluation{
		req: req,
		key: cacheKeyFor(scopeFromContext(ctx).appID, req),
		now: e.now(),
	}

	// 1. Catalog not provisioned: fail closed.
	ready, err := e.catalogProvisioned(ctx)
	if err != nil {
		return e.failed(req, err)
	}
	if !ready {
		return &Decision{Source: SourceLegacy, Reason: "permission catalog unavailable"}
	}

	subject, err := e.subjectFor(ctx, req.SubjectID)
	if err != nil {
		return e.failed(req, err)
	}
	ev.subject = subject
	ev.in = &ConditionInput{Subject: *subject, Context: req.Context, Now: ev.now}

	// 2. Platform superuser.
	if subject.IsSuperuser() {
		return e.conclude(ctx, ev, true, SourceRole, "platform superuser")
	}

	// 3. External user outside the home organization.
	if outsideHomeOrg(subject, req.Context.OrganizationID) {
		ok, err := e.hasCrossOrgGrant(ctx, ev)
		if err != nil {
			return e.failed(req, err)
		}
		if !ok {
			return e.conclude(ctx, ev, false, SourceValidation,
				"external user requires "+permission.Key(CrossOrgResource, CrossOrgAction, CrossOrgScope)+
					" for organization "+req.Context.OrganizationID)
		}
	}

	// 4. Cache.
	if e.cache != nil {
		if entry, ok := e.cache.Get(ctx, ev.key); ok && entry.Live(ev.now) {
			return &Decision{
				Allowed:    entry.Allowed,
				Reason:     entry.Reason,
				Source:     SourceCached,
				TTL:        entry.ExpiresAt.Sub(ev.now),
				Conditions: entry.Conditions,
			}
		}
	}

	// 5. Resolve the permission.
	perm, err := e.store.GetPermissionByKey(ctx, req.Resource, req.Action, permission.Scope(req.Scope))
	if errors.Is(err, store.ErrNotFound) {
		return e.conclude(ctx, ev, false, SourceDefault, "permission "+req.Key()+" does not exist")
	}
	if err != nil {
		return e.failed(req, err)
	}

	// 6. Legacy role patterns win before anything more specific is consulted.
	if p, ok := e.legacy.Match(subject.LegacyRole, subject.UserType, perm.Resource, perm.Action, string(perm.Scope)); ok {
		res := e.conditions.Check(ctx, perm.Conditions, ev.in)
		ev.noteConditions(res)
		if res.Passed {
			return e.conclude(ctx, ev, true, SourceRole,
				fmt.Sprintf("legacy role %s matches %s", subject.LegacyRole, p))
		}
	}

	// An explicit user deny beats every role-derived grant.
	override, err := e.store.GetGrant(ctx, subject.ID, perm.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		override = nil
	case err != nil:
		return e.failed(req, err)
	}
	if override != nil && !override.Granted {
		return e.conclude(ctx, ev, false, SourceUser, "permission explicitly denied for user")
	}

	// 7. Custom roles.
	granted, reason, err := e.roleGrants(ctx, ev, perm)
	if err != nil {
		return e.failed(req, err)
	}
	if granted {
		return e.conclude(ctx, ev, true, SourceRole, reason)
	}

	// 8. Direct user grant.
	if override != nil {
		res := e.conditions.Check(ctx, effectiveConditions(override.Conditions, perm.Conditions), ev.in)
		ev.noteConditions(res)
		if res.Passed {
			return e.conclude(ctx, ev, true, SourceUser, "permission granted directly to user")
		}
	}

	// 9. Default deny.
	if ev.failure != "" {
		return e.conclude(ctx, ev, false, SourceDefault, ev.failure)
	}
	return e.conclude(ctx, ev, false, SourceDefault, "no matching permission")
}

// roleGrants walks the subject's in-force assignments looking for a role
// that grants perm in the request's tenant and whose conditions pass.
func (e *Engine) roleGrants(ctx context.Context, ev *evaluation, perm *permission.Permission) (bool, string, error) {
	assignments, err := e.store.ListActiveAssignmentsForUser(ctx, ev.subject.ID, ev.now)
	if err != nil {
		return false, "", err
	}
	for _, a := range assignments {
		r, err := e.store.GetRole(ctx, a.RoleID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, "", err
		}
		if r.IsDeleted() || !r.AppliesTo(ev.req.Context.OrganizationID, ev.req.Context.PropertyID) {
			continue
		}
		rps, err := e.store.ListRolePermissions(ctx, r.ID)
		if err != nil {
			return false, "", err
		}
		for _, rp := range rps {
			if !rp.Granted || !rp.PermissionID.Equal(perm.ID) {
				continue
			}
			res := e.conditions.Check(ctx, effectiveConditions(a.Conditions, rp.Conditions, perm.Conditions), ev.in)
			ev.noteConditions(res)
			if res.Passed {
				return true, "granted by role " + r.Name, nil
			}
		}
	}
	return false, "", nil
}

// hasCrossOrgGrant reports whether the subject holds the cross-organization
// permission through a user grant or a role of the target organization.
func (e *Engine) hasCrossOrgGrant(ctx context.Context, ev *evaluation) (bool, error) {
	perm, err := e.store.GetPermissionByKey(ctx, CrossOrgResource, CrossOrgAction, permission.ScopeExternal)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	g, err := e.store.GetGrant(ctx, ev.subject.ID, perm.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return false, err
	case !g.Granted:
		return false, nil
	default:
		if e.conditions.Check(ctx, effectiveConditions(g.Conditions, perm.Conditions), ev.in).Passed {
			return true, nil
		}
	}
	// Conditions checked here must not leak into the decision's reason.
	cross := &evaluation{req: ev.req, now: ev.now, subject: ev.subject, in: ev.in}
	ok, _, err := e.roleGrants(ctx, cross, perm)
	return ok, err
}

// outsideHomeOrg reports whether an external subject is acting in an
// organization other than their own.
func outsideHomeOrg(s *Subject, orgID string) bool {
	return s.IsExternal() && orgID != "" && orgID != s.OrganizationID
}

// effectiveConditions returns the first non-empty condition set, so the
// most specific override wins.
func effectiveConditions(sets ...[]permission.Condition) []permission.Condition {
	for _, s := range sets {
		if len(s) > 0 {
			return s
		}
	}
	return nil
}

// conclude builds a terminal decision and writes it to the cache.
func (e *Engine) conclude(ctx context.Context, ev *evaluation, allowed bool, src Source, reason string) *Decision {
	d := &Decision{
		Allowed:    allowed,
		Reason:     reason,
		Source:     src,
		Conditions: slices.Compact(slices.Clone(ev.checked)),
	}
	if e.cache != nil && e.config.CacheTTL > 0 {
		entry := &CacheEntry{
			Allowed:    d.Allowed,
			Reason:     d.Reason,
			Source:     d.Source,
			Conditions: d.Conditions,
			ExpiresAt:  ev.now.Add(e.config.CacheTTL),
		}
		if err := e.cache.Set(ctx, ev.key, entry); err != nil {
			e.logger.Warn("concierge: cache write failed",
				slog.String("key", ev.key.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return d
}

// failed converts an infrastructure error into an uncached deny.
func (e *Engine) failed(req *EvaluateRequest, err error) *Decision {
	e.logger.Error("concierge: evaluation failed, denying",
		slog.String("subject_id", req.SubjectID),
		slog.String("permission", req.Key()),
		slog.String("error", err.Error()),
	)
	return &Decision{Source: SourceDefault, Reason: evaluationErrorPrefix + err.Error()}
}

func (e *Engine) catalogProvisioned(ctx context.Context) (bool, error) {
	if e.catalogReady.Load() {
		return true, nil
	}
	n, err := e.store.CountPermissions(ctx, nil)
	if err != nil {
		return false, err
	}
	if n > 0 {
		e.catalogReady.Store(true)
	}
	return n > 0, nil
}

// subjectFor returns the context subject when it is the one asked about,
// otherwise asks the resolver. Without a resolver a bare subject is used.
func (e *Engine) subjectFor(ctx context.Context, subjectID string) (*Subject, error) {
	if s, ok := SubjectFromContext(ctx); ok && s.ID == subjectID {
		return &s, nil
	}
	if e.resolver != nil {
		s, err := e.resolver.ResolveSubject(ctx, subjectID)
		if err != nil {
			return nil, fmt.Errorf("resolve subject %s: %w", subjectID, err)
		}
		if s != nil {
			return s, nil
		}
	}
	return &Subject{ID: subjectID}, nil
}

// EvaluateBulk evaluates every item for one subject concurrently. Results
// holds one decision per distinct "resource.action.scope" key; a repeated
// key is evaluated once, with the first item's context.
func (e *Engine) EvaluateBulk(ctx context.Context, subjectID string, items []BulkItem) *BulkDecision {
	out := &BulkDecision{Results: make(map[string]*Decision, len(items))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.bulkConcurrency())

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		req := &EvaluateRequest{
			SubjectID: subjectID,
			Resource:  item.Resource,
			Action:    item.Action,
			Scope:     item.Scope,
			Context:   item.Context,
		}
		key := req.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		invalid := item.Resource == "" || item.Action == "" || item.Scope == "" || subjectID == ""

		g.Go(func() error {
			d := e.Evaluate(gctx, req)
			mu.Lock()
			defer mu.Unlock()
			out.Results[key] = d
			if d.Source == SourceCached {
				out.CachedCount++
			} else {
				out.EvaluatedCount++
			}
			if invalid || strings.HasPrefix(d.Reason, evaluationErrorPrefix) {
				out.Errors = append(out.Errors, BulkError{Key: key, Error: d.Reason})
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(out.Errors, func(a, b BulkError) int { return strings.Compare(a.Key, b.Key) })
	return out
}

// GetEffectivePermissions returns every permission the subject holds in the
// given context, following the same precedence as Evaluate: legacy patterns,
// then role and direct grants minus explicit user denies. An unprovisioned
// catalog, or an external user without cross-organization access, holds
// nothing.
func (e *Engine) GetEffectivePermissions(ctx context.Context, subjectID string, ec EvalContext) ([]*permission.Permission, error) {
	if ec.OrganizationID == "" {
		ec.OrganizationID = scopeFromContext(ctx).organizationID
	}
	ready, err := e.catalogProvisioned(ctx)
	if err != nil {
		return nil, fmt.Errorf("concierge: count permissions: %w", err)
	}
	if !ready {
		return []*permission.Permission{}, nil
	}
	subject, err := e.subjectFor(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	catalog, err := e.store.ListPermissions(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("concierge: list permissions: %w", err)
	}
	if subject.IsSuperuser() {
		return catalog, nil
	}

	now := e.now()
	in := &ConditionInput{Subject: *subject, Context: ec, Now: now}
	if outsideHomeOrg(subject, ec.OrganizationID) {
		ok, err := e.hasCrossOrgGrant(ctx, &evaluation{
			req:     &EvaluateRequest{SubjectID: subject.ID, Context: ec},
			now:     now,
			subject: subject,
			in:      in,
		})
		if err != nil {
			return nil, fmt.Errorf("concierge: cross-organization check: %w", err)
		}
		if !ok {
			return []*permission.Permission{}, nil
		}
	}
	byID := make(map[string]*permission.Permission, len(catalog))
	for _, p := range catalog {
		byID[p.ID.String()] = p
	}

	legacy := make(map[string]bool)
	granted := make(map[string]bool)
	denied := make(map[string]bool)

	for _, p := range catalog {
		if _, ok := e.legacy.Match(subject.LegacyRole, subject.UserType, p.Resource, p.Action, string(p.Scope)); ok {
			if e.conditions.Check(ctx, p.Conditions, in).Passed {
				legacy[p.ID.String()] = true
			}
		}
	}

	assignments, err := e.store.ListActiveAssignmentsForUser(ctx, subject.ID, now)
	if err != nil {
		return nil, fmt.Errorf("concierge: list assignments: %w", err)
	}
	if err := e.collectRoleGrants(ctx, assignments, byID, ec, in, granted); err != nil {
		return nil, err
	}

	grants, err := e.store.ListGrants(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("concierge: list grants: %w", err)
	}
	for _, g := range grants {
		p, ok := byID[g.PermissionID.String()]
		if !ok {
			continue
		}
		if !g.Granted {
			denied[p.ID.String()] = true
			continue
		}
		if e.conditions.Check(ctx, effectiveConditions(g.Conditions, p.Conditions), in).Passed {
			granted[p.ID.String()] = true
		}
	}

	result := make([]*permission.Permission, 0)
	for _, p := range catalog {
		key := p.ID.String()
		if legacy[key] || (granted[key] && !denied[key]) {
			result = append(result, p)
		}
	}
	return result, nil
}

func (e *Engine) collectRoleGrants(
	ctx context.Context,
	assignments []*assignment.Assignment,
	byID map[string]*permission.Permission,
	ec EvalContext,
	in *ConditionInput,
	granted map[string]bool,
) error {
	for _, a := range assignments {
		r, err := e.store.GetRole(ctx, a.RoleID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("concierge: get role: %w", err)
		}
		if r.IsDeleted() || !r.AppliesTo(ec.OrganizationID, ec.PropertyID) {
			continue
		}
		rps, err := e.store.ListRolePermissions(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("concierge: list role permissions: %w", err)
		}
		for _, rp := range rps {
			p, ok := byID[rp.PermissionID.String()]
			if !ok || !rp.Granted {
				continue
			}
			if e.conditions.Check(ctx, effectiveConditions(a.Conditions, rp.Conditions, p.Conditions), in).Passed {
				granted[p.ID.String()] = true
			}
		}
	}
	return nil
}

// ClearCache drops cached decisions of one subject, or of everyone when
// subjectID is empty.
func (e *Engine) ClearCache(ctx context.Context, subjectID string) error {
	if e.cache == nil {
		return nil
	}
	if subjectID == "" {
		return e.cache.InvalidateAll(ctx)
	}
	return e.cache.InvalidateSubject(ctx, subjectID)
}

// invalidate drops cached decisions of the affected users. Failures are
// logged and never fail the mutation that triggered them.
func (e *Engine) invalidate(ctx context.Context, subjectIDs ...string) {
	if e.cache == nil {
		return
	}
	for _, sid := range subjectIDs {
		if err := e.cache.InvalidateSubject(ctx, sid); err != nil {
			e.logger.Warn("concierge: cache invalidation failed",
				slog.String("subject_id", sid),
				slog.String("error", err.Error()),
			)
		}
	}
}

// invalidateRole drops cached decisions of every user holding the role.
func (e *Engine) invalidateRole(ctx context.Context, r *role.Role) {
	if e.cache == nil {
		return
	}
	users, err := e.store.ListUsersWithRole(ctx, r.ID)
	if err != nil {
		e.logger.Warn("concierge: cannot list role holders, clearing whole cache",
			slog.String("role_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		if err := e.cache.InvalidateAll(ctx); err != nil {
			e.logger.Warn("concierge: cache invalidation failed", slog.String("error", err.Error()))
		}
		return
	}
	e.invalidate(ctx, users...)
}
