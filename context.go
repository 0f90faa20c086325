package concierge

import "context"

type contextKey int

const (
	ctxKeyAppID contextKey = iota
	ctxKeyOrganizationID
	ctxKeySubject
	ctxKeyRequestInfo
	ctxKeySystemActor
)

// WithTenant returns a context with the given app and organization IDs.
// Use this for standalone mode (without Forge).
func WithTenant(ctx context.Context, appID, organizationID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAppID, appID)
	ctx = context.WithValue(ctx, ctxKeyOrganizationID, organizationID)
	return ctx
}

// WithSubject attaches the authenticated subject. It is the caller for
// mutations (the administrator) and the evaluated subject when its ID
// matches the evaluation request.
func WithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, ctxKeySubject, s)
}

// SubjectFromContext returns the subject attached with WithSubject.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(ctxKeySubject).(Subject)
	return s, ok
}

// WithSystemActor marks the context as in-process code acting for the
// platform itself. Administrative calls made with it bypass tenant checks
// and are recorded with SystemActorID. A subject in the same context wins.
func WithSystemActor(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeySystemActor, true)
}

func isSystemActor(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeySystemActor).(bool)
	return v
}

// WithRequestInfo attaches caller provenance for history and audit records.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKeyRequestInfo, info)
}

func requestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(ctxKeyRequestInfo).(RequestInfo)
	return info
}

func appIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyAppID).(string)
	return v
}

func organizationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyOrganizationID).(string)
	return v
}
