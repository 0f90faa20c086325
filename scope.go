package concierge

import (
	"context"

	"github.com/xraph/forge"
)

type tenantScope struct {
	appID          string
	organizationID string
}

// scopeFromContext extracts tenant scope from forge.Scope, falling back to
// the standalone context set by WithTenant.
func scopeFromContext(ctx context.Context) tenantScope {
	if s, ok := forge.ScopeFrom(ctx); ok {
		return tenantScope{
			appID:          s.AppID(),
			organizationID: s.OrgID(),
		}
	}
	return tenantScope{
		appID:          appIDFromContext(ctx),
		organizationID: organizationIDFromContext(ctx),
	}
}
