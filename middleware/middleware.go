// Package middleware provides Forge authorization middleware backed by the
// Concierge engine.
package middleware

import (
	"context"
	"encoding/json"

	"github.com/xraph/forge"

	"github.com/xraph/concierge"
)

// Enforcer is the evaluation surface of *concierge.Engine.
type Enforcer interface {
	Enforce(ctx context.Context, req *concierge.EvaluateRequest) error
}

// Check names one permission a route requires.
type Check struct {
	Resource string
	Action   string
	Scope    string
}

// Require enforces one permission. The subject comes from the Forge user ID
// in the request context; the "property_id" and "id" route params become the
// evaluation's property and resource.
func Require(eng Enforcer, resource, action, scope string) forge.Middleware {
	return RequireAll(eng, Check{Resource: resource, Action: action, Scope: scope})
}

// RequireAny allows the request if ANY of the checks pass.
func RequireAny(eng Enforcer, checks ...Check) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			userID := forge.UserIDFromContext(ctx.Context())
			ec := evalContext(ctx.Param)
			for _, c := range checks {
				if eng.Enforce(ctx.Context(), request(userID, c, ec)) == nil {
					return next(ctx)
				}
			}
			return denyResponse(ctx)
		}
	}
}

// RequireAll allows the request only if ALL checks pass.
func RequireAll(eng Enforcer, checks ...Check) forge.Middleware {
	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			userID := forge.UserIDFromContext(ctx.Context())
			ec := evalContext(ctx.Param)
			for _, c := range checks {
				if err := eng.Enforce(ctx.Context(), request(userID, c, ec)); err != nil {
					return denyResponse(ctx)
				}
			}
			return next(ctx)
		}
	}
}

// evalContext builds the evaluation context from route params. The
// organization is left to the tenant carried by the request context.
func evalContext(param func(string) string) concierge.EvalContext {
	return concierge.EvalContext{
		PropertyID: param("property_id"),
		ResourceID: param("id"),
	}
}

func request(userID string, c Check, ec concierge.EvalContext) *concierge.EvaluateRequest {
	return &concierge.EvaluateRequest{
		SubjectID: userID,
		Resource:  c.Resource,
		Action:    c.Action,
		Scope:     c.Scope,
		Context:   ec,
	}
}

func denyResponse(ctx forge.Context) error {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.Response().WriteHeader(403)
	return json.NewEncoder(ctx.Response()).Encode(map[string]string{"error": "access denied"})
}
