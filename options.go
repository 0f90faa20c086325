package concierge

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/concierge/plugin"
	"github.com/xraph/concierge/store"
)

// SubjectResolver looks up a subject the identity layer knows about. It is
// consulted when a call concerns a user other than the one in the context.
type SubjectResolver interface {
	ResolveSubject(ctx context.Context, subjectID string) (*Subject, error)
}

// SubjectResolverFunc adapts a function to SubjectResolver.
type SubjectResolverFunc func(ctx context.Context, subjectID string) (*Subject, error)

// ResolveSubject calls f.
func (f SubjectResolverFunc) ResolveSubject(ctx context.Context, subjectID string) (*Subject, error) {
	return f(ctx, subjectID)
}

// Option is a functional option for the Engine.
type Option func(*Engine)

// WithStore sets the composite store.
func WithStore(s store.Store) Option { return func(e *Engine) { e.store = s } }

// WithCache sets the decision cache.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithConditions sets the condition type registry.
func WithConditions(c *Conditions) Option { return func(e *Engine) { e.conditions = c } }

// WithLegacyMapper sets the legacy role mapper, overriding Config.LegacyRoles.
func WithLegacyMapper(m *LegacyMapper) Option { return func(e *Engine) { e.legacy = m } }

// WithSubjectResolver sets the identity lookup.
func WithSubjectResolver(r SubjectResolver) Option { return func(e *Engine) { e.resolver = r } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithConfig sets the engine configuration.
func WithConfig(c Config) Option { return func(e *Engine) { e.config = c } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithPlugin registers a plugin with the engine.
func WithPlugin(x plugin.Plugin) Option {
	return func(e *Engine) {
		if e.plugins == nil {
			e.plugins = plugin.NewRegistry(e.logger)
		}
		e.plugins.Register(x)
	}
}
