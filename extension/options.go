package extension

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/concierge"
	"github.com/xraph/concierge/plugin"
	"github.com/xraph/concierge/store"
)

// ExtOption configures the Concierge Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, concierge.WithStore(s))
	}
}

// WithCache sets the decision cache.
func WithCache(c concierge.Cache) ExtOption {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, concierge.WithCache(c))
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithEngineOptions adds engine-level options.
func WithEngineOptions(opts ...concierge.Option) ExtOption {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opts...)
	}
}

// WithPlugin registers a lifecycle hook plugin.
func WithPlugin(x plugin.Plugin) ExtOption {
	return func(e *Extension) {
		e.plugins = append(e.plugins, x)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithMetrics enables the Prometheus collector, registering it with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func WithMetrics(reg prometheus.Registerer) ExtOption {
	return func(e *Extension) {
		e.config.EnableMetrics = true
		e.registerer = reg
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithDisableJanitor disables the maintenance scheduler.
func WithDisableJanitor() ExtOption {
	return func(e *Extension) {
		e.config.DisableJanitor = true
	}
}
