// Package extension provides a Forge extension entry point for Concierge.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/concierge"
	"github.com/xraph/concierge/janitor"
	"github.com/xraph/concierge/metrics"
	"github.com/xraph/concierge/plugin"
	"github.com/xraph/concierge/store"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "concierge"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Multi-tenant permission evaluation and role management"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Concierge as a Forge extension.
type Extension struct {
	config     Config
	eng        *concierge.Engine
	janitor    *janitor.Janitor
	metrics    *metrics.Collector
	registerer prometheus.Registerer
	logger     *slog.Logger
	engineOpts []concierge.Option
	plugins    []plugin.Plugin
}

// New creates a Concierge Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return ExtensionName }

// Description returns the extension description.
func (e *Extension) Description() string { return ExtensionDescription }

// Version returns the extension version.
func (e *Extension) Version() string { return ExtensionVersion }

// Dependencies returns the list of extension names this extension depends on.
func (e *Extension) Dependencies() []string { return []string{} }

// Engine returns the underlying Concierge engine.
func (e *Extension) Engine() *concierge.Engine { return e.eng }

// Metrics returns the Prometheus collector, or nil when metrics are disabled.
func (e *Extension) Metrics() *metrics.Collector { return e.metrics }

// Register implements [forge.Extension]. It initializes the engine and
// registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	var resolved []concierge.Option
	if s, err := forge.Inject[store.Store](fapp.Container()); err == nil {
		resolved = append(resolved, concierge.WithStore(s))
	}
	if c, err := forge.Inject[concierge.Cache](fapp.Container()); err == nil {
		resolved = append(resolved, concierge.WithCache(c))
	}
	if err := e.init(resolved...); err != nil {
		return err
	}

	if err := vessel.Provide(fapp.Container(), func() (*concierge.Engine, error) {
		return e.eng, nil
	}); err != nil {
		return fmt.Errorf("concierge: register engine in container: %w", err)
	}
	return nil
}

// init builds the engine. Options resolved from the container come first so
// user-provided options override them.
func (e *Extension) init(resolved ...concierge.Option) error {
	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]concierge.Option, 0, len(resolved)+len(e.engineOpts)+len(e.plugins)+2)
	opts = append(opts, concierge.WithLogger(logger))
	opts = append(opts, resolved...)
	opts = append(opts, e.engineOpts...)

	if e.config.EnableMetrics {
		reg := e.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		e.metrics = metrics.New(reg)
		opts = append(opts, concierge.WithPlugin(e.metrics))
	}
	for _, x := range e.plugins {
		opts = append(opts, concierge.WithPlugin(x))
	}

	eng, err := concierge.NewEngine(opts...)
	if err != nil {
		return fmt.Errorf("concierge: create engine: %w", err)
	}
	e.eng = eng

	if !e.config.DisableJanitor {
		j, err := janitor.New(eng,
			janitor.WithConfig(e.config.Janitor),
			janitor.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("concierge: create janitor: %w", err)
		}
		e.janitor = j
	}
	return nil
}

// Start runs migrations if enabled, then starts the engine and janitor.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("concierge: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if s := e.eng.Store(); s != nil {
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("concierge: migration failed: %w", err)
			}
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}
	if e.janitor != nil {
		e.janitor.Start()
	}
	return nil
}

// Stop halts the janitor and shuts down the engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		return nil
	}
	var errs []error
	if e.janitor != nil {
		errs = append(errs, e.janitor.Stop(ctx))
	}
	errs = append(errs, e.eng.Stop(ctx))
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("concierge: extension not initialized")
	}
	s := e.eng.Store()
	if s == nil {
		return errors.New("concierge: no store configured")
	}
	return s.Ping(ctx)
}
