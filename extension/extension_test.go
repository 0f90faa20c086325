package extension

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/concierge/store/memory"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExtension_Metadata(t *testing.T) {
	e := New()
	if e.Name() != "concierge" || e.Version() == "" || e.Description() == "" {
		t.Fatalf("unexpected metadata %q %q %q", e.Name(), e.Version(), e.Description())
	}
	if len(e.Dependencies()) != 0 {
		t.Fatal("expected no dependencies")
	}
}

func TestExtension_NotInitialized(t *testing.T) {
	e := New()
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail before registration")
	}
	if err := e.Health(context.Background()); err == nil {
		t.Fatal("expected health to fail before registration")
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop before registration should be a no-op, got %v", err)
	}
}

func TestExtension_RequiresStore(t *testing.T) {
	e := New(WithLogger(quiet()))
	if err := e.init(); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestExtension_Lifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(
		WithLogger(quiet()),
		WithStore(memory.New()),
		WithMetrics(reg),
	)
	if err := e.init(); err != nil {
		t.Fatal(err)
	}
	if e.Engine() == nil || e.Metrics() == nil || e.janitor == nil {
		t.Fatal("expected engine, metrics and janitor to be wired")
	}
	if e.Engine().Plugins() == nil || len(e.Engine().Plugins().Plugins()) != 1 {
		t.Fatal("expected metrics collector registered as a plugin")
	}

	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Health(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestExtension_DisableJanitor(t *testing.T) {
	e := New(WithLogger(quiet()), WithStore(memory.New()), WithDisableJanitor(), WithDisableMigrate())
	if err := e.init(); err != nil {
		t.Fatal(err)
	}
	if e.janitor != nil {
		t.Fatal("expected janitor to be disabled")
	}
	if e.Metrics() != nil {
		t.Fatal("expected metrics to be disabled by default")
	}
}

func TestExtension_InvalidJanitorSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Janitor.PurgeSchedule = "not a schedule"
	e := New(WithLogger(quiet()), WithStore(memory.New()), WithConfig(cfg))
	if err := e.init(); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}
