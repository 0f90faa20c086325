package janitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/concierge"
	"github.com/xraph/concierge/store/memory"
)

type fakeSweeper struct {
	expired, purged int
	expireErr       error
}

func (f *fakeSweeper) ExpireAssignments(context.Context) (int, error) {
	f.expired++
	return 3, f.expireErr
}

func (f *fakeSweeper) PurgeAuditLog(context.Context) (int64, error) {
	f.purged++
	return 7, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNew_RequiresSweeper(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil sweeper")
	}
}

func TestNew_SchedulesJobs(t *testing.T) {
	j, err := New(&fakeSweeper{}, WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	if j.Jobs() != 2 {
		t.Fatalf("expected 2 jobs, got %d", j.Jobs())
	}

	j, err = New(&fakeSweeper{}, WithLogger(quiet()), WithConfig(Config{ExpireSchedule: "@hourly"}))
	if err != nil {
		t.Fatal(err)
	}
	if j.Jobs() != 1 {
		t.Fatalf("expected purge job to be disabled, got %d jobs", j.Jobs())
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&fakeSweeper{}, WithConfig(Config{ExpireSchedule: "every now and then"}))
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunOnce(t *testing.T) {
	s := &fakeSweeper{}
	j, err := New(s, WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.expired != 1 || s.purged != 1 {
		t.Fatalf("expected both jobs to run once, got expire=%d purge=%d", s.expired, s.purged)
	}

	boom := errors.New("boom")
	s.expireErr = boom
	if err := j.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected expire error, got %v", err)
	}
	if s.purged != 2 {
		t.Fatal("expected purge to run after a failed expire")
	}
}

func TestStartStop(t *testing.T) {
	j, err := New(&fakeSweeper{}, WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	j.Start()
	if err := j.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnce_Engine(t *testing.T) {
	eng, err := concierge.NewEngine(concierge.WithStore(memory.New()), concierge.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	j, err := New(eng, WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}
