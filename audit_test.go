package concierge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPurgeAuditLog(t *testing.T) {
	f := newFixture(t)
	f.createRole(t, "Front Desk")

	before, err := f.eng.ListAuditLog(system(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if before.Total == 0 {
		t.Fatal("expected audit entries from setup")
	}

	if _, err := f.eng.ListAuditLog(context.Background(), nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected a call without subject to be refused, got %v", err)
	}
	if _, err := f.eng.PurgeAuditLog(as("admin1")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected organization admin to be refused, got %v", err)
	}
	if n, err := f.eng.PurgeAuditLog(system()); err != nil || n != 0 {
		t.Fatalf("expected nothing old enough to purge, got %d %v", n, err)
	}

	f.clock.Advance(366 * 24 * time.Hour)
	f.createRole(t, "Night Audit")

	n, err := f.eng.PurgeAuditLog(as("root"))
	if err != nil {
		t.Fatal(err)
	}
	if n != before.Total {
		t.Fatalf("expected %d purged entries, got %d", before.Total, n)
	}
	after, err := f.eng.ListAuditLog(system(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if after.Total != 1 || after.Entries[0].TargetType == "" {
		t.Fatalf("expected only the recent entry to remain, got %+v", after.Entries)
	}
}

func TestPurgeAuditLog_RetentionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDays = 0
	f := newFixture(t, WithConfig(cfg))
	f.createRole(t, "Front Desk")
	f.clock.Advance(10 * 365 * 24 * time.Hour)

	if n, err := f.eng.PurgeAuditLog(system()); err != nil || n != 0 {
		t.Fatalf("expected purge to be disabled, got %d %v", n, err)
	}
}
