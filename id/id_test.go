package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/concierge/id"
)

var kinds = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"Role", id.NewRoleID, id.ParseRoleID, "role_"},
	{"Permission", id.NewPermissionID, id.ParsePermissionID, "perm_"},
	{"Condition", id.NewConditionID, id.ParseConditionID, "cond_"},
	{"Assignment", id.NewAssignmentID, id.ParseAssignmentID, "urole_"},
	{"Grant", id.NewGrantID, id.ParseGrantID, "uperm_"},
	{"HistoryEntry", id.NewHistoryEntryID, id.ParseHistoryEntryID, "rhist_"},
	{"AuditEntry", id.NewAuditEntryID, id.ParseAuditEntryID, "audit_"},
}

func TestConstructorsAndParsers(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			original := k.newFn()
			if !strings.HasPrefix(original.String(), k.prefix) {
				t.Fatalf("expected prefix %q, got %q", k.prefix, original.String())
			}
			parsed, err := k.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !parsed.Equal(original) {
				t.Fatalf("round-trip mismatch: %q != %q", parsed, original)
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	for i, k := range kinds {
		other := kinds[(i+1)%len(kinds)]
		if _, err := k.parseFn(other.newFn().String()); err == nil {
			t.Errorf("%s parser accepted a %s id", k.name, other.name)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Fatalf("expected empty string and prefix, got %q / %q", i.String(), i.Prefix())
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := id.NewRoleID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatal(err)
	}
	if !restored.Equal(original) {
		t.Fatalf("mismatch: %q != %q", restored, original)
	}

	var nilID id.ID
	data, _ = nilID.MarshalText()
	var restoredNil id.ID
	if err := restoredNil.UnmarshalText(data); err != nil {
		t.Fatal(err)
	}
	if !restoredNil.IsNil() {
		t.Fatal("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewHistoryEntryID()
	val, err := original.Value()
	if err != nil {
		t.Fatal(err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatal(err)
	}
	if !scanned.Equal(original) {
		t.Fatalf("mismatch: %q != %q", scanned, original)
	}

	var nilID id.ID
	if val, _ := nilID.Value(); val != nil {
		t.Fatalf("expected nil value for nil ID, got %v", val)
	}
	var scannedNil id.ID
	if err := scannedNil.Scan(""); err != nil {
		t.Fatal(err)
	}
	if !scannedNil.IsNil() {
		t.Fatal("expected nil after scanning empty string")
	}
	if err := scannedNil.Scan(42); err == nil {
		t.Fatal("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	if id.NewRoleID().Equal(id.NewRoleID()) {
		t.Fatal("two consecutive NewRoleID calls returned the same ID")
	}
}
