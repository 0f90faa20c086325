// Package id defines TypeID-based identity types for concierge entities.
//
// Every persisted entity carries an ID whose prefix names the entity kind
// ("role_01h2x...", "rhist_01h2x..."). IDs are K-sortable and URL-safe.
// Subject and tenant identifiers are owned by the identity layer and are
// plain strings, not IDs.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixRole         Prefix = "role"
	PrefixPermission   Prefix = "perm"
	PrefixCondition    Prefix = "cond"
	PrefixAssignment   Prefix = "urole"
	PrefixGrant        Prefix = "uperm"
	PrefixHistoryEntry Prefix = "rhist"
	PrefixAuditEntry   Prefix = "audit"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new ID with the given prefix. It panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string of any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// NewRoleID returns a new role ID.
func NewRoleID() ID { return New(PrefixRole) }

// NewPermissionID returns a new permission ID.
func NewPermissionID() ID { return New(PrefixPermission) }

// NewConditionID returns a new condition ID.
func NewConditionID() ID { return New(PrefixCondition) }

// NewAssignmentID returns a new role assignment ID.
func NewAssignmentID() ID { return New(PrefixAssignment) }

// NewGrantID returns a new user grant ID.
func NewGrantID() ID { return New(PrefixGrant) }

// NewHistoryEntryID returns a new history entry ID.
func NewHistoryEntryID() ID { return New(PrefixHistoryEntry) }

// NewAuditEntryID returns a new audit entry ID.
func NewAuditEntryID() ID { return New(PrefixAuditEntry) }

// ParseRoleID parses a role ID.
func ParseRoleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRole) }

// ParsePermissionID parses a permission ID.
func ParsePermissionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPermission) }

// ParseConditionID parses a condition ID.
func ParseConditionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCondition) }

// ParseAssignmentID parses a role assignment ID.
func ParseAssignmentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAssignment) }

// ParseGrantID parses a user grant ID.
func ParseGrantID(s string) (ID, error) { return ParseWithPrefix(s, PrefixGrant) }

// ParseHistoryEntryID parses a history entry ID.
func ParseHistoryEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixHistoryEntry) }

// ParseAuditEntryID parses an audit entry ID.
func ParseAuditEntryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAuditEntry) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// Equal reports whether two IDs have the same string form.
func (i ID) Equal(other ID) bool { return i.String() == other.String() }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
