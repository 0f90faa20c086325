package concierge

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Segment is one part of a legacy permission pattern: either Any, which
// matches every value, or a literal value.
type Segment struct {
	any     bool
	literal string
}

// AnySegment matches every value.
var AnySegment = Segment{any: true}

// Literal returns a segment matching exactly v.
func Literal(v string) Segment { return Segment{literal: v} }

// IsAny reports whether the segment is the wildcard.
func (s Segment) IsAny() bool { return s.any }

// Matches reports whether the segment accepts v.
func (s Segment) Matches(v string) bool { return s.any || s.literal == v }

func (s Segment) String() string {
	if s.any {
		return "*"
	}
	return s.literal
}

// Pattern matches permission keys segment by segment.
type Pattern struct {
	Resource Segment
	Action   Segment
	Scope    Segment
}

// ParsePattern parses "resource.action.scope" where any segment may be "*".
func ParsePattern(s string) (Pattern, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Pattern{}, fmt.Errorf("pattern %q: want resource.action.scope", s)
	}
	segs := make([]Segment, 3)
	for i, part := range parts {
		switch {
		case part == "*":
			segs[i] = AnySegment
		case part == "" || strings.Contains(part, "*"):
			return Pattern{}, fmt.Errorf("pattern %q: invalid segment %q", s, part)
		default:
			segs[i] = Literal(part)
		}
	}
	return Pattern{Resource: segs[0], Action: segs[1], Scope: segs[2]}, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the pattern accepts the permission triple.
func (p Pattern) Matches(resource, action, scope string) bool {
	return p.Resource.Matches(resource) && p.Action.Matches(action) && p.Scope.Matches(scope)
}

func (p Pattern) String() string {
	return p.Resource.String() + "." + p.Action.String() + "." + p.Scope.String()
}

// externalSuffix marks a legacy table key that applies to external users.
const externalSuffix = "@external"

// DefaultLegacyTable returns the built-in legacy role pattern table.
func DefaultLegacyTable() map[string][]string {
	return map[string][]string{
		string(LegacyRoleSuperAdmin):                       {"*.*.*"},
		string(LegacyRoleOrgAdmin):                         {"*.*.organization", "*.*.property", "*.*.department", "*.*.own"},
		string(LegacyRoleOrgAdmin) + externalSuffix:        {"*.read.organization", "*.read.property", "*.*.own"},
		string(LegacyRolePropertyManager):                  {"*.*.property", "*.*.department", "*.*.own"},
		string(LegacyRolePropertyManager) + externalSuffix: {"*.read.property", "*.*.own"},
		string(LegacyRoleStaff):                            {"*.read.property", "*.*.department", "*.*.own"},
		string(LegacyRoleStaff) + externalSuffix:           {"*.read.department", "*.*.own"},
		string(LegacyRoleUser):                             {"*.read.own", "*.update.own"},
	}
}

// LegacyMapper translates a legacy role and user type into patterns.
type LegacyMapper struct {
	internal map[LegacyRole][]Pattern
	external map[LegacyRole][]Pattern
}

// NewLegacyMapper builds a mapper from a table keyed by legacy role, with
// "@external" keys overriding the role's patterns for external users.
func NewLegacyMapper(table map[string][]string) (*LegacyMapper, error) {
	m := &LegacyMapper{
		internal: make(map[LegacyRole][]Pattern),
		external: make(map[LegacyRole][]Pattern),
	}
	for _, key := range slices.Sorted(maps.Keys(table)) {
		patterns := make([]Pattern, 0, len(table[key]))
		for _, raw := range table[key] {
			p, err := ParsePattern(raw)
			if err != nil {
				return nil, fmt.Errorf("concierge: legacy role %q: %w", key, err)
			}
			patterns = append(patterns, p)
		}
		if name, ok := strings.CutSuffix(key, externalSuffix); ok {
			m.external[LegacyRole(name)] = patterns
		} else {
			m.internal[LegacyRole(key)] = patterns
		}
	}
	return m, nil
}

// DefaultLegacyMapper returns a mapper over DefaultLegacyTable.
func DefaultLegacyMapper() *LegacyMapper {
	m, err := NewLegacyMapper(DefaultLegacyTable())
	if err != nil {
		panic(err)
	}
	return m
}

// Patterns returns the patterns of a legacy role for a user type.
func (m *LegacyMapper) Patterns(r LegacyRole, ut UserType) []Pattern {
	if r == "" {
		return nil
	}
	if ut == UserTypeExternal {
		if p, ok := m.external[r]; ok {
			return p
		}
	}
	return m.internal[r]
}

// Match returns the first pattern of the role that accepts the triple.
func (m *LegacyMapper) Match(r LegacyRole, ut UserType, resource, action, scope string) (Pattern, bool) {
	for _, p := range m.Patterns(r, ut) {
		if p.Matches(resource, action, scope) {
			return p, true
		}
	}
	return Pattern{}, false
}
