package concierge

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xraph/concierge/permission"
)

// Built-in condition types.
const (
	ConditionTime          = "time"
	ConditionDepartment    = "department"
	ConditionResourceOwner = "resource_owner"
	ConditionAttribute     = "attribute"
)

// ConditionInput is what a condition is evaluated against.
type ConditionInput struct {
	Subject Subject
	Context EvalContext
	// Now is used when Context.Time is zero.
	Now time.Time
}

func (in *ConditionInput) at() time.Time {
	if !in.Context.Time.IsZero() {
		return in.Context.Time
	}
	return in.Now
}

// ConditionType is a named predicate. Evaluate returns an error for a
// malformed payload, which the engine treats as a failed condition.
// Validate, when set, rejects malformed payloads at mutation time.
type ConditionType struct {
	Name     string
	Evaluate func(ctx context.Context, cond permission.Condition, in *ConditionInput) (bool, error)
	Validate func(cond permission.Condition) error
}

// ConditionResult is the outcome of checking a set of conditions.
type ConditionResult struct {
	Passed  bool
	Failed  *permission.Condition
	Reason  string
	Checked []string
}

// Conditions is a registry of condition types. It is passed to the engine at
// construction time, so instances with different condition sets can coexist.
type Conditions struct {
	mu    sync.RWMutex
	types map[string]ConditionType
}

// NewConditions returns an empty registry.
func NewConditions() *Conditions {
	return &Conditions{types: make(map[string]ConditionType)}
}

// DefaultConditions returns a registry with the time, department,
// resource_owner and attribute types.
func DefaultConditions() *Conditions {
	c := NewConditions()
	c.Register(ConditionType{Name: ConditionTime, Evaluate: evalTimeWindow, Validate: validateTimeWindow})
	c.Register(ConditionType{Name: ConditionDepartment, Evaluate: evalDepartment, Validate: validateDepartment})
	c.Register(ConditionType{Name: ConditionResourceOwner, Evaluate: evalResourceOwner})
	c.Register(ConditionType{Name: ConditionAttribute, Evaluate: evalAttribute, Validate: validateAttribute})
	return c
}

// Register adds or replaces a condition type.
func (c *Conditions) Register(ct ConditionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[ct.Name] = ct
}

// Types returns the registered type names, sorted.
func (c *Conditions) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Conditions) lookup(name string) (ConditionType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.types[name]
	return ct, ok
}

// Validate rejects unknown types and malformed payloads.
func (c *Conditions) Validate(conds []permission.Condition) error {
	for _, cond := range conds {
		ct, ok := c.lookup(cond.Type)
		if !ok {
			return fmt.Errorf("%w: unknown condition type %q", ErrInvalidCondition, cond.Type)
		}
		if ct.Validate != nil {
			if err := ct.Validate(cond); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidCondition, cond.Type, err)
			}
		}
	}
	return nil
}

// Check evaluates conds in order; all must pass. Unknown types and
// malformed payloads fail closed.
func (c *Conditions) Check(ctx context.Context, conds []permission.Condition, in *ConditionInput) ConditionResult {
	res := ConditionResult{Passed: true}
	for i := range conds {
		cond := conds[i]
		res.Checked = append(res.Checked, cond.Type)

		ct, ok := c.lookup(cond.Type)
		if !ok {
			return fail(res, &conds[i], fmt.Sprintf("unknown condition type %q", cond.Type))
		}
		passed, err := ct.Evaluate(ctx, cond, in)
		if err != nil {
			return fail(res, &conds[i], fmt.Sprintf("malformed %s condition: %v", cond.Type, err))
		}
		if !passed {
			return fail(res, &conds[i], describeCondition(cond))
		}
	}
	return res
}

func fail(res ConditionResult, cond *permission.Condition, why string) ConditionResult {
	res.Passed = false
	res.Failed = cond
	res.Reason = "condition failed: " + why
	return res
}

func describeCondition(cond permission.Condition) string {
	switch cond.Type {
	case ConditionTime:
		var w timeWindow
		if json.Unmarshal(cond.Value, &w) == nil {
			return fmt.Sprintf("time window %s-%s", w.StartTime, w.EndTime)
		}
	case ConditionDepartment:
		return "department not allowed"
	case ConditionResourceOwner:
		return "subject does not own the resource"
	case ConditionAttribute:
		var a attributeCheck
		if json.Unmarshal(cond.Value, &a) == nil {
			return fmt.Sprintf("attribute %s %s", a.Field, cond.Operator)
		}
	}
	return cond.Type
}

// ──────────────────────────────────────────────────
// time
// ──────────────────────────────────────────────────

type timeWindow struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Timezone  string `json:"timezone,omitempty"`
}

func parseTimeWindow(raw json.RawMessage) (start, end float64, loc *time.Location, w timeWindow, err error) {
	if err = json.Unmarshal(raw, &w); err != nil {
		return 0, 0, nil, w, err
	}
	if start, err = fractionalHours(w.StartTime); err != nil {
		return 0, 0, nil, w, fmt.Errorf("startTime: %w", err)
	}
	if end, err = fractionalHours(w.EndTime); err != nil {
		return 0, 0, nil, w, fmt.Errorf("endTime: %w", err)
	}
	loc = time.UTC
	if w.Timezone != "" {
		if loc, err = time.LoadLocation(w.Timezone); err != nil {
			return 0, 0, nil, w, err
		}
	}
	return start, end, loc, w, nil
}

// fractionalHours parses "HH:MM" or "HH:MM:SS" into hours past midnight.
func fractionalHours(clock string) (float64, error) {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	limits := []int{24, 59, 59}
	var total float64
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid clock %q", clock)
		}
		switch i {
		case 0:
			total += float64(n)
		case 1:
			total += float64(n) / 60
		case 2:
			total += float64(n) / 3600
		}
	}
	if total > 24 {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	return total, nil
}

func validateTimeWindow(cond permission.Condition) error {
	_, _, _, _, err := parseTimeWindow(cond.Value)
	return err
}

// evalTimeWindow passes when the context time falls in [start, end). A start
// after end wraps midnight; equal bounds cover the whole day.
func evalTimeWindow(_ context.Context, cond permission.Condition, in *ConditionInput) (bool, error) {
	start, end, loc, _, err := parseTimeWindow(cond.Value)
	if err != nil {
		return false, err
	}
	t := in.at().In(loc)
	h := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	switch {
	case start == end:
		return true, nil
	case start < end:
		return h >= start && h < end, nil
	default:
		return h >= start || h < end, nil
	}
}

// ──────────────────────────────────────────────────
// department
// ──────────────────────────────────────────────────

type departmentList struct {
	Departments []string `json:"departments"`
}

func validateDepartment(cond permission.Condition) error {
	var d departmentList
	if err := json.Unmarshal(cond.Value, &d); err != nil {
		return err
	}
	switch Operator(cond.Operator) {
	case "", OpIn, OpNotIn:
		return nil
	}
	return fmt.Errorf("unsupported operator %q", cond.Operator)
}

// evalDepartment checks the context department, or the subject's own when
// the context names none, against the allow-list.
func evalDepartment(_ context.Context, cond permission.Condition, in *ConditionInput) (bool, error) {
	if err := validateDepartment(cond); err != nil {
		return false, err
	}
	var d departmentList
	_ = json.Unmarshal(cond.Value, &d)

	dept := in.Context.DepartmentID
	if dept == "" {
		dept = in.Subject.DepartmentID
	}
	member := dept != "" && slices.Contains(d.Departments, dept)
	if Operator(cond.Operator) == OpNotIn {
		return dept != "" && !member, nil
	}
	return member, nil
}

// ──────────────────────────────────────────────────
// resource_owner
// ──────────────────────────────────────────────────

func evalResourceOwner(_ context.Context, _ permission.Condition, in *ConditionInput) (bool, error) {
	owner := in.Context.OwnerID
	if owner == "" {
		owner = in.Context.ResourceID
	}
	return owner != "" && owner == in.Subject.ID, nil
}

// ──────────────────────────────────────────────────
// attribute
// ──────────────────────────────────────────────────

type attributeCheck struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func validateAttribute(cond permission.Condition) error {
	var a attributeCheck
	if err := json.Unmarshal(cond.Value, &a); err != nil {
		return err
	}
	if a.Field == "" {
		return fmt.Errorf("field is required")
	}
	_, err := compare(Operator(cond.Operator), nil, a.Value)
	return err
}

func evalAttribute(_ context.Context, cond permission.Condition, in *ConditionInput) (bool, error) {
	var a attributeCheck
	if err := json.Unmarshal(cond.Value, &a); err != nil {
		return false, err
	}
	return compare(Operator(cond.Operator), resolveField(a.Field, in), a.Value)
}

func resolveField(field string, in *ConditionInput) any {
	head, tail, ok := strings.Cut(field, ".")
	if !ok {
		return nil
	}
	switch head {
	case "subject":
		switch tail {
		case "id":
			return in.Subject.ID
		case "organization_id":
			return in.Subject.OrganizationID
		case "property_id":
			return in.Subject.PropertyID
		case "department_id":
			return in.Subject.DepartmentID
		case "legacy_role":
			return string(in.Subject.LegacyRole)
		case "user_type":
			return string(in.Subject.UserType)
		}
	case "context":
		switch tail {
		case "organization_id":
			return in.Context.OrganizationID
		case "property_id":
			return in.Context.PropertyID
		case "department_id":
			return in.Context.DepartmentID
		case "resource_id":
			return in.Context.ResourceID
		case "owner_id":
			return in.Context.OwnerID
		case "time":
			return in.at()
		}
		if in.Context.Attributes != nil {
			return in.Context.Attributes[tail]
		}
	case "resource":
		switch tail {
		case "id":
			return in.Context.ResourceID
		case "owner_id":
			return in.Context.OwnerID
		}
		// Other resource fields travel as attributes.
		if in.Context.Attributes != nil {
			return in.Context.Attributes[tail]
		}
	}
	return nil
}
