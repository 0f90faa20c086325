package concierge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/concierge/permission"
)

func cond(t *testing.T, typ string, op Operator, value any) permission.Condition {
	t.Helper()
	v, err := json.Marshal(value)
	if err != nil {
		t.Fatal(err)
	}
	return permission.Condition{Type: typ, Operator: string(op), Value: v}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestConditions_TimeWindow(t *testing.T) {
	c := DefaultConditions()
	office := []permission.Condition{timeCondition(t, "09:00", "17:00")}
	night := []permission.Condition{timeCondition(t, "22:00", "06:00")}
	allDay := []permission.Condition{timeCondition(t, "00:00", "00:00")}

	tests := []struct {
		name  string
		conds []permission.Condition
		now   time.Time
		want  bool
	}{
		{"inside", office, at(9, 0), true},
		{"end exclusive", office, at(17, 0), false},
		{"before", office, at(8, 59), false},
		{"wraps late", night, at(23, 30), true},
		{"wraps early", night, at(5, 59), true},
		{"wraps midday", night, at(12, 0), false},
		{"equal bounds", allDay, at(3, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(context.Background(), tt.conds, &ConditionInput{Now: tt.now})
			if res.Passed != tt.want {
				t.Fatalf("expected %v, got %v (%s)", tt.want, res.Passed, res.Reason)
			}
		})
	}
}

func TestConditions_ContextTimeWins(t *testing.T) {
	c := DefaultConditions()
	res := c.Check(context.Background(), []permission.Condition{timeCondition(t, "09:00", "17:00")}, &ConditionInput{
		Now:     at(20, 0),
		Context: EvalContext{Time: at(10, 0)},
	})
	if !res.Passed {
		t.Fatalf("expected context time to be used, got %s", res.Reason)
	}
}

func TestConditions_Department(t *testing.T) {
	c := DefaultConditions()
	in := cond(t, ConditionDepartment, OpIn, map[string]any{"departments": []string{"frontdesk", "concierge"}})
	notIn := cond(t, ConditionDepartment, OpNotIn, map[string]any{"departments": []string{"finance"}})

	subject := Subject{ID: "u1", DepartmentID: "frontdesk"}
	if res := c.Check(context.Background(), []permission.Condition{in, notIn}, &ConditionInput{Subject: subject}); !res.Passed {
		t.Fatalf("expected subject department to pass, got %s", res.Reason)
	}
	res := c.Check(context.Background(), []permission.Condition{in}, &ConditionInput{
		Subject: subject,
		Context: EvalContext{DepartmentID: "finance"},
	})
	if res.Passed {
		t.Fatal("expected context department to override the subject's")
	}
	if res := c.Check(context.Background(), []permission.Condition{notIn}, &ConditionInput{Subject: Subject{ID: "u9"}}); res.Passed {
		t.Fatal("expected not_in to fail without any department")
	}
}

func TestConditions_ResourceOwner(t *testing.T) {
	c := DefaultConditions()
	owner := []permission.Condition{{Type: ConditionResourceOwner}}
	subject := Subject{ID: "u1"}

	tests := []struct {
		name string
		ec   EvalContext
		want bool
	}{
		{"owner", EvalContext{OwnerID: "u1", ResourceID: "booking-7"}, true},
		{"other owner", EvalContext{OwnerID: "u2"}, false},
		{"resource is subject", EvalContext{ResourceID: "u1"}, true},
		{"no resource", EvalContext{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(context.Background(), owner, &ConditionInput{Subject: subject, Context: tt.ec})
			if res.Passed != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, res.Passed)
			}
		})
	}
}

func TestConditions_Attribute(t *testing.T) {
	c := DefaultConditions()
	in := &ConditionInput{
		Subject: Subject{ID: "u1", UserType: UserTypeExternal},
		Context: EvalContext{
			ResourceID: "folio-7",
			OwnerID:    "u1",
			Attributes: map[string]any{"amount": 250, "ip": "10.1.2.3", "status": "open"},
		},
	}

	tests := []struct {
		name string
		cond permission.Condition
		want bool
	}{
		{"lte", cond(t, ConditionAttribute, OpLTE, map[string]any{"field": "context.amount", "value": 500}), true},
		{"gt", cond(t, ConditionAttribute, OpGreaterThan, map[string]any{"field": "context.amount", "value": 500}), false},
		{"cidr", cond(t, ConditionAttribute, OpIPInCIDR, map[string]any{"field": "context.ip", "value": "10.0.0.0/8"}), true},
		{"subject field", cond(t, ConditionAttribute, OpEquals, map[string]any{"field": "subject.user_type", "value": "external"}), true},
		{"missing attribute", cond(t, ConditionAttribute, OpExists, map[string]any{"field": "context.vip"}), false},
		{"resource id", cond(t, ConditionAttribute, OpStartsWith, map[string]any{"field": "resource.id", "value": "folio-"}), true},
		{"resource owner", cond(t, ConditionAttribute, OpEquals, map[string]any{"field": "resource.owner_id", "value": "u2"}), false},
		{"resource attribute", cond(t, ConditionAttribute, OpIn, map[string]any{"field": "resource.status", "value": []string{"open", "held"}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Check(context.Background(), []permission.Condition{tt.cond}, in)
			if res.Passed != tt.want {
				t.Fatalf("expected %v, got %v (%s)", tt.want, res.Passed, res.Reason)
			}
		})
	}
}

func TestConditions_FailClosed(t *testing.T) {
	c := DefaultConditions()
	conds := []permission.Condition{
		timeCondition(t, "00:00", "00:00"),
		{Type: "moon_phase"},
		{Type: ConditionResourceOwner},
	}
	res := c.Check(context.Background(), conds, &ConditionInput{})
	if res.Passed {
		t.Fatal("expected unknown type to fail")
	}
	if res.Failed == nil || res.Failed.Type != "moon_phase" {
		t.Fatalf("expected the unknown condition reported, got %+v", res.Failed)
	}
	if len(res.Checked) != 2 {
		t.Fatalf("expected evaluation to stop at the first failure, checked %v", res.Checked)
	}

	malformed := permission.Condition{Type: ConditionTime, Value: json.RawMessage(`{"startTime":"9"}`)}
	res = c.Check(context.Background(), []permission.Condition{malformed}, &ConditionInput{})
	if res.Passed || !strings.HasPrefix(res.Reason, "condition failed: malformed time condition") {
		t.Fatalf("expected malformed payload to fail closed, got %+v", res)
	}
}

func TestConditions_Validate(t *testing.T) {
	c := DefaultConditions()

	tests := []struct {
		name string
		cond permission.Condition
	}{
		{"unknown type", permission.Condition{Type: "moon_phase"}},
		{"hour out of range", cond(t, ConditionTime, "", map[string]string{"startTime": "25:00", "endTime": "06:00"})},
		{"past midnight", cond(t, ConditionTime, "", map[string]string{"startTime": "24:30", "endTime": "06:00"})},
		{"department operator", cond(t, ConditionDepartment, OpEquals, map[string]any{"departments": []string{"a"}})},
		{"attribute without field", cond(t, ConditionAttribute, OpEquals, map[string]any{"value": 1})},
		{"unknown operator", cond(t, ConditionAttribute, "between", map[string]any{"field": "context.amount", "value": 1})},
		{"bad regex", cond(t, ConditionAttribute, OpRegex, map[string]any{"field": "subject.id", "value": "("})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Validate([]permission.Condition{tt.cond}); !errors.Is(err, ErrInvalidCondition) {
				t.Fatalf("expected invalid condition, got %v", err)
			}
		})
	}

	ok := []permission.Condition{
		timeCondition(t, "09:00", "17:30:15"),
		cond(t, ConditionDepartment, "", map[string]any{"departments": []string{"a"}}),
		{Type: ConditionResourceOwner},
	}
	if err := c.Validate(ok); err != nil {
		t.Fatal(err)
	}
}

func TestConditions_Register(t *testing.T) {
	c := NewConditions()
	if len(c.Types()) != 0 {
		t.Fatal("expected an empty registry")
	}
	c.Register(ConditionType{
		Name: "weekday",
		Evaluate: func(_ context.Context, _ permission.Condition, in *ConditionInput) (bool, error) {
			wd := in.at().Weekday()
			return wd != time.Saturday && wd != time.Sunday, nil
		},
	})
	if got := c.Types(); len(got) != 1 || got[0] != "weekday" {
		t.Fatalf("unexpected types %v", got)
	}
	res := c.Check(context.Background(), []permission.Condition{{Type: "weekday"}}, &ConditionInput{Now: at(10, 0)})
	if !res.Passed {
		t.Fatal("expected custom condition to pass on a Monday")
	}
	if DefaultConditions().Check(context.Background(), []permission.Condition{{Type: "weekday"}}, &ConditionInput{}).Passed {
		t.Fatal("registries must be independent")
	}
}
