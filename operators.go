package concierge

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Operator is a comparison used by attribute conditions.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
	OpGTE         Operator = "gte"
	OpLTE         Operator = "lte"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpIPInCIDR    Operator = "ip_in_cidr"
	OpTimeAfter   Operator = "time_after"
	OpTimeBefore  Operator = "time_before"
	OpRegex       Operator = "regex"
)

func compare(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case OpIn:
		return inSlice(actual, expected), nil
	case OpNotIn:
		return !inSlice(actual, expected), nil
	case OpContains:
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpStartsWith:
		return strings.HasPrefix(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpEndsWith:
		return strings.HasSuffix(fmt.Sprint(actual), fmt.Sprint(expected)), nil
	case OpGreaterThan:
		return compareNumbers(actual, expected) > 0, nil
	case OpLessThan:
		return compareNumbers(actual, expected) < 0, nil
	case OpGTE:
		return compareNumbers(actual, expected) >= 0, nil
	case OpLTE:
		return compareNumbers(actual, expected) <= 0, nil
	case OpExists:
		return actual != nil && actual != "", nil
	case OpNotExists:
		return actual == nil || actual == "", nil
	case OpIPInCIDR:
		return ipInCIDR(fmt.Sprint(actual), expected), nil
	case OpTimeAfter:
		return timeCompare(actual, expected, true), nil
	case OpTimeBefore:
		return timeCompare(actual, expected, false), nil
	case OpRegex:
		re, err := regexp.Compile(fmt.Sprint(expected))
		if err != nil {
			return false, fmt.Errorf("%w: invalid regex %q: %w", ErrInvalidCondition, expected, err)
		}
		return re.MatchString(fmt.Sprint(actual)), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
}

func inSlice(actual, expected any) bool {
	s := fmt.Sprint(actual)
	switch v := expected.(type) {
	case []string:
		for _, item := range v {
			if item == s {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if fmt.Sprint(item) == s {
				return true
			}
		}
	}
	return false
}

func compareNumbers(a, b any) int {
	fa, fb := toFloat64(a), toFloat64(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err != nil {
			return 0
		}
		return f
	}
	return 0
}

func ipInCIDR(ipStr string, cidrVal any) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	var cidrs []string
	switch v := cidrVal.(type) {
	case string:
		cidrs = []string{v}
	case []string:
		cidrs = v
	case []any:
		for _, item := range v {
			cidrs = append(cidrs, fmt.Sprint(item))
		}
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}

func timeCompare(actual, expected any, after bool) bool {
	at, ok := parseTime(actual)
	if !ok {
		return false
	}
	et, ok := parseTime(expected)
	if !ok {
		return false
	}
	if after {
		return at.After(et)
	}
	return at.Before(et)
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
