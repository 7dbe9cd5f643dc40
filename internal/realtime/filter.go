// internal/realtime/filter.go
package realtime

import (
	"fmt"
	"strings"
)

// Filter is a parsed PostgREST-style row filter.
// Format: "column=operator.value" (e.g., "user_id=eq.123")
type Filter struct {
	Column   string
	Operator string
	Value    string
}

// operators the server understands
var filterOperators = map[string]bool{
	"eq":  true,
	"neq": true,
	"gt":  true,
	"gte": true,
	"lt":  true,
	"lte": true,
	"in":  true,
}

// ParseFilter validates a filter string. Filters are evaluated by the server;
// the client only checks that they are well formed before subscribing.
func ParseFilter(filter string) (Filter, error) {
	parts := strings.SplitN(filter, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Filter{}, fmt.Errorf("filter %q: expected column=operator.value", filter)
	}

	column := parts[0]
	opValue := parts[1]

	dotIdx := strings.Index(opValue, ".")
	if dotIdx == -1 {
		return Filter{}, fmt.Errorf("filter %q: missing operator", filter)
	}

	operator := opValue[:dotIdx]
	value := opValue[dotIdx+1:]
	if !filterOperators[operator] {
		return Filter{}, fmt.Errorf("filter %q: unknown operator %q", filter, operator)
	}

	if operator == "in" {
		if !strings.HasPrefix(value, "(") || !strings.HasSuffix(value, ")") {
			return Filter{}, fmt.Errorf("filter %q: in expects a parenthesized list", filter)
		}
	}

	return Filter{Column: column, Operator: operator, Value: value}, nil
}

// Values splits the value of an in filter. Other operators yield the single
// value.
func (f Filter) Values() []string {
	if f.Operator != "in" {
		return []string{f.Value}
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(f.Value, "("), ")")
	if inner == "" {
		return nil
	}
	values := strings.Split(inner, ",")
	for i, v := range values {
		values[i] = strings.TrimSpace(v)
	}
	return values
}

// String formats the filter back to its wire form
func (f Filter) String() string {
	return f.Column + "=" + f.Operator + "." + f.Value
}
