package search

import (
	"fmt"
	"reflect"
	"strings"

	agenterrors "github.com/Aman-CERP/agentmem/internal/errors"
)

// FilterOp combines the conditions and subgroups of a FilterGroup.
type FilterOp string

const (
	FilterAnd FilterOp = "AND"
	FilterOr  FilterOp = "OR"
	FilterNot FilterOp = "NOT"
)

// Comparison operators for FilterCondition.
const (
	OpEq        = "eq"
	OpNe        = "ne"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpIn        = "in"
	OpNin       = "nin"
	OpContains  = "contains"
	OpIContains = "icontains"
)

var validOperators = map[string]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpNin: {}, OpContains: {}, OpIContains: {},
}

// FilterCondition compares one metadata field against a value.
type FilterCondition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// FilterGroup is a boolean combination of conditions and nested groups.
// NOT negates the AND of its members. An empty group matches everything.
type FilterGroup struct {
	Op         FilterOp          `json:"op" yaml:"op"`
	Conditions []FilterCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Groups     []*FilterGroup    `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Validate checks operators and group ops recursively.
func (g *FilterGroup) Validate() error {
	if g == nil {
		return nil
	}
	switch g.Op {
	case "", FilterAnd, FilterOr, FilterNot:
	default:
		return agenterrors.New(agenterrors.ErrCodeInvalidFilter,
			fmt.Sprintf("unknown filter group op %q", g.Op), nil)
	}
	for _, c := range g.Conditions {
		if c.Field == "" {
			return agenterrors.New(agenterrors.ErrCodeInvalidFilter, "filter condition without field", nil)
		}
		if _, ok := validOperators[c.Operator]; !ok {
			return agenterrors.New(agenterrors.ErrCodeInvalidFilter,
				fmt.Sprintf("unknown filter operator %q", c.Operator), nil).WithDetail("field", c.Field)
		}
	}
	for _, sub := range g.Groups {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Match evaluates the group against a metadata map.
func (g *FilterGroup) Match(metadata map[string]any) bool {
	if g == nil {
		return true
	}

	results := make([]bool, 0, len(g.Conditions)+len(g.Groups))
	for _, c := range g.Conditions {
		results = append(results, c.Match(metadata))
	}
	for _, sub := range g.Groups {
		results = append(results, sub.Match(metadata))
	}
	if len(results) == 0 {
		return true
	}

	switch g.Op {
	case FilterOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	case FilterNot:
		return !allTrue(results)
	default:
		return allTrue(results)
	}
}

func allTrue(results []bool) bool {
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// Match evaluates one condition. A missing field matches only ne and nin.
func (c FilterCondition) Match(metadata map[string]any) bool {
	actual, present := metadata[c.Field]
	if !present {
		return c.Operator == OpNe || c.Operator == OpNin
	}

	switch c.Operator {
	case OpEq:
		return valuesEqual(actual, c.Value)
	case OpNe:
		return !valuesEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		return inList(actual, c.Value)
	case OpNin:
		return !inList(actual, c.Value)
	case OpContains:
		return contains(actual, c.Value, false)
	case OpIContains:
		return contains(actual, c.Value, true)
	default:
		return false
	}
}

// valuesEqual compares numbers numerically and everything else by its
// string form, so "3" from a flag equals 3 from JSON.
func valuesEqual(a, b any) bool {
	if fa, ok := floatFromMetadata(a); ok {
		if fb, ok := floatFromMetadata(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders numbers numerically and strings lexically.
func compareValues(a, b any) (int, bool) {
	if fa, ok := floatFromMetadata(a); ok {
		if fb, ok := floatFromMetadata(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func inList(actual, list any) bool {
	for _, item := range toSlice(list) {
		if valuesEqual(actual, item) {
			return true
		}
	}
	return false
}

// contains tests substring containment for strings and membership for slices.
func contains(actual, needle any, fold bool) bool {
	if s, ok := actual.(string); ok {
		n := fmt.Sprint(needle)
		if fold {
			return strings.Contains(strings.ToLower(s), strings.ToLower(n))
		}
		return strings.Contains(s, n)
	}
	for _, item := range toSlice(actual) {
		if fold {
			if strings.EqualFold(fmt.Sprint(item), fmt.Sprint(needle)) {
				return true
			}
		} else if valuesEqual(item, needle) {
			return true
		}
	}
	return false
}

// toSlice turns any slice or array value into []any. Scalars become a
// single-element slice.
func toSlice(v any) []any {
	if v == nil {
		return nil
	}
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// ApplyFilters keeps results whose metadata satisfies every equality filter
// and the filter group. Order is preserved.
func ApplyFilters(results []*SearchResult, equals map[string]string, group *FilterGroup) []*SearchResult {
	if len(equals) == 0 && group == nil {
		return results
	}

	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if matchesEquals(r.Metadata, equals) && group.Match(r.Metadata) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func matchesEquals(metadata map[string]any, equals map[string]string) bool {
	for k, want := range equals {
		got, ok := metadata[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}
