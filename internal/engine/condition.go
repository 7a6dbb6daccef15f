package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// EntityData is the flat field mapping a condition set is evaluated against.
type EntityData map[string]any

// Evaluate applies one condition to the entity data. It never errors:
// unknown operators and type-mismatched comparisons resolve to false so rule
// matching stays total over arbitrary payloads.
func Evaluate(cond Condition, data EntityData) bool {
	fieldValue, exists := data[cond.Field]

	switch cond.Operator {
	case OpExists:
		return exists && fieldValue != nil

	case OpEQ:
		return looseEqual(fieldValue, cond.Value)

	case OpNEQ:
		return !looseEqual(fieldValue, cond.Value)

	case OpIn:
		return containsValue(cond.Value, fieldValue)

	case OpNotIn:
		items, ok := asSlice(cond.Value)
		if !ok {
			return false
		}
		for _, item := range items {
			if looseEqual(fieldValue, item) {
				return false
			}
		}
		return true

	case OpGT, OpGTE, OpLT, OpLTE:
		left, okL := coerceNumeric(fieldValue)
		right, okR := coerceNumeric(cond.Value)
		if !okL || !okR {
			return false
		}
		switch cond.Operator {
		case OpGT:
			return left > right
		case OpGTE:
			return left >= right
		case OpLT:
			return left < right
		default:
			return left <= right
		}

	case OpContains:
		if !exists || fieldValue == nil {
			return false
		}
		return strings.Contains(
			strings.ToLower(stringify(fieldValue)),
			strings.ToLower(stringify(cond.Value)),
		)

	case OpStartsWith:
		if !exists || fieldValue == nil {
			return false
		}
		return strings.HasPrefix(
			strings.ToLower(stringify(fieldValue)),
			strings.ToLower(stringify(cond.Value)),
		)

	case OpBetween:
		bounds, ok := asSlice(cond.Value)
		if !ok || len(bounds) != 2 {
			return false
		}
		v, okV := coerceNumeric(fieldValue)
		lo, okLo := coerceNumeric(bounds[0])
		hi, okHi := coerceNumeric(bounds[1])
		if !okV || !okLo || !okHi {
			return false
		}
		return v >= lo && v <= hi
	}

	// Unknown operator: fail closed.
	return false
}

// EvaluateAll folds a condition list left to right. The first condition
// seeds the accumulator; each later condition combines via its own logical
// operator (default AND). The first condition's operator is deliberately
// never consulted. An empty list evaluates to false.
func EvaluateAll(conds []Condition, data EntityData) bool {
	if len(conds) == 0 {
		return false
	}

	result := Evaluate(conds[0], data)
	for _, cond := range conds[1:] {
		next := Evaluate(cond, data)
		if cond.LogicalOperator == LogicalOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// ── value helpers ─────────────────────────────────────────────────────────────

// looseEqual compares two values: numbers as numbers, strings as strings,
// bools as bools. Cross-type comparisons are never equal.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	fa, numA := numericValue(a)
	fb, numB := numericValue(b)
	if numA || numB {
		return numA && numB && fa == fb
	}

	sa, strA := a.(string)
	sb, strB := b.(string)
	if strA || strB {
		return strA && strB && sa == sb
	}

	ba, boolA := a.(bool)
	bb, boolB := b.(bool)
	if boolA || boolB {
		return boolA && boolB && ba == bb
	}

	return reflect.DeepEqual(a, b)
}

// containsValue reports membership of needle in list (which must be a slice).
func containsValue(list, needle any) bool {
	items, ok := asSlice(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(needle, item) {
			return true
		}
	}
	return false
}

// numericValue unwraps any numeric Go type to float64. Strings are not
// numbers here; see coerceNumeric for the ordered operators.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// coerceNumeric converts numbers and numeric strings to float64.
func coerceNumeric(v any) (float64, bool) {
	if f, ok := numericValue(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// asSlice normalizes any slice or array value to []any.
func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// stringify renders a value for substring comparisons.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
