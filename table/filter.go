package table

import (
	"time"

	"github.com/deltakernel/deltakernel/zonemap"
)

// matchesRow evaluates a MongoDB-style filter document against one row's
// actual values, the row-level counterpart to zonemap.CanSkip's zone-level
// pruning: CanSkip decides whether a whole file can be skipped, matchesRow
// decides whether one of its surviving rows is actually selected.
func matchesRow(row map[string]any, filter zonemap.Filter) bool {
	for key, value := range filter {
		switch key {
		case zonemap.OpAnd:
			subs, ok := value.([]zonemap.Filter)
			if !ok {
				return false
			}
			for _, sub := range subs {
				if !matchesRow(row, sub) {
					return false
				}
			}
		case zonemap.OpOr:
			subs, ok := value.([]zonemap.Filter)
			if !ok {
				return false
			}
			matched := false
			for _, sub := range subs {
				if matchesRow(row, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case zonemap.OpNot:
			sub, ok := value.(zonemap.Filter)
			if !ok {
				return false
			}
			if matchesRow(row, sub) {
				return false
			}
		case zonemap.OpNor:
			subs, ok := value.([]zonemap.Filter)
			if !ok {
				return false
			}
			for _, sub := range subs {
				if matchesRow(row, sub) {
					return false
				}
			}
		default:
			if !matchesColumn(row[key], value) {
				return false
			}
		}
	}
	return true
}

func matchesColumn(actual any, condition any) bool {
	ops, ok := condition.(map[string]any)
	if !ok {
		return matchOp(actual, zonemap.OpEq, condition)
	}
	for op, want := range ops {
		if !matchOp(actual, op, want) {
			return false
		}
	}
	return true
}

func matchOp(actual any, op string, want any) bool {
	switch op {
	case zonemap.OpEq:
		eq, ok := rowEqual(actual, want)
		return ok && eq
	case zonemap.OpNe:
		eq, ok := rowEqual(actual, want)
		return !ok || !eq
	case zonemap.OpGt:
		lt, ok := rowLess(want, actual)
		return ok && lt
	case zonemap.OpGte:
		lt, ok := rowLess(actual, want)
		return ok && !lt
	case zonemap.OpLt:
		lt, ok := rowLess(actual, want)
		return ok && lt
	case zonemap.OpLte:
		lt, ok := rowLess(want, actual)
		return ok && !lt
	case zonemap.OpIn:
		list, ok := want.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if eq, ok := rowEqual(actual, v); ok && eq {
				return true
			}
		}
		return false
	case zonemap.OpBetween:
		lo, hi, ok := rowBetweenBounds(want)
		if !ok {
			return false
		}
		ltLo, ok1 := rowLess(actual, lo)
		ltHi, ok2 := rowLess(hi, actual)
		return ok1 && ok2 && !ltLo && !ltHi
	}
	return false
}

func rowBetweenBounds(value any) (lo, hi any, ok bool) {
	switch v := value.(type) {
	case [2]any:
		return v[0], v[1], true
	case []any:
		if len(v) == 2 {
			return v[0], v[1], true
		}
	}
	return nil, nil, false
}

func rowLess(a, b any) (lt bool, ok bool) {
	switch av := a.(type) {
	case int64:
		bv, ok := rowToInt64(b)
		return av < bv, ok
	case int:
		bv, ok := rowToInt64(b)
		return int64(av) < bv, ok
	case float64:
		bv, ok := rowToFloat64(b)
		return av < bv, ok
	case string:
		bv, ok := b.(string)
		return av < bv, ok
	case time.Time:
		bv, ok := b.(time.Time)
		return av.Before(bv), ok
	case bool:
		bv, ok := b.(bool)
		return !av && bv, ok
	default:
		return false, false
	}
}

func rowEqual(a, b any) (eq bool, ok bool) {
	ltAB, ok1 := rowLess(a, b)
	ltBA, ok2 := rowLess(b, a)
	if !ok1 || !ok2 {
		return false, false
	}
	return !ltAB && !ltBA, true
}

func rowToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func rowToFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
