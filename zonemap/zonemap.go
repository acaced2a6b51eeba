// Package zonemap implements the File-Stats & Zone-Map Filter (§4.3):
// per-column {min, max, nullCount} summaries computed at write time by the
// Parquet adapter, and the conservative CanSkip predicate used to prune data
// files during Update/Delete/Merge and CDC backfill scans. Grounded on the
// teacher's granule-level min/max filter evaluation in filter.go, generalized
// from Arrow scalar comparisons to the plain-Go comparable values this
// engine's action log carries.
package zonemap

import (
	"time"

	"golang.org/x/exp/slices"
)

// Zone is the per-column summary of one data file.
type Zone struct {
	Min       any
	Max       any
	NullCount int64
}

// Map is a file's zone map, keyed by column name.
type Map map[string]Zone

// Filter is a MongoDB-style filter document: each key is either a column
// name (mapping to a literal, meaning $eq, or an operator map) or one of the
// composite operators $and, $or, $not, $nor.
type Filter map[string]any

const (
	OpEq      = "$eq"
	OpNe      = "$ne"
	OpGt      = "$gt"
	OpGte     = "$gte"
	OpLt      = "$lt"
	OpLte     = "$lte"
	OpIn      = "$in"
	OpBetween = "$between"

	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"
	OpNor = "$nor"
)

// CanSkip reports whether filter provably excludes every row in a file
// described by zones: a true result means the file can be skipped entirely.
// Any unpushable construct ($or, $not, $nor, or a column absent from zones)
// conservatively contributes "cannot skip" rather than being evaluated.
func CanSkip(zones Map, filter Filter) bool {
	for key, value := range filter {
		switch key {
		case OpAnd:
			subs, ok := value.([]Filter)
			if !ok {
				continue
			}
			for _, sub := range subs {
				if CanSkip(zones, sub) {
					return true
				}
			}
		case OpOr, OpNot, OpNor:
			// Passed through unpruned per §4.3: these do not contribute to
			// skip decisions.
			continue
		default:
			zone, ok := zones[key]
			if !ok {
				continue
			}
			if canSkipColumn(zone, value) {
				return true
			}
		}
	}
	return false
}

// canSkipColumn evaluates a single column's condition (a literal, meaning
// $eq, or an operator map) against its zone map.
func canSkipColumn(zone Zone, condition any) bool {
	ops, ok := condition.(map[string]any)
	if !ok {
		return canSkipOp(zone, OpEq, condition)
	}
	for op, val := range ops {
		if canSkipOp(zone, op, val) {
			return true
		}
	}
	return false
}

// canSkipOp implements the conservative pruning rule for one operator: a nil
// or missing bound never allows a skip.
func canSkipOp(zone Zone, op string, value any) bool {
	if zone.Min == nil || zone.Max == nil {
		return false
	}

	switch op {
	case OpEq:
		lt, ok := less(value, zone.Min)
		if ok && lt {
			return true
		}
		gt, ok := less(zone.Max, value)
		return ok && gt
	case OpNe:
		// Only prunable when the zone is constant and equal to value: every
		// row then fails "!= value".
		constant, ok1 := equal(zone.Min, zone.Max)
		matches, ok2 := equal(zone.Min, value)
		return ok1 && ok2 && constant && matches
	case OpGt:
		// skip iff value >= max, i.e. nothing in [min, max] is > value
		lt, ok := less(zone.Max, value)
		if ok && lt {
			return true
		}
		eq, ok := equal(zone.Max, value)
		return ok && eq
	case OpGte:
		// skip iff value > max
		lt, ok := less(zone.Max, value)
		return ok && lt
	case OpLt:
		// skip iff value <= min
		lt, ok := less(value, zone.Min)
		if ok && lt {
			return true
		}
		eq, ok := equal(value, zone.Min)
		return ok && eq
	case OpLte:
		// skip iff value < min
		lt, ok := less(value, zone.Min)
		return ok && lt
	case OpIn:
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return false
		}
		// skip iff every value in the list is individually prunable
		return !slices.ContainsFunc(list, func(v any) bool { return !canSkipOp(zone, OpEq, v) })
	case OpBetween:
		lo, hi, ok := betweenBounds(value)
		if !ok {
			return false
		}
		hiLtMin, ok1 := less(hi, zone.Min)
		loGtMax, ok2 := less(zone.Max, lo)
		return (ok1 && hiLtMin) || (ok2 && loGtMax)
	}
	return false
}

func betweenBounds(value any) (lo, hi any, ok bool) {
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

// less reports a < b for the value types this engine's stats carry (int64,
// float64, string, bool, time.Time). ok is false for incomparable or
// unsupported types, which the caller must treat as "cannot skip".
func less(a, b any) (lt bool, ok bool) {
	switch av := a.(type) {
	case int64:
		bv, ok := toInt64(b)
		if !ok {
			return false, false
		}
		return av < bv, true
	case int:
		bv, ok := toInt64(b)
		if !ok {
			return false, false
		}
		return int64(av) < bv, true
	case float64:
		bv, ok := toFloat64(b)
		if !ok {
			return false, false
		}
		return av < bv, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return false, false
		}
		return av < bv, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return false, false
		}
		return av.Before(bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false, false
		}
		return !av && bv, true
	default:
		return false, false
	}
}

func equal(a, b any) (eq bool, ok bool) {
	ltAB, ok1 := less(a, b)
	ltBA, ok2 := less(b, a)
	if !ok1 || !ok2 {
		return false, false
	}
	return !ltAB && !ltBA, true
}

func toInt64(v any) (int64, bool) {
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

func toFloat64(v any) (float64, bool) {
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
