// Package configval converts the loosely-typed values a roomconfig.View
// returns (as decoded from YAML/JSON, where numbers arrive as int or
// float64 and lists as []any) into the concrete Go types callers want.
package configval

import "strconv"

// String coerces v to a string, returning def if v isn't a string.
func String(v any, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// Bool coerces v to a bool, returning def if v isn't a bool.
func Bool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Int coerces v to an int from int, float64, or a parseable string.
func Int(v any, def int) int {
	switch vv := v.(type) {
	case int:
		return vv
	case int64:
		return int(vv)
	case float64:
		return int(vv)
	case string:
		n, err := strconv.Atoi(vv)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Float coerces v to a float64 from int, float64, or a parseable string.
func Float(v any, def float64) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case int:
		return float64(vv)
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// StringSlice coerces v to a []string from []string or []any of strings.
func StringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// FloatPair coerces v to a [lo, hi] pair from a 2-element slice of any
// numeric type, or a single scalar used for both bounds.
func FloatPair(v any) (lo, hi float64) {
	switch vv := v.(type) {
	case []float64:
		if len(vv) == 2 {
			return vv[0], vv[1]
		}
	case []int:
		if len(vv) == 2 {
			return float64(vv[0]), float64(vv[1])
		}
	case []any:
		if len(vv) == 2 {
			return Float(vv[0], 0), Float(vv[1], 0)
		}
	case int:
		return float64(vv), float64(vv)
	case float64:
		return vv, vv
	}
	return 0, 0
}
