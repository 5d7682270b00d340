package filter

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Raw request values arrive as decoded JSON (float64, string, bool, []any,
// map[string]any) or as form values (string, []any, map[string]any for
// indexed brackets). The helpers below coerce them without failing.

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case int:
		return x != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "on", "yes":
			return true, true
		case "0", "false", "off", "no", "":
			return false, true
		}
	}
	return false, false
}

func toString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// toList flattens a list-ish value. Scalars become one-item lists, strings
// are split on commas, and maps with indexed keys are read in index order.
func toList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case string:
		if !strings.Contains(x, ",") {
			return []any{x}
		}
		parts := strings.Split(x, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, p)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			switch {
			case errA == nil && errB == nil:
				return a < b
			case errA == nil:
				return true
			case errB == nil:
				return false
			}
			return keys[i] < keys[j]
		})
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, x[k])
		}
		return out
	default:
		return []any{v}
	}
}

// toIDs coerces v into positive, unique IDs keeping first-occurrence order.
func toIDs(v any) []int64 {
	items := toList(v)
	if len(items) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(items))
	var out []int64
	for _, it := range items {
		id, ok := toInt(it)
		if !ok || id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

// Int coerces a raw request value to an integer.
func Int(v any) (int64, bool) { return toInt(v) }

// Bool coerces a raw request value to a boolean. Unknown values are false.
func Bool(v any) bool {
	b, _ := toBool(v)
	return b
}

// String coerces a raw scalar request value to a string.
func String(v any) string {
	s, _ := toString(v)
	return s
}

// IDs coerces a raw list-ish request value to positive unique IDs.
func IDs(v any) []int64 { return toIDs(v) }
