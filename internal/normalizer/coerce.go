package normalizer

import (
	"strconv"
	"strings"
)

// The feed is inconsistently typed across cruise lines: numbers arrive as
// JSON numbers or as strings, and some string fields carry the sentinel
// "system" where other lines send null. Every numeric field in the pipeline
// goes through these helpers so nothing downstream ever sees a raw quirk.

// intOrNil coerces a raw JSON value to *int, returning nil for null, empty
// strings, sentinels and anything unparseable.
func intOrNil(v any) *int {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		n := int(t)
		return &n
	case int:
		return &t
	case string:
		s := strings.TrimSpace(t)
		if s == "" || isSentinel(s) {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			// Some lines send integers with a decimal tail ("7.0").
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return nil
			}
			n = int(f)
		}
		return &n
	default:
		return nil
	}
}

// uintOrNil is intOrNil restricted to positive identifiers.
func uintOrNil(v any) *uint {
	n := intOrNil(v)
	if n == nil || *n <= 0 {
		return nil
	}
	u := uint(*n)
	return &u
}

// floatOrNil coerces a raw JSON value to *float64 with the same null rules.
func floatOrNil(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(t)
		if s == "" || isSentinel(s) {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// stringOr returns the value as a trimmed string, or fallback when absent.
func stringOr(v any, fallback string) string {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	s = strings.TrimSpace(s)
	if s == "" || isSentinel(s) {
		return fallback
	}
	return s
}

// idList normalizes an id collection that arrives either as a JSON array or
// as a comma-separated string ("12,44,3") into an ordered []uint. Entries
// that do not parse as positive integers are dropped.
func idList(v any) []uint {
	var out []uint
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if id := uintOrNil(item); id != nil {
				out = append(out, *id)
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if id := uintOrNil(part); id != nil {
				out = append(out, *id)
			}
		}
	}
	return out
}

// isSentinel reports whether the feed uses this string to mean "absent".
func isSentinel(s string) bool {
	switch strings.ToLower(s) {
	case "system", "null", "n/a":
		return true
	}
	return false
}
