package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"SimLedger/internal/num"
)

// UnitState is a mapping from string keys to canonicalizable values.
// Allowed value types: nil, bool, int/int32/int64, num.Decimal, string,
// map[string]any of the same, and []any of the same, nested arbitrarily.
type UnitState = map[string]any

// TimestampLayout is the canonical ISO-8601 form with fixed microsecond
// precision used for hashing and the persisted form.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// CanonicalTimestamp formats t in UTC with fixed precision.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses the canonical timestamp form.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// CanonicalValue maps an allowed state value to its deterministic string
// form. Equal values produce equal strings regardless of map insertion
// order or decimal representation. Unsupported types are an error: state
// identity must never depend on formatting accidents.
func CanonicalValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case num.Decimal:
		return x.Canonical(), nil
	case string:
		// Length-prefixed so delimiters inside the string stay unambiguous.
		return fmt.Sprintf("s:%d:%s", len(x), x), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(';')
			}
			cv, err := CanonicalValue(x[k])
			if err != nil {
				return "", fmt.Errorf("key %q: %w", k, err)
			}
			fmt.Fprintf(&b, "s:%d:%s=%s", len(k), k, cv)
		}
		b.WriteByte('}')
		return b.String(), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			cv, err := CanonicalValue(item)
			if err != nil {
				return "", fmt.Errorf("index %d: %w", i, err)
			}
			b.WriteString(cv)
		}
		b.WriteByte(']')
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported state value type %T", v)
	}
}

// CanonicalState canonicalizes a state mapping. A nil map canonicalizes
// to "null" so a missing state is distinguishable from an empty one.
func CanonicalState(s UnitState) (string, error) {
	if s == nil {
		return "null", nil
	}
	return CanonicalValue(s)
}

// MustCanonicalValue panics on unsupported types. For values already
// validated at construction time.
func MustCanonicalValue(v any) string {
	s, err := CanonicalValue(v)
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateState verifies that every value in s is canonicalizable.
func ValidateState(s UnitState) error {
	_, err := CanonicalState(s)
	return err
}

// CopyState deep-copies a state mapping. nil stays nil.
func CopyState(s UnitState) UnitState {
	if s == nil {
		return nil
	}
	out := make(UnitState, len(s))
	for k, v := range s {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	default:
		// Scalars (and num.Decimal) are immutable values.
		return v
	}
}

// StateEqual compares two state mappings by canonical form.
func StateEqual(a, b UnitState) bool {
	ca, err := CanonicalState(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalState(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// ValueEqual compares two state values by canonical form.
func ValueEqual(a, b any) bool {
	ca, err := CanonicalValue(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalValue(b)
	if err != nil {
		return false
	}
	return ca == cb
}
