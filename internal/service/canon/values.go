// Package canon holds the leaf helpers used to read loosely structured
// upstream payloads: path extraction, type coercion, date parsing, identifier
// heuristics and structural fingerprints. None of them fail; an empty result is
// always a valid answer.
package canon

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// AsMap returns value as a JSON object or nil.
func AsMap(value any) map[string]any {
	if value == nil {
		return nil
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return nil
}

// AsSlice returns value as a JSON array or nil. Typed slices are converted.
func AsSlice(value any) []any {
	if value == nil {
		return nil
	}
	if values, ok := value.([]any); ok {
		return values
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return nil
	}
	kind := rv.Kind()
	if kind != reflect.Slice && kind != reflect.Array {
		return nil
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil
	}
	values := make([]any, rv.Len())
	for idx := 0; idx < rv.Len(); idx++ {
		values[idx] = rv.Index(idx).Interface()
	}
	return values
}

// AsBool reports true only for boolean true or the strings "true"/"1".
func AsBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "1" || s == "yes"
	default:
		return false
	}
}

// ToStringValue renders scalars as trimmed strings. Objects, arrays, nil and
// blank strings report ok=false.
func ToStringValue(value any) (string, bool) {
	var out string
	switch v := value.(type) {
	case string:
		out = strings.TrimSpace(v)
	case json.Number:
		out = v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		out = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		out = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		out = strconv.Itoa(v)
	case int64:
		out = strconv.FormatInt(v, 10)
	case int32:
		out = strconv.FormatInt(int64(v), 10)
	case uint64:
		out = strconv.FormatUint(v, 10)
	case bool:
		out = strconv.FormatBool(v)
	default:
		return "", false
	}
	if out == "" {
		return "", false
	}
	return out, true
}

// ToNumber coerces numbers and numeric strings, including strings carrying
// currency symbols or thousands separators ("$1,234.50", "12,5 €").
func ToNumber(value any) (float64, bool) {
	var out float64
	switch v := value.(type) {
	case float64:
		out = v
	case float32:
		out = float64(v)
	case int:
		out = float64(v)
	case int64:
		out = float64(v)
	case int32:
		out = float64(v)
	case uint64:
		out = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		out = parsed
	case string:
		parsed, ok := parseNumericString(v)
		if !ok {
			return 0, false
		}
		out = parsed
	default:
		return 0, false
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, false
	}
	return out, true
}

func parseNumericString(raw string) (float64, bool) {
	// currency codes and symbols may lead or trail the number, nothing else may
	trimmed := strings.TrimFunc(raw, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '-' && r != '+' && r != '.'
	})
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '+':
			b.WriteRune(r)
		case r == ' ' || r == '\u00a0' || r == '_' || r == '\'':
		default:
			return 0, false
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	comma := strings.LastIndex(cleaned, ",")
	dot := strings.LastIndex(cleaned, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-comma-1 <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// epoch values at or above this magnitude are milliseconds
const epochMillisThreshold = 1e11

// ParseDateLike parses ISO-8601 strings, epoch seconds and epoch milliseconds
// (as numbers or numeric strings). The result is always UTC.
func ParseDateLike(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(n)
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		n, ok := ToNumber(value)
		if !ok {
			return time.Time{}, false
		}
		return fromEpoch(n)
	}
}

func fromEpoch(n float64) (time.Time, bool) {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	if math.Abs(n) >= epochMillisThreshold {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// IsLikelyGuid reports whether s looks like an opaque hex identifier:
// at least 8 characters, hex digits and hyphens only, at least one hyphen.
func IsLikelyGuid(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 8 || !strings.Contains(s, "-") {
		return false
	}
	hexDigits := 0
	for _, r := range s {
		switch {
		case r == '-':
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			hexDigits++
		default:
			return false
		}
	}
	return hexDigits >= 8
}

// NormalizeKey folds a label or identifier into a lookup key: NFC, lower case,
// runs of whitespace collapsed to one space.
func NormalizeKey(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// FirstString returns the first candidate that coerces to a non-empty string.
func FirstString(candidates ...any) string {
	for _, candidate := range candidates {
		if s, ok := ToStringValue(candidate); ok {
			return s
		}
	}
	return ""
}
