package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	reasonNotText    = "not a text value"
	reasonNotInteger = "not coercible to integer"
	reasonNotFloat   = "not coercible to float"
)

// Text trims surrounding whitespace. Absent input and non-text input yield null.
func Text(v any) Result[string] {
	switch s := v.(type) {
	case nil:
		return absent[string]()
	case string:
		return valid(strings.TrimSpace(s))
	case *string:
		if s == nil {
			return absent[string]()
		}
		return valid(strings.TrimSpace(*s))
	default:
		return failed[string](v, reasonNotText)
	}
}

// Int coerces JSON numbers, Go numeric types and numeric strings to an
// integer. Fractional numbers are truncated toward zero.
func Int(v any) Result[int64] {
	switch n := v.(type) {
	case nil:
		return absent[int64]()
	case json.Number:
		return intFromString(v, n.String())
	case string:
		return intFromString(v, n)
	case int:
		return valid(int64(n))
	case int32:
		return valid(int64(n))
	case int64:
		return valid(n)
	case float32:
		return intFromFloat(v, float64(n))
	case float64:
		return intFromFloat(v, n)
	default:
		return failed[int64](v, reasonNotInteger)
	}
}

// Float coerces JSON numbers, Go numeric types and numeric strings to float64.
func Float(v any) Result[float64] {
	switch n := v.(type) {
	case nil:
		return absent[float64]()
	case json.Number:
		return floatFromString(v, n.String())
	case string:
		return floatFromString(v, n)
	case int:
		return valid(float64(n))
	case int64:
		return valid(float64(n))
	case float32:
		return floatChecked(v, float64(n))
	case float64:
		return floatChecked(v, n)
	default:
		return failed[float64](v, reasonNotFloat)
	}
}

func intFromString(raw any, s string) Result[int64] {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return valid(i)
	}
	// JSON numbers such as 7200.0 still carry an integral value.
	if _, isNumber := raw.(json.Number); isNumber {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return intFromFloat(raw, f)
		}
	}
	return failed[int64](raw, reasonNotInteger)
}

func intFromFloat(raw any, f float64) Result[int64] {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return failed[int64](raw, reasonNotInteger)
	}
	return valid(int64(f))
}

func floatFromString(raw any, s string) Result[float64] {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return failed[float64](raw, reasonNotFloat)
	}
	return floatChecked(raw, f)
}

func floatChecked(raw any, f float64) Result[float64] {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return failed[float64](raw, reasonNotFloat)
	}
	return valid(f)
}
