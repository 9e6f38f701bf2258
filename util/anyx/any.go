package anyx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Number converts any type to the specified number type,
// strings and json.Number are parsed, unknown types convert to 0.
func Number[T constraints.Integer | constraints.Float](v any) T {
	switch vv := v.(type) {
	case int:
		return T(vv)
	case int8:
		return T(vv)
	case int16:
		return T(vv)
	case int32:
		return T(vv)
	case int64:
		return T(vv)
	case uint:
		return T(vv)
	case uint8:
		return T(vv)
	case uint16:
		return T(vv)
	case uint32:
		return T(vv)
	case uint64:
		return T(vv)
	case float32:
		return T(vv)
	case float64:
		return T(vv)
	case bool:
		if vv {
			return T(1)
		}
		return T(0)
	case string:
		x, err := strconv.ParseInt(strings.TrimSpace(vv), 10, 64)
		if err != nil {
			y, err := strconv.ParseFloat(strings.TrimSpace(vv), 64)
			if err != nil {
				return T(0)
			}
			return T(y)
		}
		return T(x)
	case json.Number:
		x, err := vv.Int64()
		if err != nil {
			y, err := vv.Float64()
			if err != nil {
				return T(0)
			}
			return T(y)
		}
		return T(x)
	default:
		return T(0)
	}
}

// IsNumber returns true if the given value can be converted by Number.
func IsNumber(v any) bool {
	switch vv := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(vv), 64)
		return err == nil
	default:
		return false
	}
}

// Bool converts any type to a bool.
func Bool(v any) bool {
	switch vv := v.(type) {
	case bool:
		return vv
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return Number[float64](vv) != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(vv))
		if err != nil {
			return vv != "" && vv != "0"
		}
		return b
	case fmt.Stringer:
		return vv.String() != "0"
	default:
		return false
	}
}

// String converts any type to a string.
func String(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case []byte:
		return string(vv)
	case int:
		return strconv.FormatInt(int64(vv), 10)
	case int64:
		return strconv.FormatInt(vv, 10)
	case uint64:
		return strconv.FormatUint(vv, 10)
	case float32:
		return strconv.FormatFloat(float64(vv), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Strings converts a list or a comma-separated string to a string slice.
func Strings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		ss := make([]string, 0, len(vv))
		for i := range vv {
			ss = append(ss, String(vv[i]))
		}
		return ss
	case string:
		if vv == "" {
			return nil
		}
		ss := strings.Split(vv, ",")
		for i := range ss {
			ss[i] = strings.TrimSpace(ss[i])
		}
		return ss
	default:
		return []string{String(v)}
	}
}

// Slice converts a list to an any slice,
// nil and other types convert to nil.
func Slice(v any) []any {
	switch vv := v.(type) {
	case []any:
		return vv
	case []string:
		ss := make([]any, len(vv))
		for i := range vv {
			ss[i] = vv[i]
		}
		return ss
	default:
		return nil
	}
}
