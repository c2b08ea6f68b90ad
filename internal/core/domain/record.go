package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Record is a decoded structured value: a contract row, action data or a
// database row read back through a transaction.
type Record map[string]any

// Has reports whether key is set.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// String returns the value under key formatted as a string.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Uint64 returns the value under key as an unsigned integer. Chain encoders emit
// 64-bit integers as strings, so numeric strings are accepted.
func (r Record) Uint64(key string) (uint64, error) {
	switch v := r[key].(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("field %q: negative value %d", key, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("field %q: negative value %d", key, v)
		}
		return uint64(v), nil
	case float64:
		if v < 0 || v > math.MaxUint64 || v != math.Trunc(v) {
			return 0, fmt.Errorf("field %q: %v is not an unsigned integer", key, v)
		}
		return uint64(v), nil
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return n, nil
	case []byte:
		return strconv.ParseUint(string(v), 10, 64)
	case nil:
		return 0, fmt.Errorf("field %q: missing", key)
	default:
		return 0, fmt.Errorf("field %q: unsupported type %T", key, v)
	}
}

// Int64 returns the value under key as a signed integer.
func (r Record) Int64(key string) (int64, error) {
	switch v := r[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("field %q: %d overflows int64", key, v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field %q: %v is not an integer", key, v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return n, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case nil:
		return 0, fmt.Errorf("field %q: missing", key)
	default:
		return 0, fmt.Errorf("field %q: unsupported type %T", key, v)
	}
}

// Bool returns the value under key as a boolean. Drivers without a native
// boolean type hand back integers.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case []byte:
		b, _ := strconv.ParseBool(string(v))
		return b
	default:
		return false
	}
}

// Record returns the nested record under key, or nil.
func (r Record) Record(key string) Record {
	switch v := r[key].(type) {
	case Record:
		return v
	case map[string]any:
		return Record(v)
	default:
		return nil
	}
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
