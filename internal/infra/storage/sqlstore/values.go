package sqlstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vietddude/filler/internal/core/domain"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// bindValue converts a record value into something every supported driver accepts.
// Structured values are stored as JSON text.
func bindValue(v any) any {
	switch x := v.(type) {
	case nil, string, []byte, bool, int64, float64, time.Time:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10)
		}
		return int64(x)
	case domain.Name:
		return string(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case domain.Record, map[string]any, []any:
		b, err := jsonAPI.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = bindValue(a)
	}
	return out
}

// journalValue is a driver value tagged with its kind so a row snapshot
// survives the JSON round trip through the undo journal unchanged.
type journalValue struct {
	K string `json:"k"`
	V string `json:"v,omitempty"`
}

const (
	kindNull   = "n"
	kindInt    = "i"
	kindFloat  = "f"
	kindString = "s"
	kindBytes  = "b"
	kindBool   = "B"
	kindTime   = "t"
)

func encodeValue(v any) journalValue {
	switch x := v.(type) {
	case nil:
		return journalValue{K: kindNull}
	case int64:
		return journalValue{K: kindInt, V: strconv.FormatInt(x, 10)}
	case int:
		return journalValue{K: kindInt, V: strconv.Itoa(x)}
	case int32:
		return journalValue{K: kindInt, V: strconv.FormatInt(int64(x), 10)}
	case float64:
		return journalValue{K: kindFloat, V: strconv.FormatFloat(x, 'g', -1, 64)}
	case float32:
		return journalValue{K: kindFloat, V: strconv.FormatFloat(float64(x), 'g', -1, 32)}
	case bool:
		return journalValue{K: kindBool, V: strconv.FormatBool(x)}
	case []byte:
		return journalValue{K: kindBytes, V: base64.StdEncoding.EncodeToString(x)}
	case time.Time:
		return journalValue{K: kindTime, V: x.UTC().Format(time.RFC3339Nano)}
	case string:
		return journalValue{K: kindString, V: x}
	default:
		return journalValue{K: kindString, V: fmt.Sprint(x)}
	}
}

func decodeValue(j journalValue) (any, error) {
	switch j.K {
	case kindNull:
		return nil, nil
	case kindInt:
		return strconv.ParseInt(j.V, 10, 64)
	case kindFloat:
		return strconv.ParseFloat(j.V, 64)
	case kindBool:
		return strconv.ParseBool(j.V)
	case kindBytes:
		return base64.StdEncoding.DecodeString(j.V)
	case kindTime:
		return time.Parse(time.RFC3339Nano, j.V)
	case kindString:
		return j.V, nil
	default:
		return nil, fmt.Errorf("unknown journal value kind %q", j.K)
	}
}

func encodeRow(row domain.Record) ([]byte, error) {
	enc := make(map[string]journalValue, len(row))
	for k, v := range row {
		enc[k] = encodeValue(v)
	}
	return jsonAPI.Marshal(enc)
}

func decodeRow(data []byte) (domain.Record, error) {
	var enc map[string]journalValue
	if err := jsonAPI.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decode journal row: %w", err)
	}
	row := make(domain.Record, len(enc))
	for k, j := range enc {
		v, err := decodeValue(j)
		if err != nil {
			return nil, fmt.Errorf("decode journal column %q: %w", k, err)
		}
		row[k] = v
	}
	return row, nil
}
