package graphql

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// JSON is a custom scalar type for arbitrary JSON data
type JSON json.RawMessage

// Implement graphql.Marshaler interface
func (j JSON) MarshalGQL(w io.Writer) {
	if j == nil {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(j)
}

// Int64 scalar type for amounts in minor units
type Int64 int64

// MarshalGQL implements graphql.Marshaler for Int64
func (i Int64) MarshalGQL(w io.Writer) {
	// Write as string to avoid JavaScript number precision issues
	_, _ = io.WriteString(w, strconv.Quote(strconv.FormatInt(int64(i), 10)))
}

// UnmarshalGQL implements graphql.Unmarshaler for Int64
func (i *Int64) UnmarshalGQL(v interface{}) error {
	switch v := v.(type) {
	case string:
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as int64: %w", v, err)
		}
		*i = Int64(val)
		return nil
	case json.Number:
		val, err := v.Int64()
		if err != nil {
			return fmt.Errorf("cannot parse %q as int64: %w", v, err)
		}
		*i = Int64(val)
		return nil
	case int:
		*i = Int64(v)
		return nil
	case int64:
		*i = Int64(v)
		return nil
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("int64 cannot have a fraction: %v", v)
		}
		*i = Int64(v)
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %T to Int64", v)
	}
}

// parseTime reads a Time scalar argument
func parseTime(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot unmarshal %T to Time", v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as RFC 3339 time: %w", s, err)
	}
	return t, nil
}
