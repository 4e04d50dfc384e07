package store

import (
	"fmt"
	"strconv"
)

// Row is a result row keyed by column name.
// Drivers return different Go types for the same SQL type; the accessors
// normalise them.
type Row map[string]any

// String returns the column as a string, or "" when it is NULL or absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an integer, or 0 when it is NULL, absent or not numeric.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}

// Bool returns the column as a boolean; numeric columns are true when non-zero.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return r.Int64(col) != 0
}

// Params are the named query parameters handed to Record.RunQuery.
type Params map[string]any

// String returns the named parameter when it is a non-empty string.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok && s != ""
}
