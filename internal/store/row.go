package store

import (
	"fmt"
	"strconv"
)

// Row is one realized result row, keyed by column name. The accessors
// normalize the concrete types the SQLite driver hands back.
type Row map[string]any

func (r Row) Int64(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (r Row) Int(column string) int {
	return int(r.Int64(column))
}

func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Bool(column string) bool {
	if v, ok := r[column].(bool); ok {
		return v
	}
	return r.Int64(column) != 0
}
