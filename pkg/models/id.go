package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// IDString renders an id in canonical textual form. 7, int64(7), 7.0,
// json.Number("7") and "7" all render as "7".
func IDString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// SameID reports whether two ids refer to the same record. A missing id never
// matches anything.
func SameID(a, b any) bool {
	as, bs := IDString(a), IDString(b)
	return as != "" && as == bs
}

// ValidID reports whether id can address a record.
func ValidID(id any) bool {
	return IDString(id) != ""
}
