package jsonutil

import (
	"encoding/json"
	"strconv"
)

// FlexibleString renders an already-decoded JSON scalar as a string.
// Objects and arrays are not scalars and report false.
func FlexibleString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
