package sandbox

import (
	stdjson "encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Null is the SQL literal rendered for absent values.
const Null = "NULL"

// Quote renders v as a SQL literal. nil and the empty string become NULL,
// numbers and booleans are written bare, and everything else is wrapped
// in single quotes with each embedded quote doubled.
func Quote(v any) string {
	switch x := v.(type) {
	case nil:
		return Null
	case string:
		return quoteString(x)
	case DateString:
		return quoteString(x.DateTime())
	case []byte:
		return quoteString(string(x))
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case stdjson.Number:
		return x.String()
	case Timestamp:
		return quoteString(x.DateTime())
	case time.Time:
		return quoteString(NewTimestamp(x).DateTime())
	case fmt.Stringer:
		return quoteString(x.String())
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	if s == "" {
		return Null
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
