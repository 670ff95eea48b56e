package stores

import (
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanTime normalizes the driver-dependent representations of a timestamp
// column. SQLite hands back strings; other drivers hand back time.Time.
func scanTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := parseFlexibleTime(t); err == nil {
			return parsed
		}
	case []byte:
		if parsed, err := parseFlexibleTime(string(t)); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
