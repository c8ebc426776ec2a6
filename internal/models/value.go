package models

import (
	"math"
	"strconv"
	"strings"
)

// ValidFloat reports whether a raw KPI value is a usable number.
// Simulation exports encode "not applicable" as missing entries, booleans or
// placeholder strings; all of those count as absent rather than zero. NaN is
// also absent so a stored NaN never flows into a benefit difference.
func ValidFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case float32:
		return ValidFloat(float64(x))
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		switch strings.ToLower(s) {
		case "false", "true", "none", "nan":
			return 0, false
		}
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
