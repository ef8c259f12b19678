package strategy

import (
	"strconv"
	"strings"
)

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func intParam(params map[string]any, key string, fallback int) int {
	if v, ok := number(params[key]); ok && v > 0 {
		return int(v)
	}
	return fallback
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	if v, ok := number(params[key]); ok {
		return v
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	switch x := params[key].(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err == nil {
			return b
		}
	}
	return fallback
}
