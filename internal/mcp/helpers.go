package mcp

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

func getStringArg(args map[string]interface{}, key string) string {
	return getStringFromMap(args, key)
}

func getStringFromMap(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getFloatArg extracts a number, accepting numeric strings. ok is false when
// the key is missing or not a number.
func getFloatArg(args map[string]interface{}, key string) (float64, bool) {
	val, ok := args[key]
	if !ok || val == nil {
		return 0, false
	}
	if _, isBool := val.(bool); isBool {
		return 0, false
	}
	f, err := cast.ToFloat64E(val)
	if err != nil {
		return 0, false
	}
	return f, true
}

// getStringSliceArg accepts an array of strings or a single comma-separated string.
func getStringSliceArg(args map[string]interface{}, key string) []string {
	val, ok := args[key]
	if !ok || val == nil {
		return nil
	}
	var raw []string
	if s, isString := val.(string); isString {
		raw = strings.Split(s, ",")
	} else {
		items, err := cast.ToStringSliceE(val)
		if err != nil {
			return nil
		}
		raw = items
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v interface{}) int {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	return cast.ToInt(v)
}
