package transform

import (
	"fmt"
	"math"
)

// builtins returns the transforms every registry starts with.
//
//	mask        recursively replaces values: strings become x-runs of
//	            the same length, numbers become 0, everything else nil
//	drop        removes the field entirely
//	round3      rounds numeric values to three decimals
//	one_if_set  0 for nil, 1 for anything else
//	length      the element count of strings, slices and maps
//	stringify   the value rendered with fmt
func builtins() map[string]Func {
	return map[string]Func{
		"mask":       func(v any) (any, bool) { return Mask(v), true },
		"drop":       func(any) (any, bool) { return nil, false },
		"round3":     round3,
		"one_if_set": oneIfSet,
		"length":     length,
		"stringify":  func(v any) (any, bool) { return fmt.Sprintf("%v", v), true },
	}
}

// Mask replaces user data with shape-preserving placeholders: maps and
// slices recurse, strings become "x" repeated to the original length,
// numbers become 0, anything else nil.
func Mask(v any) any {
	switch val := v.(type) {
	case map[string]any:
		masked := make(map[string]any, len(val))
		for k, item := range val {
			masked[k] = Mask(item)
		}
		return masked
	case []any:
		masked := make([]any, len(val))
		for i, item := range val {
			masked[i] = Mask(item)
		}
		return masked
	case string:
		masked := make([]byte, len(val))
		for i := range masked {
			masked[i] = 'x'
		}
		return string(masked)
	case int, int32, int64:
		return 0
	case float32, float64:
		return 0
	case bool:
		return val
	}
	return nil
}

func round3(v any) (any, bool) {
	switch val := v.(type) {
	case float64:
		return math.Round(val*1000) / 1000, true
	case float32:
		return math.Round(float64(val)*1000) / 1000, true
	}
	return v, true
}

func oneIfSet(v any) (any, bool) {
	if v == nil {
		return 0, true
	}
	return 1, true
}

func length(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		return len(val), true
	case []any:
		return len(val), true
	case map[string]any:
		return len(val), true
	case nil:
		return 0, true
	}
	return v, true
}
