// Package expr evaluates restricted boolean predicates against a
// record's field map. It deliberately supports only comparisons,
// boolean connectives and presence checks - predicates are plain data,
// never code, so they are safe to accept from configuration.
//
// Grammar, informally:
//
//	not EXPR | !EXPR
//	EXPR and EXPR | EXPR or EXPR
//	VALUE op VALUE        op: == != >= <= > < contains
//	exists FIELD | missing FIELD
//	VALUE                 (truthiness)
//
// Values are quoted strings, numbers, true/false/null, or field names.
// Field names resolve against the variable map and may use dots to
// descend into nested maps: Filter.status resolves vars["Filter"]["status"].
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// BinaryOp compares two resolved values.
type BinaryOp func(left, right any) bool

// Evaluator evaluates predicates, optionally extended with custom
// operators.
type Evaluator struct {
	customOps map[string]BinaryOp
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithOperator registers a custom binary operator. The name must not
// collide with a built-in operator.
func WithOperator(name string, fn BinaryOp) Option {
	return func(e *Evaluator) {
		if e.customOps == nil {
			e.customOps = make(map[string]BinaryOp)
		}
		e.customOps[name] = fn
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Eval evaluates a predicate with the default evaluator.
func Eval(predicate string, vars map[string]any) (bool, error) {
	return New().Evaluate(predicate, vars)
}

// Evaluate evaluates a predicate against the variable map.
// An empty predicate is false.
func (e *Evaluator) Evaluate(predicate string, vars map[string]any) (bool, error) {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		return false, nil
	}

	// Negation prefixes.
	if rest, ok := strings.CutPrefix(predicate, "not "); ok {
		result, err := e.Evaluate(rest, vars)
		return !result, err
	}
	if rest, ok := strings.CutPrefix(predicate, "!"); ok {
		result, err := e.Evaluate(rest, vars)
		return !result, err
	}

	// Connectives, left-to-right, "and" binding no tighter than "or"
	// (parenthesized grouping is not supported).
	if left, right, ok := strings.Cut(predicate, " and "); ok {
		l, err := e.Evaluate(left, vars)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return e.Evaluate(right, vars)
	}
	if left, right, ok := strings.Cut(predicate, " or "); ok {
		l, err := e.Evaluate(left, vars)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return e.Evaluate(right, vars)
	}

	// Presence checks.
	if field, ok := strings.CutPrefix(predicate, "exists "); ok {
		_, found := lookup(strings.TrimSpace(field), vars)
		return found, nil
	}
	if field, ok := strings.CutPrefix(predicate, "missing "); ok {
		_, found := lookup(strings.TrimSpace(field), vars)
		return !found, nil
	}

	// Binary operators, longest first so ">=" wins over ">".
	for _, op := range builtinOps {
		if left, right, ok := strings.Cut(predicate, op.token); ok {
			return op.compare(Resolve(left, vars), Resolve(right, vars)), nil
		}
	}

	for name, fn := range e.customOps {
		if left, right, ok := strings.Cut(predicate, " "+name+" "); ok {
			return fn(Resolve(left, vars), Resolve(right, vars)), nil
		}
	}

	// A bare value: truthiness.
	return IsTruthy(Resolve(predicate, vars)), nil
}

var builtinOps = []struct {
	token   string
	compare BinaryOp
}{
	{"==", func(l, r any) bool { return equal(l, r) }},
	{"!=", func(l, r any) bool { return !equal(l, r) }},
	{">=", func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) }},
	{"<=", func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) }},
	{">", func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) }},
	{"<", func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) }},
	{" contains ", func(l, r any) bool {
		return strings.Contains(fmt.Sprintf("%v", l), fmt.Sprintf("%v", r))
	}},
}

// equal compares numbers numerically and everything else by rendered
// form, so 0.5 == Fields["Duration"] works regardless of the stored
// numeric type.
func equal(l, r any) bool {
	if isNumber(l) && isNumber(r) {
		return ToFloat64(l) == ToFloat64(r)
	}
	return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// Resolve turns one side of a comparison into a value: a quoted string,
// a literal, or a (possibly dotted) field lookup. Unresolvable names
// fall back to the name itself as a string literal.
func Resolve(s string, vars map[string]any) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	if v, ok := lookup(s, vars); ok {
		return v
	}
	return s
}

// lookup resolves a dotted path through nested string-keyed maps.
func lookup(path string, vars map[string]any) (any, bool) {
	if vars == nil {
		return nil, false
	}
	if v, ok := vars[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// IsTruthy reports whether a value counts as true: nil, false, empty
// strings and zero numbers are false, everything else is true.
func IsTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	}
	return true
}

// ToFloat64 coerces a value for numeric comparison, returning 0 when
// no numeric reading exists.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return 0
}
