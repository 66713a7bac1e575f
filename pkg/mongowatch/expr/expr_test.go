package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admirito/mongowatch/pkg/mongowatch/expr"
)

func TestEvaluate(t *testing.T) {
	vars := map[string]any{
		"Operation":  "find",
		"Collection": "users",
		"Count":      int64(42),
		"Duration":   0.25,
		"Final":      true,
		"Nested": map[string]any{
			"Level": "info",
		},
	}

	tests := []struct {
		predicate string
		want      bool
	}{
		{"", false},
		{"Operation == 'find'", true},
		{`Operation == "find"`, true},
		{"Operation == 'insert'", false},
		{"Operation != 'insert'", true},
		{"Count > 10", true},
		{"Count > 42", false},
		{"Count >= 42", true},
		{"Count <= 42", true},
		{"Count < 42", false},
		{"Duration >= 0.25", true},
		{"Duration > 0.5", false},
		{"Collection contains ser", true},
		{"Collection contains xyz", false},
		{"Final", true},
		{"not Final", false},
		{"!Final", false},
		{"Count > 10 and Operation == 'find'", true},
		{"Count > 100 and Operation == 'find'", false},
		{"Count > 100 or Operation == 'find'", true},
		{"Count > 100 or Operation == 'insert'", false},
		{"not Count > 100", true},
		{"exists Duration", true},
		{"exists Missing", false},
		{"missing Missing", true},
		{"missing Duration", false},
		{"Nested.Level == 'info'", true},
		{"Nested.Level == 'debug'", false},
		{"exists Nested.Level", true},
		{"Missing == 'anything'", false},
	}

	for _, tt := range tests {
		t.Run(tt.predicate, func(t *testing.T) {
			got, err := expr.Eval(tt.predicate, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "predicate %q", tt.predicate)
		})
	}
}

// TestEvaluateNumericEquality verifies numbers compare numerically
// across stored types, so a literal matches regardless of whether the
// field holds an int, int64 or float64.
func TestEvaluateNumericEquality(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]any
	}{
		{"int", map[string]any{"Count": 5}},
		{"int64", map[string]any{"Count": int64(5)}},
		{"float64", map[string]any{"Count": 5.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expr.Eval("Count == 5", tt.vars)
			require.NoError(t, err)
			assert.True(t, got)
		})
	}
}

func TestCustomOperator(t *testing.T) {
	e := expr.New(expr.WithOperator("startswith", func(l, r any) bool {
		ls, lok := l.(string)
		rs, rok := r.(string)
		return lok && rok && len(ls) >= len(rs) && ls[:len(rs)] == rs
	}))

	got, err := e.Evaluate("Operation startswith 'fi'", map[string]any{"Operation": "find"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestResolve(t *testing.T) {
	vars := map[string]any{
		"Count": int64(3),
		"Deep":  map[string]any{"Key": "v"},
	}

	tests := []struct {
		in   string
		want any
	}{
		{"'quoted'", "quoted"},
		{`"quoted"`, "quoted"},
		{"true", true},
		{"false", false},
		{"null", nil},
		{"42", int64(42)},
		{"0.5", 0.5},
		{"Count", int64(3)},
		{"Deep.Key", "v"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, expr.Resolve(tt.in, vars))
		})
	}
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, expr.IsTruthy(true))
	assert.True(t, expr.IsTruthy("x"))
	assert.True(t, expr.IsTruthy(int64(1)))
	assert.False(t, expr.IsTruthy(false))
	assert.False(t, expr.IsTruthy(""))
	assert.False(t, expr.IsTruthy(int64(0)))
	assert.False(t, expr.IsTruthy(nil))
}
