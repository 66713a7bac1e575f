package pipeline

import (
	"context"
	"fmt"

	"github.com/admirito/mongowatch/pkg/mongowatch/expr"
	"github.com/admirito/mongowatch/pkg/mongowatch/record"
	"github.com/admirito/mongowatch/pkg/mongowatch/transform"
)

// PredicateStage drops snapshots a predicate expression evaluates
// false against. Beyond the record's own fields, the expression sees
// WatchID, Iteration, Outcome and Final.
type PredicateStage struct {
	evaluator *expr.Evaluator
	predicate string
}

// NewPredicateStage compiles nothing up front; the predicate is
// checked against an empty record so syntax errors surface at build
// time rather than mid-stream.
func NewPredicateStage(predicate string, opts ...expr.Option) (*PredicateStage, error) {
	e := expr.New(opts...)
	if _, err := e.Evaluate(predicate, map[string]any{}); err != nil {
		return nil, fmt.Errorf("invalid predicate %q: %w", predicate, err)
	}
	return &PredicateStage{evaluator: e, predicate: predicate}, nil
}

func (s *PredicateStage) Process(ctx context.Context, snap record.Snapshot) ([]record.Snapshot, error) {
	vars := make(map[string]any, len(snap.Fields)+4)
	for k, v := range snap.Fields {
		vars[k] = v
	}
	vars["WatchID"] = snap.ID
	vars["Iteration"] = snap.Iteration
	vars["Outcome"] = string(snap.Outcome)
	vars["Final"] = snap.Final

	ok, err := s.evaluator.Evaluate(s.predicate, vars)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return []record.Snapshot{snap}, nil
}

// TransformStage rewrites fields through named transforms from a
// registry. Transform names are resolved at construction so a typo
// fails fast instead of silently passing records through.
type TransformStage struct {
	registry *transform.Registry
	fields   map[string][]string
}

// NewTransformStage binds field names to ordered transform chains.
func NewTransformStage(registry *transform.Registry, fields map[string][]string) (*TransformStage, error) {
	if registry == nil {
		registry = transform.NewRegistry()
	}
	for field, names := range fields {
		for _, name := range names {
			if _, ok := registry.Get(name); !ok {
				return nil, fmt.Errorf("field %s: unknown transform %q", field, name)
			}
		}
	}
	return &TransformStage{registry: registry, fields: fields}, nil
}

func (s *TransformStage) Process(ctx context.Context, snap record.Snapshot) ([]record.Snapshot, error) {
	if len(s.fields) == 0 {
		return []record.Snapshot{snap}, nil
	}

	out := make(map[string]any, len(snap.Fields))
	for k, v := range snap.Fields {
		out[k] = v
	}
	for field, names := range s.fields {
		v, present := out[field]
		if !present {
			continue
		}
		keep := true
		for _, name := range names {
			fn, _ := s.registry.Get(name)
			v, keep = fn(v)
			if !keep {
				break
			}
		}
		if keep {
			out[field] = v
		} else {
			delete(out, field)
		}
	}
	snap.Fields = out
	return []record.Snapshot{snap}, nil
}
