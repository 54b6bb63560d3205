// Package invariant implements the Invariant Runner (spec §4.K): given a
// handler map and a compiled invariant schema, it executes the schema's
// setup and assertion steps against a fresh storage handle and reports any
// structural mismatch between expected and actual values.
//
// Unlike internal/harness, which drives scenarios from externally-loaded
// YAML files, the invariant runner operates directly on the
// ir.InvariantSchema/ir.StepRecord produced by the schema generator from a
// concept's inline "invariant { after ... then ... }" declaration - there is
// no file to load. The deep-equal assertion philosophy and structured
// mismatch reporting follow harness's assertion-evaluation style.
package invariant

import (
	"fmt"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/storage"
)

// Handler executes one action against a storage handle, spec §6's concept
// handler contract: (input, storage) -> {variant, ...outputs}.
type Handler func(input ir.Record, store storage.ConceptStorage) (variant string, output ir.Record, err error)

// HandlerMap looks up a Handler by the action name used in StepRecord.Action.
type HandlerMap map[string]Handler

// Mismatch describes one expectation that did not hold.
type Mismatch struct {
	Phase     string // "setup" or "assertions"
	StepIndex int
	Action    string
	Field     string // "variant" or an output field name
	Expected  string
	Actual    string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s[%d] %s: %s expected %s, got %s", m.Phase, m.StepIndex, m.Action, m.Field, m.Expected, m.Actual)
}

// Result is the outcome of running one invariant schema.
type Result struct {
	Pass      bool
	Mismatches []Mismatch
}

// Runner executes invariant schemas against a handler map.
type Runner struct{}

// New returns an invariant Runner.
func New() *Runner {
	return &Runner{}
}

// Run executes schema's setup then assertions steps in order against a
// fresh storage handle, seeding free variables with deterministic test
// values first.
func (r *Runner) Run(schema ir.InvariantSchema, handlers HandlerMap) (*Result, error) {
	store := storage.NewMapStorage()
	env := make(map[string]ir.Value, len(schema.FreeVariables))
	for _, name := range schema.FreeVariables {
		env[name] = ir.Str("test-" + name)
	}

	result := &Result{Pass: true}

	if err := r.runSteps("setup", schema.Setup, handlers, store, env, result); err != nil {
		return nil, err
	}
	if err := r.runSteps("assertions", schema.Assertions, handlers, store, env, result); err != nil {
		return nil, err
	}

	result.Pass = len(result.Mismatches) == 0
	return result, nil
}

func (r *Runner) runSteps(phase string, steps []ir.StepRecord, handlers HandlerMap, store storage.ConceptStorage, env map[string]ir.Value, result *Result) error {
	for i, step := range steps {
		handler, ok := handlers[step.Action]
		if !ok {
			return fmt.Errorf("%s[%d]: no handler registered for action %q", phase, i, step.Action)
		}

		input := make(ir.Record, len(step.Inputs))
		for _, field := range step.Inputs {
			val, err := resolveInput(field.Value, env)
			if err != nil {
				return fmt.Errorf("%s[%d] %s: resolving input %q: %w", phase, i, step.Action, field.Name, err)
			}
			input[field.Name] = val
		}

		variant, output, err := handler(input, store)
		if err != nil {
			return fmt.Errorf("%s[%d] %s: handler error: %w", phase, i, step.Action, err)
		}

		if variant != step.ExpectedVariant {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Phase: phase, StepIndex: i, Action: step.Action,
				Field: "variant", Expected: step.ExpectedVariant, Actual: variant,
			})
			continue
		}

		for _, field := range step.ExpectedOutputs {
			actual, ok := output[field.Name]
			if !ok {
				result.Mismatches = append(result.Mismatches, Mismatch{
					Phase: phase, StepIndex: i, Action: step.Action,
					Field: field.Name, Expected: describeBinding(field.Value), Actual: "<missing>",
				})
				continue
			}

			matched, err := matchAndBind(field.Value, actual, env)
			if err != nil {
				return fmt.Errorf("%s[%d] %s: matching output %q: %w", phase, i, step.Action, field.Name, err)
			}
			if !matched {
				result.Mismatches = append(result.Mismatches, Mismatch{
					Phase: phase, StepIndex: i, Action: step.Action,
					Field: field.Name, Expected: describeBinding(field.Value), Actual: describeValue(actual),
				})
			}
		}
	}
	return nil
}

// resolveInput evaluates a binding value to a concrete ir.Value for use as
// a handler argument; every referenced variable must already be bound.
func resolveInput(bv ir.BindingValue, env map[string]ir.Value) (ir.Value, error) {
	switch v := bv.(type) {
	case ir.BLiteral:
		return v.Value, nil
	case ir.BVariable:
		val, ok := env[v.Name]
		if !ok {
			return nil, fmt.Errorf("unbound variable %q", v.Name)
		}
		return val, nil
	case ir.BRecord:
		rec := make(ir.Record, len(v.Fields))
		for name, field := range v.Fields {
			val, err := resolveInput(field, env)
			if err != nil {
				return nil, err
			}
			rec[name] = val
		}
		return rec, nil
	case ir.BList:
		list := make(ir.List, len(v.Items))
		for i, item := range v.Items {
			val, err := resolveInput(item, env)
			if err != nil {
				return nil, err
			}
			list[i] = val
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unknown binding value type %T", bv)
	}
}

// matchAndBind checks an expected output pattern against an actual value:
// a variable seen for the first time binds to actual and always matches; a
// previously-bound variable, literal, record, or list must deep-equal
// actual (structurally: primitives equal, arrays equal by length and
// elementwise equality, objects equal by key set and elementwise equality).
func matchAndBind(bv ir.BindingValue, actual ir.Value, env map[string]ir.Value) (bool, error) {
	switch v := bv.(type) {
	case ir.BVariable:
		if bound, ok := env[v.Name]; ok {
			return deepEqual(bound, actual), nil
		}
		env[v.Name] = actual
		return true, nil
	case ir.BLiteral:
		return deepEqual(v.Value, actual), nil
	case ir.BRecord:
		actualRec, ok := actual.(ir.Record)
		if !ok || len(actualRec) != len(v.Fields) {
			return false, nil
		}
		for name, field := range v.Fields {
			actualField, ok := actualRec[name]
			if !ok {
				return false, nil
			}
			matched, err := matchAndBind(field, actualField, env)
			if err != nil || !matched {
				return false, err
			}
		}
		return true, nil
	case ir.BList:
		actualList, ok := actual.(ir.List)
		if !ok || len(actualList) != len(v.Items) {
			return false, nil
		}
		for i, item := range v.Items {
			matched, err := matchAndBind(item, actualList[i], env)
			if err != nil || !matched {
				return false, err
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown binding value type %T", bv)
	}
}

// deepEqual is the structural equality defined in spec §4.K: equal on
// primitives; arrays equal by length and elementwise equality; objects
// equal by key set and elementwise equality.
func deepEqual(a, b ir.Value) bool {
	switch av := a.(type) {
	case ir.Str:
		bv, ok := b.(ir.Str)
		return ok && av == bv
	case ir.Int:
		bv, ok := b.(ir.Int)
		return ok && av == bv
	case ir.Bool:
		bv, ok := b.(ir.Bool)
		return ok && av == bv
	case ir.Null:
		_, ok := b.(ir.Null)
		return ok
	case ir.List:
		bv, ok := b.(ir.List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case ir.Record:
		bv, ok := b.(ir.Record)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func describeBinding(bv ir.BindingValue) string {
	switch v := bv.(type) {
	case ir.BLiteral:
		return describeValue(v.Value)
	case ir.BVariable:
		return "?" + v.Name
	default:
		return fmt.Sprintf("%v", bv)
	}
}

func describeValue(v ir.Value) string {
	switch vv := v.(type) {
	case ir.Str:
		return string(vv)
	case ir.Int:
		return fmt.Sprintf("%d", vv)
	case ir.Bool:
		return fmt.Sprintf("%t", vv)
	default:
		return fmt.Sprintf("%v", v)
	}
}
