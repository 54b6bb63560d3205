package engine

import (
	"fmt"

	"github.com/Itshalffull/copf/internal/ir"
)

// matchClauseShape checks the concept/action identity of a when-clause
// against a completion. This is the cheap pre-filter before binding
// extraction: every sync index lookup starts here.
func matchClauseShape(when ir.WhenClause, comp *ir.Completion) bool {
	return when.Concept == comp.Concept && when.Action == comp.Action
}

// extractClauseBindings matches a when-clause's input/output patterns
// against a completion's actual input/output, given bindings already
// captured from earlier clauses (env). Returns the bindings extended with
// any new captures, and false if the clause's constraints are not
// satisfiable against this completion (a literal mismatch, or a variable
// bound elsewhere in env to a conflicting value).
//
// Pattern positions follow capture-or-assert semantics: the first mention
// of a variable captures whatever value is there; a later mention of the
// same variable name must match the already-captured value exactly.
func extractClauseBindings(when ir.WhenClause, comp *ir.Completion, env ir.Record) (ir.Record, bool, error) {
	bindings := cloneRecord(env)

	for field, pattern := range when.Inputs {
		actual, exists := comp.Input[field]
		if !exists {
			return nil, false, fmt.Errorf("when-clause field %q not found in completion input", field)
		}
		ok, err := bindPattern(pattern, actual, bindings)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}

	for field, pattern := range when.Outputs {
		actual, exists := comp.Output[field]
		if !exists {
			return nil, false, fmt.Errorf("when-clause field %q not found in completion output", field)
		}
		ok, err := bindPattern(pattern, actual, bindings)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
	}

	return bindings, true, nil
}

// bindPattern matches a single BindingValue pattern against an actual
// runtime Value, mutating bindings in place. Returns false (no error) when
// the pattern's constraint is violated rather than malformed.
func bindPattern(pattern ir.BindingValue, actual ir.Value, bindings ir.Record) (bool, error) {
	switch p := pattern.(type) {
	case ir.BLiteral:
		return valuesEqual(p.Value, actual), nil

	case ir.BVariable:
		if existing, bound := bindings[p.Name]; bound {
			return valuesEqual(existing, actual), nil
		}
		bindings[p.Name] = actual
		return true, nil

	case ir.BRecord:
		rec, ok := actual.(ir.Record)
		if !ok {
			return false, nil
		}
		for field, sub := range p.Fields {
			fieldVal, exists := rec[field]
			if !exists {
				return false, nil
			}
			matched, err := bindPattern(sub, fieldVal, bindings)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil

	case ir.BList:
		list, ok := actual.(ir.List)
		if !ok || len(list) != len(p.Items) {
			return false, nil
		}
		for i, sub := range p.Items {
			matched, err := bindPattern(sub, list[i], bindings)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("unrecognized binding value type %T", pattern)
	}
}

// valuesEqual compares two runtime Values for binding-constraint purposes.
// Uses canonical JSON as the comparison key, which sidesteps Go map/slice
// non-comparability and keeps equality aligned with the same canonical
// form used for content-addressed hashing.
func valuesEqual(a, b ir.Value) bool {
	aJSON, errA := ir.MarshalCanonical(wrapValue(a))
	bJSON, errB := ir.MarshalCanonical(wrapValue(b))
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}

// wrapValue puts a bare Value into a Record so MarshalCanonical (which
// expects a top-level Record) can serialize it uniformly regardless of kind.
func wrapValue(v ir.Value) ir.Record {
	return ir.Record{"v": v}
}

// cloneRecord makes a shallow copy of a Record so extension doesn't mutate
// the caller's environment.
func cloneRecord(r ir.Record) ir.Record {
	out := make(ir.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
