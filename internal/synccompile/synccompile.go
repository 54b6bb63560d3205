// Package synccompile lowers a parsed sync AST into an ir.SyncRule: a
// normalized binding plan per when-clause, an ordered where-operation
// list, and fully-typed then-clause invocation templates.
package synccompile

import (
	"fmt"

	"github.com/Itshalffull/copf/internal/ast"
	"github.com/Itshalffull/copf/internal/ir"
)

// Error is a fatal sync-compilation diagnostic (unbound then-clause
// variable, unknown concept reference, and the like).
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Compile lowers a SyncFile into an ir.SyncRule with default ("flow")
// scope. Callers that parse an explicit @scope annotation (not part of
// the base grammar) should set rule.Scope after Compile returns.
func Compile(sf *ast.SyncFile) (ir.SyncRule, error) {
	mode := sf.Mode
	if mode == "" {
		mode = ir.ModeEager
	}

	rule := ir.SyncRule{
		ID:    sf.Name,
		Mode:  mode,
		Scope: ir.ScopeSpec{Mode: "flow"},
	}

	bound := map[string]bool{}

	for _, wc := range sf.When {
		clause, err := compileWhenClause(wc, bound)
		if err != nil {
			return ir.SyncRule{}, err
		}
		rule.When = append(rule.When, clause)
	}

	for _, op := range sf.Where {
		switch op.Kind {
		case "bind":
			rule.Where = append(rule.Where, ir.WhereOp{Kind: "bind", Expr: op.Expr, BindAs: op.BindAs})
			bound[op.BindAs] = true
		case "filter":
			rule.Where = append(rule.Where, ir.WhereOp{Kind: "filter", Expr: op.Expr})
		default:
			return ir.SyncRule{}, &Error{Message: fmt.Sprintf("sync %q: unknown where-operation %q", sf.Name, op.Kind)}
		}
	}

	for _, tc := range sf.Then {
		clause, err := compileThenClause(sf.Name, tc, bound)
		if err != nil {
			return ir.SyncRule{}, err
		}
		rule.Then = append(rule.Then, clause)
	}

	return rule, nil
}

// compileWhenClause lowers one join pattern, registering every variable it
// mentions (input or output position) as bound for subsequent clauses,
// where-operations, and then-templates.
func compileWhenClause(wc ast.WhenClause, bound map[string]bool) (ir.WhenClause, error) {
	clause := ir.WhenClause{Concept: wc.URI, Action: wc.Action}

	if len(wc.Inputs) > 0 {
		clause.Inputs = map[string]ir.BindingValue{}
		for _, b := range wc.Inputs {
			bv, err := toBindingValue(b.Value, bound)
			if err != nil {
				return ir.WhenClause{}, err
			}
			clause.Inputs[b.Name] = bv
		}
	}
	if len(wc.Outputs) > 0 {
		clause.Outputs = map[string]ir.BindingValue{}
		for _, b := range wc.Outputs {
			bv, err := toBindingValue(b.Value, bound)
			if err != nil {
				return ir.WhenClause{}, err
			}
			clause.Outputs[b.Name] = bv
		}
	}
	return clause, nil
}

// compileThenClause requires every variable reference to already be bound
// by a preceding when-clause or where-operation; an unbound reference is a
// compile-time error.
func compileThenClause(syncName string, tc ast.ThenClause, bound map[string]bool) (ir.ThenClause, error) {
	clause := ir.ThenClause{Concept: tc.URI, Action: tc.Action, Args: map[string]ir.BindingValue{}}
	for _, b := range tc.Args {
		bv, err := toBindingValue(b.Value, bound)
		if err != nil {
			return ir.ThenClause{}, err
		}
		if v, ok := bv.(ir.BVariable); ok && !bound[v.Name] {
			return ir.ThenClause{}, &Error{Message: fmt.Sprintf("sync %q: then-clause references unbound variable %q", syncName, v.Name)}
		}
		clause.Args[b.Name] = bv
	}
	return clause, nil
}

func toBindingValue(v ast.Value, bound map[string]bool) (ir.BindingValue, error) {
	switch v.Kind {
	case ast.ValLiteral:
		return ir.BLiteral{Value: literalToIRValue(v.Literal)}, nil

	case ast.ValVariable:
		bound[v.VarName] = true
		return ir.BVariable{Name: v.VarName}, nil

	case ast.ValRecord:
		fields := make(map[string]ir.BindingValue, len(v.Fields))
		for _, f := range v.Fields {
			bv, err := toBindingValue(f.Value, bound)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = bv
		}
		return ir.BRecord{Fields: fields}, nil

	case ast.ValList:
		items := make([]ir.BindingValue, 0, len(v.Elements))
		for _, e := range v.Elements {
			bv, err := toBindingValue(e, bound)
			if err != nil {
				return nil, err
			}
			items = append(items, bv)
		}
		return ir.BList{Items: items}, nil

	default:
		return nil, &Error{Message: "unrecognized value kind"}
	}
}

func literalToIRValue(lit any) ir.Value {
	switch v := lit.(type) {
	case string:
		return ir.Str(v)
	case int64:
		return ir.Int(v)
	case bool:
		return ir.Bool(v)
	default:
		return ir.Null{}
	}
}
