package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Itshalffull/copf/internal/ir"
)

// applyWhereOps runs a sync rule's where-clause ops, left to right, against
// a bound environment produced by the when-join. Each "bind" op adds a new
// variable; each "filter" op may reject the environment entirely (ok=false,
// no error) when its expression evaluates to false.
func (e *Engine) applyWhereOps(ops []ir.WhereOp, env ir.Record) (ir.Record, bool, error) {
	current := cloneRecord(env)

	for _, op := range ops {
		switch op.Kind {
		case "bind":
			val, err := e.evalExpr(op.Expr, current)
			if err != nil {
				return nil, false, fmt.Errorf("bind(%s as %s): %w", op.Expr, op.BindAs, err)
			}
			current[op.BindAs] = val

		case "filter":
			ok, err := e.evalBoolExpr(op.Expr, current)
			if err != nil {
				return nil, false, fmt.Errorf("filter(%s): %w", op.Expr, err)
			}
			if !ok {
				return nil, false, nil
			}

		default:
			return nil, false, fmt.Errorf("unrecognized where-op kind %q", op.Kind)
		}
	}

	return current, true, nil
}

// evalBoolExpr evaluates a filter expression, ANDing together any clauses
// joined by "and"/"&&". Every clause must evaluate to a Bool.
func (e *Engine) evalBoolExpr(expr string, env ir.Record) (bool, error) {
	for _, part := range splitTopLevelAnd(expr) {
		val, err := e.evalExpr(part, env)
		if err != nil {
			return false, err
		}
		b, ok := val.(ir.Bool)
		if !ok {
			return false, fmt.Errorf("expression %q did not evaluate to a boolean", strings.TrimSpace(part))
		}
		if !bool(b) {
			return false, nil
		}
	}
	return true, nil
}

// splitTopLevelAnd splits a filter expression on "&&" or the word "and"
// (case-insensitive), outside of quoted strings.
func splitTopLevelAnd(expr string) []string {
	var parts []string
	depth := 0
	inString := false
	var quote byte
	start := 0

	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case inString:
			if c == quote {
				inString = false
			}
			i++
		case c == '\'' || c == '"':
			inString = true
			quote = c
			i++
		case c == '(':
			depth++
			i++
		case c == ')':
			depth--
			i++
		case depth == 0 && strings.HasPrefix(expr[i:], "&&"):
			parts = append(parts, expr[start:i])
			i += 2
			start = i
		case depth == 0 && hasWordAt(expr, i, "and"):
			parts = append(parts, expr[start:i])
			i += 3
			start = i
		default:
			i++
		}
	}
	parts = append(parts, expr[start:])

	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// hasWordAt reports whether expr contains word at position i, surrounded
// by whitespace (so it doesn't match inside identifiers like "brand").
func hasWordAt(expr string, i int, word string) bool {
	if i+len(word) > len(expr) {
		return false
	}
	if !strings.EqualFold(expr[i:i+len(word)], word) {
		return false
	}
	if i > 0 && !isSpace(expr[i-1]) {
		return false
	}
	end := i + len(word)
	if end < len(expr) && !isSpace(expr[end]) {
		return false
	}
	return true
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

// evalExpr evaluates a single where-expression (a comparison or a term)
// against a bound environment.
func (e *Engine) evalExpr(expr string, env ir.Record) (ir.Value, error) {
	expr = strings.TrimSpace(expr)

	if op, left, right, ok := splitComparison(expr); ok {
		lv, err := e.evalTerm(left, env)
		if err != nil {
			return nil, err
		}
		rv, err := e.evalTerm(right, env)
		if err != nil {
			return nil, err
		}
		eq := valuesEqual(lv, rv)
		if op == "!=" {
			return ir.Bool(!eq), nil
		}
		return ir.Bool(eq), nil
	}

	return e.evalTerm(expr, env)
}

// splitComparison finds a top-level "==" or "!=" operator, outside of
// quoted strings, and returns its operands.
func splitComparison(expr string) (op, left, right string, ok bool) {
	inString := false
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case inString:
			if c == quote {
				inString = false
			}
		case c == '\'' || c == '"':
			inString = true
			quote = c
		case c == '=' && i+1 < len(expr) && expr[i+1] == '=':
			return "==", expr[:i], expr[i+2:], true
		case c == '!' && i+1 < len(expr) && expr[i+1] == '=':
			return "!=", expr[:i], expr[i+1:], true
		}
	}
	return "", "", "", false
}

// evalTerm evaluates a literal, builtin call, bound variable, or dotted
// field access against the environment.
func (e *Engine) evalTerm(term string, env ir.Record) (ir.Value, error) {
	term = strings.TrimSpace(term)

	switch term {
	case "uuid()":
		return ir.Str(e.newUUID()), nil
	case "now()":
		return ir.Int(e.now()), nil
	case "true":
		return ir.Bool(true), nil
	case "false":
		return ir.Bool(false), nil
	}

	if len(term) >= 2 && (term[0] == '\'' || term[0] == '"') && term[len(term)-1] == term[0] {
		return ir.Str(term[1 : len(term)-1]), nil
	}

	if n, err := strconv.ParseInt(term, 10, 64); err == nil {
		return ir.Int(n), nil
	}

	path := strings.Split(term, ".")
	if path[0] == "" {
		return nil, fmt.Errorf("invalid expression term %q", term)
	}

	val, ok := env[path[0]]
	if !ok {
		return nil, fmt.Errorf("unbound variable %q", path[0])
	}

	for _, field := range path[1:] {
		rec, ok := val.(ir.Record)
		if !ok {
			return nil, fmt.Errorf("%q is not a record, cannot access field %q", path[0], field)
		}
		val, ok = rec[field]
		if !ok {
			return nil, fmt.Errorf("field %q not found", field)
		}
	}

	return val, nil
}
