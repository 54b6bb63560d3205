// Package schema lowers a parsed concept AST into a normalized
// ir.ConceptSpec (the ConceptManifest), compiling invariants into
// executable test plans and classifying free variables.
package schema

import (
	"fmt"

	"github.com/Itshalffull/copf/internal/ast"
	"github.com/Itshalffull/copf/internal/ir"
)

// Warning is a non-fatal schema diagnostic (empty sections, etc).
type Warning struct {
	Message string
}

// Error is a fatal schema diagnostic (duplicate names, unresolved refs).
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Compile lowers a ConceptFile into a ConceptSpec, returning any warnings
// alongside it. A non-nil error means the concept is unusable.
func Compile(cf *ast.ConceptFile) (ir.ConceptSpec, []Warning, error) {
	var warnings []Warning

	if !cf.SawPurpose || cf.Purpose == "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("concept %q has no purpose", cf.Name)})
	}
	if !cf.SawState || len(cf.State) == 0 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("concept %q declares no state", cf.Name)})
	}
	if !cf.SawActions || len(cf.Actions) == 0 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("concept %q declares no actions", cf.Name)})
	}

	spec := ir.ConceptSpec{
		Name:         cf.Name,
		Version:      cf.Version,
		TypeParams:   cf.TypeParams,
		Purpose:      cf.Purpose,
		Capabilities: cf.Capabilities,
	}

	for _, sd := range cf.State {
		spec.State = append(spec.State, ir.StateSchema{Name: sd.Name, Fields: fieldMap(sd.Fields)})
	}

	seenActions := map[string]bool{}
	actionsByName := map[string]ast.ActionDecl{}
	for _, ad := range cf.Actions {
		if seenActions[ad.Name] {
			return ir.ConceptSpec{}, nil, &Error{Message: fmt.Sprintf("duplicate action name %q", ad.Name)}
		}
		seenActions[ad.Name] = true
		actionsByName[ad.Name] = ad

		sig := ir.ActionSig{Name: ad.Name}
		for _, param := range ad.Params {
			sig.Args = append(sig.Args, ir.NamedArg{Name: param.Name, Type: param.Type})
		}

		seenVariants := map[string]bool{}
		for _, v := range ad.Variants {
			if seenVariants[v.Name] {
				return ir.ConceptSpec{}, nil, &Error{Message: fmt.Sprintf("action %q: duplicate variant name %q", ad.Name, v.Name)}
			}
			seenVariants[v.Name] = true
			sig.Outputs = append(sig.Outputs, ir.OutputCase{Case: v.Name, Fields: fieldMap(v.Outputs)})
		}
		if errs := sig.Validate(); len(errs) > 0 {
			return ir.ConceptSpec{}, nil, &Error{Message: fmt.Sprintf("action %q: %s", ad.Name, errs[0].Error())}
		}
		spec.Actions = append(spec.Actions, sig)
	}

	for _, id := range cf.Invariants {
		inv, err := compileInvariant(cf, id, actionsByName)
		if err != nil {
			return ir.ConceptSpec{}, nil, err
		}
		spec.Invariants = append(spec.Invariants, inv)
	}

	return spec, warnings, nil
}

func fieldMap(fields []ast.FieldDecl) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Type
	}
	return m
}

// compileInvariant translates "after <step>+ then <step>+" into an
// InvariantSchema: output-bound variables capture on first occurrence in a
// step's outputs, everything else is classified free and assigned a
// deterministic test value.
func compileInvariant(cf *ast.ConceptFile, id ast.InvariantDecl, actions map[string]ast.ActionDecl) (ir.InvariantSchema, error) {
	bound := map[string]bool{}
	var free []string
	freeSeen := map[string]bool{}

	classify := func(v ast.Value, isOutputPosition bool) error {
		if v.Kind != ast.ValVariable {
			return nil
		}
		if isOutputPosition && !bound[v.VarName] {
			bound[v.VarName] = true
			return nil
		}
		if !bound[v.VarName] && !freeSeen[v.VarName] {
			freeSeen[v.VarName] = true
			free = append(free, v.VarName)
		}
		return nil
	}

	walkBindings := func(bindings []ast.Binding, isOutputPosition bool) error {
		for _, b := range bindings {
			if err := walkValue(b.Value, isOutputPosition, classify); err != nil {
				return err
			}
		}
		return nil
	}

	for _, s := range id.After {
		if err := validateStep(cf, s, actions); err != nil {
			return ir.InvariantSchema{}, err
		}
		if err := walkBindings(s.Inputs, false); err != nil {
			return ir.InvariantSchema{}, err
		}
		if err := walkBindings(s.Outputs, true); err != nil {
			return ir.InvariantSchema{}, err
		}
	}
	for _, s := range id.Then {
		if err := validateStep(cf, s, actions); err != nil {
			return ir.InvariantSchema{}, err
		}
		if err := walkBindings(s.Inputs, false); err != nil {
			return ir.InvariantSchema{}, err
		}
		if err := walkBindings(s.Outputs, true); err != nil {
			return ir.InvariantSchema{}, err
		}
	}

	testValues := make(map[string]ir.Value, len(free))
	for _, name := range free {
		testValues[name] = ir.Str("test-" + name)
	}

	toStep := func(s ast.Step) (ir.StepRecord, error) {
		inputs, err := bindingsToBoundFields(s.Inputs, bound, testValues)
		if err != nil {
			return ir.StepRecord{}, err
		}
		outputs, err := bindingsToBoundFields(s.Outputs, bound, testValues)
		if err != nil {
			return ir.StepRecord{}, err
		}
		action := s.Action
		if s.ConceptRef != "" {
			action = s.ConceptRef + "." + s.Action
		}
		return ir.StepRecord{Action: action, Inputs: inputs, ExpectedVariant: s.Variant, ExpectedOutputs: outputs}, nil
	}

	var setup, assertions []ir.StepRecord
	for _, s := range id.After {
		rec, err := toStep(s)
		if err != nil {
			return ir.InvariantSchema{}, err
		}
		setup = append(setup, rec)
	}
	for _, s := range id.Then {
		rec, err := toStep(s)
		if err != nil {
			return ir.InvariantSchema{}, err
		}
		assertions = append(assertions, rec)
	}

	return ir.InvariantSchema{
		Description:   describeInvariant(id),
		FreeVariables: free,
		Setup:         setup,
		Assertions:    assertions,
	}, nil
}

func describeInvariant(id ast.InvariantDecl) string {
	if len(id.After) == 0 {
		return "invariant"
	}
	return fmt.Sprintf("after %s/%s then %d assertion(s)", id.After[0].ConceptRef, id.After[0].Action, len(id.Then))
}

func validateStep(cf *ast.ConceptFile, s ast.Step, actions map[string]ast.ActionDecl) error {
	if s.ConceptRef != "" && s.ConceptRef != cf.Name {
		// Cross-concept invariant steps are resolved at link time; this
		// parser-local validator only checks same-concept references.
		return nil
	}
	ad, ok := actions[s.Action]
	if !ok {
		return &Error{Message: fmt.Sprintf("invariant step references unknown action %q", s.Action)}
	}
	for _, v := range ad.Variants {
		if v.Name == s.Variant {
			return nil
		}
	}
	return &Error{Message: fmt.Sprintf("invariant step references unknown variant %q on action %q", s.Variant, s.Action)}
}

// walkValue recurses into records and lists so free/bound classification
// reaches every leaf variable reference.
func walkValue(v ast.Value, isOutputPosition bool, classify func(ast.Value, bool) error) error {
	switch v.Kind {
	case ast.ValVariable:
		return classify(v, isOutputPosition)
	case ast.ValRecord:
		for _, f := range v.Fields {
			if err := walkValue(f.Value, isOutputPosition, classify); err != nil {
				return err
			}
		}
	case ast.ValList:
		for _, e := range v.Elements {
			if err := walkValue(e, isOutputPosition, classify); err != nil {
				return err
			}
		}
	}
	return nil
}

func bindingsToBoundFields(bindings []ast.Binding, bound map[string]bool, testValues map[string]ir.Value) ([]ir.BoundField, error) {
	fields := make([]ir.BoundField, 0, len(bindings))
	for _, b := range bindings {
		bv, err := valueToBindingValue(b.Value, bound, testValues)
		if err != nil {
			return nil, err
		}
		fields = append(fields, ir.BoundField{Name: b.Name, Value: bv})
	}
	return fields, nil
}

// valueToBindingValue lowers a parsed ast.Value into an ir.BindingValue,
// substituting free variables' deterministic test values inline as
// literals (the invariant runner never needs to distinguish "free
// variable" from "literal" once compiled).
func valueToBindingValue(v ast.Value, bound map[string]bool, testValues map[string]ir.Value) (ir.BindingValue, error) {
	switch v.Kind {
	case ast.ValLiteral:
		return ir.BLiteral{Value: literalToIRValue(v.Literal)}, nil

	case ast.ValVariable:
		if bound[v.VarName] {
			return ir.BVariable{Name: v.VarName}, nil
		}
		if tv, ok := testValues[v.VarName]; ok {
			return ir.BLiteral{Value: tv}, nil
		}
		return ir.BVariable{Name: v.VarName}, nil

	case ast.ValRecord:
		fields := make(map[string]ir.BindingValue, len(v.Fields))
		for _, f := range v.Fields {
			bv, err := valueToBindingValue(f.Value, bound, testValues)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = bv
		}
		return ir.BRecord{Fields: fields}, nil

	case ast.ValList:
		items := make([]ir.BindingValue, 0, len(v.Elements))
		for _, e := range v.Elements {
			bv, err := valueToBindingValue(e, bound, testValues)
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
