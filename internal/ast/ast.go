// Package ast defines the parsed, un-normalized syntax trees produced by
// internal/parser for concept and sync source files. The schema and
// synccompile packages lower these into ir.ConceptSpec and ir.SyncRule.
package ast

import "github.com/Itshalffull/copf/internal/lexer"

// ConceptFile is the root node of a parsed "concept Name { ... }" source file.
type ConceptFile struct {
	Name       string
	TypeParams []string
	Version    int // 0 if unspecified
	Purpose    string
	State      []StateDecl
	Actions    []ActionDecl
	Invariants []InvariantDecl
	Capabilities []string

	// Section presence flags, used by the schema generator to emit
	// "empty section" warnings rather than treating omission and
	// emptiness identically.
	SawPurpose      bool
	SawState        bool
	SawActions      bool
	SawCapabilities bool
}

// StateDecl declares one named state table and its field types.
type StateDecl struct {
	Name   string
	Fields []FieldDecl
	Pos    lexer.Position
}

// FieldDecl is a single "name : type" pair.
type FieldDecl struct {
	Name string
	Type string
	Pos  lexer.Position
}

// ActionDecl is one "action Name(params) { variant+ }" declaration.
type ActionDecl struct {
	Name     string
	Params   []FieldDecl
	Variants []VariantDecl
	Pos      lexer.Position
}

// VariantDecl is one "-> Name(outputs) { prose }" tagged result case.
type VariantDecl struct {
	Name    string
	Outputs []FieldDecl
	Prose   string
	Pos     lexer.Position
}

// InvariantDecl is one "invariant { after step+ then step+ }" block.
type InvariantDecl struct {
	After []Step
	Then  []Step
	Pos   lexer.Position
}

// Step is one invariant step: "Name/Action: [bindings] -> Variant(bindings)".
// ConceptRef is empty when the step omits the "Name/" prefix (refers to the
// enclosing concept).
type Step struct {
	ConceptRef string
	Action     string
	Inputs     []Binding
	Variant    string
	Outputs    []Binding
	Pos        lexer.Position
}

// Binding is one "name : value" pair inside a bracketed binding list.
type Binding struct {
	Name  string
	Value Value
}

// ValueKind tags the shape of a parsed binding Value.
type ValueKind int

const (
	ValLiteral ValueKind = iota
	ValVariable
	ValRecord
	ValList
)

// Value is a parsed binding-list value: a literal, a "?Name" variable
// reference, a nested record, or a list of values.
type Value struct {
	Kind     ValueKind
	Literal  any // string, int64, float64, or bool
	VarName  string
	Fields   []Binding // ValRecord
	Elements []Value   // ValList
}

// SyncFile is the root node of a parsed "sync Name [mode] when {...}
// where {...}? then {...}" source file.
type SyncFile struct {
	Name  string
	Mode  string // "eager", "lazy", or "" (default eager)
	When  []WhenClause
	Where []WhereOp
	Then  []ThenClause
	Pos   lexer.Position
}

// WhenClause is one "Uri/Action: [bindings] => [bindings]" join pattern.
type WhenClause struct {
	URI     string
	Action  string
	Inputs  []Binding
	Outputs []Binding
	Pos     lexer.Position
}

// WhereOp is one "bind(expr as ?Name)" or "filter(expr)" operation.
type WhereOp struct {
	Kind   string // "bind" or "filter"
	Expr   string
	BindAs string
	Pos    lexer.Position
}

// ThenClause is one "Uri/Action: [args]" invocation template.
type ThenClause struct {
	URI    string
	Action string
	Args   []Binding
	Pos    lexer.Position
}
