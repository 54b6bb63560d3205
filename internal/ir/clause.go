package ir

// Sync mode constants (spec: "eager" runs inline with onCompletion,
// "lazy" defers until flushLazy() is polled).
const (
	ModeEager = "eager"
	ModeLazy  = "lazy"
)

// SyncRule is the compiled form of a "sync Name [mode] when {...} where
// {...} then {...}" declaration.
type SyncRule struct {
	ID    string       `json:"id"`
	Mode  string       `json:"mode"` // ModeEager (default) or ModeLazy
	Scope ScopeSpec    `json:"scope"`
	When  []WhenClause `json:"when"` // When[0] is the primary (indexed) clause; rest are join clauses
	Where []WhereOp    `json:"where,omitempty"`
	Then  []ThenClause `json:"then"`
}

// ScopeSpec defines the scoping mode for a sync rule's join witnesses.
type ScopeSpec struct {
	Mode string `json:"mode"`          // "flow", "global", or "keyed"
	Key  string `json:"key,omitempty"` // field name for keyed mode
}

// ValidScopeModes defines allowed scope modes.
var ValidScopeModes = map[string]bool{
	"flow":   true,
	"global": true,
	"keyed":  true,
}

// WhenClause is a pattern over a completion:
// "<concept>/<action>: [<input bindings>] => [<output bindings>]".
type WhenClause struct {
	Concept string                  `json:"concept"`
	Action  string                  `json:"action"`
	Inputs  map[string]BindingValue `json:"inputs,omitempty"`  // field -> literal constraint or variable binding
	Outputs map[string]BindingValue `json:"outputs,omitempty"` // field -> literal constraint or variable binding
}

// WhereOp is one where-clause operation, executed left to right after the
// when-bindings are gathered: bind(expr as ?v) or filter(expr).
type WhereOp struct {
	Kind   string `json:"kind"` // "bind" or "filter"
	Expr   string `json:"expr"`
	BindAs string `json:"bind_as,omitempty"` // set when Kind == "bind"
}

// ThenClause is an invocation template: "<concept>/<action>: [args]",
// with argument values substituted from the bound environment.
type ThenClause struct {
	Concept string                  `json:"concept"`
	Action  string                  `json:"action"`
	Args    map[string]BindingValue `json:"args"`
}
