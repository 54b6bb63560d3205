package ir

// ConceptSpec is the normalized form of a concept definition — the
// ConceptManifest produced by the schema generator from a parsed AST.
type ConceptSpec struct {
	Name         string            `json:"name"`
	Version      int               `json:"version,omitempty"`
	TypeParams   []string          `json:"type_params,omitempty"`
	Purpose      string            `json:"purpose"`
	State        []StateSchema     `json:"state"`
	Actions      []ActionSig       `json:"actions"`
	Invariants   []InvariantSchema `json:"invariants"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

// ActionSig represents an action signature with typed inputs and variants.
type ActionSig struct {
	Name    string       `json:"name"`
	Args    []NamedArg   `json:"args"`
	Outputs []OutputCase `json:"outputs"`
}

// OutputCase represents a single tagged variant of an action's result.
type OutputCase struct {
	Case   string            `json:"case"`   // variant tag, e.g. "ok", "insufficient_stock"
	Fields map[string]string `json:"fields"` // field name -> type name
}

// StateSchema represents a declared state table on a concept.
type StateSchema struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

// NamedArg represents a named, typed action argument.
type NamedArg struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// InvariantSchema is an executable invariant test plan, compiled from an
// "after <step>+ then <step>+" declaration by the schema generator.
type InvariantSchema struct {
	Description   string       `json:"description"`
	FreeVariables []string     `json:"free_variables"`
	Setup         []StepRecord `json:"setup"`
	Assertions    []StepRecord `json:"assertions"`
}

// StepRecord is one executable step of an invariant: invoke Action with
// Inputs, expect ExpectedVariant with ExpectedOutputs.
type StepRecord struct {
	Action          string       `json:"action"`
	Inputs          []BoundField `json:"inputs"`
	ExpectedVariant string       `json:"expected_variant"`
	ExpectedOutputs []BoundField `json:"expected_outputs"`
}

// BoundField names a single field of a step's inputs or expected outputs,
// carrying a tagged binding value (literal, variable reference, record, or list).
type BoundField struct {
	Name  string       `json:"name"`
	Value BindingValue `json:"value"`
}

// Invocation is an intention to run an action, emitted by the sync engine
// or submitted externally. Wire shape per the transport protocol.
type Invocation struct {
	ID        string `json:"id"` // content-addressed hash
	Concept   string `json:"concept"`
	Action    string `json:"action"`
	Input     Record `json:"input"`
	Flow      string `json:"flow"`
	Sync      string `json:"sync,omitempty"`   // name of the sync rule that produced it, if any
	Parent    string `json:"parent,omitempty"` // completion or invocation id that caused it
	Timestamp int64  `json:"timestamp"`        // ms since epoch, display only
	Seq       int64  `json:"-"`                // logical clock, internal ordering only
}

// Completion is an immutable action-log record of a finished action.
type Completion struct {
	ID           string `json:"id"` // content-addressed hash
	Concept      string `json:"concept"`
	Action       string `json:"action"`
	Input        Record `json:"input"`
	Variant      string `json:"variant"`
	Output       Record `json:"output"`
	Flow         string `json:"flow"`
	Parent       string `json:"parent,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Seq          int64  `json:"-"` // logical clock, internal ordering only
	InvocationID string `json:"-"` // the invocation this completes, internal correlation only
}
