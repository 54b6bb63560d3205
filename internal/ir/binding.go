package ir

// BindingValue is the tagged value sum used throughout the parser, schema
// generator, and sync compiler wherever a pattern position can be a literal,
// a free or bound variable reference, a nested record, or a list. Keeping
// this uniform — rather than letting dynamic map/any lookups creep into the
// engine hot path — means every BindingValue is resolved to a concrete
// Value before it reaches the sync engine's matcher.
type BindingValue interface {
	bindingValue()
}

// BLiteral is a literal value constraint or input, e.g. a quoted string or
// integer appearing directly in a binding position.
type BLiteral struct {
	Value Value
}

func (BLiteral) bindingValue() {}

// BVariable is a reference to a pattern variable, e.g. "?cart_id". Whether
// it captures (first occurrence) or asserts (subsequent occurrence) is
// determined by the compiler, not by this type.
type BVariable struct {
	Name string
}

func (BVariable) bindingValue() {}

// BRecord is a nested record of binding values.
type BRecord struct {
	Fields map[string]BindingValue
}

func (BRecord) bindingValue() {}

// BList is a list of binding values.
type BList struct {
	Items []BindingValue
}

func (BList) bindingValue() {}
