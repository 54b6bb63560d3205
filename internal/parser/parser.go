// Package parser implements the two recursive-descent sub-parsers for
// concept and sync source files, sharing internal/lexer's tokenizer.
// Parsing is fail-fast: the first syntax error aborts with a precise
// file:line:column location and a one-line source snippet.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Itshalffull/copf/internal/ast"
	"github.com/Itshalffull/copf/internal/lexer"
)

// Error is a parse failure with source location and an offending snippet.
type Error struct {
	File    string
	Pos     lexer.Position
	Msg     string
	Snippet string
}

func (e *Error) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("%s:%s: %s", e.File, e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s:%s: %s\n\t%s", e.File, e.Pos, e.Msg, e.Snippet)
}

type parser struct {
	file   string
	src    string
	toks   []lexer.Token
	i      int
}

func newParser(file, src string) (*parser, error) {
	toks, err := lexer.All(file, src)
	if err != nil {
		lerr := err.(*lexer.Error)
		return nil, &Error{File: file, Pos: lerr.Pos, Msg: lerr.Msg, Snippet: snippet(src, lerr.Pos)}
	}
	return &parser{file: file, src: src, toks: toks}, nil
}

func snippet(src string, pos lexer.Position) string {
	lines := strings.Split(src, "\n")
	if pos.Line-1 < 0 || pos.Line-1 >= len(lines) {
		return ""
	}
	return strings.TrimRight(lines[pos.Line-1], "\r")
}

func (p *parser) cur() lexer.Token  { return p.toks[p.i] }
func (p *parser) peekAt(n int) lexer.Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) advance() lexer.Token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) errf(format string, args ...any) error {
	pos := p.cur().Pos
	return &Error{File: p.file, Pos: pos, Msg: fmt.Sprintf(format, args...), Snippet: snippet(p.src, pos)}
}

func (p *parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	if p.cur().Type != tt {
		return lexer.Token{}, p.errf("expected %s, got %s %q", tt, p.cur().Type, p.cur().Text)
	}
	return p.advance(), nil
}

// expectKeyword consumes an IDENT token whose text matches kw.
func (p *parser) expectKeyword(kw string) error {
	if p.cur().Type != lexer.IDENT || p.cur().Text != kw {
		return p.errf("expected keyword %q, got %s %q", kw, p.cur().Type, p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *parser) atKeyword(kw string) bool {
	return p.cur().Type == lexer.IDENT && p.cur().Text == kw
}

func (p *parser) expectIdent() (string, lexer.Position, error) {
	tok, err := p.expect(lexer.IDENT)
	if err != nil {
		return "", lexer.Position{}, err
	}
	return tok.Text, tok.Pos, nil
}

// ParseConcept parses a single "concept Name { ... }" declaration.
func ParseConcept(file, src string) (*ast.ConceptFile, error) {
	p, err := newParser(file, src)
	if err != nil {
		return nil, err
	}
	return p.parseConceptFile()
}

// ParseSync parses a single "sync Name [mode] when { ... } ..." declaration.
func ParseSync(file, src string) (*ast.SyncFile, error) {
	p, err := newParser(file, src)
	if err != nil {
		return nil, err
	}
	return p.parseSyncFile()
}

func (p *parser) parseConceptFile() (*ast.ConceptFile, error) {
	if err := p.expectKeyword("concept"); err != nil {
		return nil, err
	}
	name, pos, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	cf := &ast.ConceptFile{Name: name}
	_ = pos

	if p.cur().Type == lexer.LBRACKET {
		p.advance()
		for {
			tp, _, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cf.TypeParams = append(cf.TypeParams, tp)
			if p.cur().Type == lexer.COMMA {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(lexer.RBRACKET); err != nil {
			return nil, err
		}
	}

	if p.cur().Type == lexer.AT {
		p.advance()
		if err := p.expectKeyword("version"); err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return nil, err
		}
		tok, err := p.expect(lexer.INT)
		if err != nil {
			return nil, err
		}
		n, _ := strconv.Atoi(tok.Text)
		cf.Version = n
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}

	seenSections := map[string]bool{}
	for p.cur().Type != lexer.RBRACE {
		if p.cur().Type == lexer.EOF {
			return nil, p.errf("unexpected end of file inside concept body")
		}
		switch {
		case p.atKeyword("purpose"):
			if seenSections["purpose"] {
				return nil, p.errf("duplicate \"purpose\" section")
			}
			seenSections["purpose"] = true
			cf.SawPurpose = true
			p.advance()
			if _, err := p.expect(lexer.LBRACE); err != nil {
				return nil, err
			}
			if p.cur().Type == lexer.STRING {
				cf.Purpose = p.advance().Text
			}
			if _, err := p.expect(lexer.RBRACE); err != nil {
				return nil, err
			}

		case p.atKeyword("state"):
			if seenSections["state"] {
				return nil, p.errf("duplicate \"state\" section")
			}
			seenSections["state"] = true
			cf.SawState = true
			p.advance()
			if _, err := p.expect(lexer.LBRACE); err != nil {
				return nil, err
			}
			for p.cur().Type != lexer.RBRACE {
				sd, err := p.parseStateDecl()
				if err != nil {
					return nil, err
				}
				cf.State = append(cf.State, sd)
			}
			p.advance()

		case p.atKeyword("capabilities"):
			if seenSections["capabilities"] {
				return nil, p.errf("duplicate \"capabilities\" section")
			}
			seenSections["capabilities"] = true
			cf.SawCapabilities = true
			p.advance()
			if _, err := p.expect(lexer.LBRACE); err != nil {
				return nil, err
			}
			for p.cur().Type != lexer.RBRACE {
				name, _, err := p.expectIdent()
				if err != nil {
					return nil, err
				}
				cf.Capabilities = append(cf.Capabilities, name)
				if p.cur().Type == lexer.COMMA {
					p.advance()
				}
			}
			p.advance()

		case p.atKeyword("action"):
			seenSections["actions"] = true
			cf.SawActions = true
			ad, err := p.parseActionDecl()
			if err != nil {
				return nil, err
			}
			cf.Actions = append(cf.Actions, ad)

		case p.atKeyword("invariant"):
			id, err := p.parseInvariantDecl()
			if err != nil {
				return nil, err
			}
			cf.Invariants = append(cf.Invariants, id)

		default:
			return nil, p.errf("unexpected token %q inside concept body", p.cur().Text)
		}
	}
	p.advance() // RBRACE

	return cf, nil
}

func (p *parser) parseStateDecl() (ast.StateDecl, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return ast.StateDecl{}, err
	}
	sd := ast.StateDecl{Name: name, Pos: pos}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return ast.StateDecl{}, err
	}
	for p.cur().Type != lexer.RBRACE {
		f, err := p.parseFieldDecl()
		if err != nil {
			return ast.StateDecl{}, err
		}
		sd.Fields = append(sd.Fields, f)
		if p.cur().Type == lexer.COMMA {
			p.advance()
		}
	}
	p.advance()
	return sd, nil
}

func (p *parser) parseFieldDecl() (ast.FieldDecl, error) {
	name, pos, err := p.expectIdent()
	if err != nil {
		return ast.FieldDecl{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.FieldDecl{}, err
	}
	typ, _, err := p.expectIdent()
	if err != nil {
		return ast.FieldDecl{}, err
	}
	return ast.FieldDecl{Name: name, Type: typ, Pos: pos}, nil
}

func (p *parser) parseActionDecl() (ast.ActionDecl, error) {
	if err := p.expectKeyword("action"); err != nil {
		return ast.ActionDecl{}, err
	}
	name, pos, err := p.expectIdent()
	if err != nil {
		return ast.ActionDecl{}, err
	}
	ad := ast.ActionDecl{Name: name, Pos: pos}

	if _, err := p.expect(lexer.LPAREN); err != nil {
		return ast.ActionDecl{}, err
	}
	for p.cur().Type != lexer.RPAREN {
		f, err := p.parseFieldDecl()
		if err != nil {
			return ast.ActionDecl{}, err
		}
		ad.Params = append(ad.Params, f)
		if p.cur().Type == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return ast.ActionDecl{}, err
	}

	if _, err := p.expect(lexer.LBRACE); err != nil {
		return ast.ActionDecl{}, err
	}
	for p.cur().Type != lexer.RBRACE {
		if p.cur().Type != lexer.ARROW {
			return ast.ActionDecl{}, p.errf("expected variant (\"->\"), got %s %q", p.cur().Type, p.cur().Text)
		}
		v, err := p.parseVariantDecl()
		if err != nil {
			return ast.ActionDecl{}, err
		}
		ad.Variants = append(ad.Variants, v)
	}
	p.advance()

	if len(ad.Variants) == 0 {
		return ast.ActionDecl{}, &Error{File: p.file, Pos: ad.Pos, Msg: fmt.Sprintf("action %q must declare at least one variant", ad.Name)}
	}

	return ad, nil
}

func (p *parser) parseVariantDecl() (ast.VariantDecl, error) {
	pos := p.cur().Pos
	if _, err := p.expect(lexer.ARROW); err != nil {
		return ast.VariantDecl{}, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return ast.VariantDecl{}, err
	}
	v := ast.VariantDecl{Name: name, Pos: pos}

	if _, err := p.expect(lexer.LPAREN); err != nil {
		return ast.VariantDecl{}, err
	}
	for p.cur().Type != lexer.RPAREN {
		f, err := p.parseFieldDecl()
		if err != nil {
			return ast.VariantDecl{}, err
		}
		v.Outputs = append(v.Outputs, f)
		if p.cur().Type == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return ast.VariantDecl{}, err
	}

	if _, err := p.expect(lexer.LBRACE); err != nil {
		return ast.VariantDecl{}, err
	}
	if p.cur().Type == lexer.STRING {
		v.Prose = p.advance().Text
	}
	if _, err := p.expect(lexer.RBRACE); err != nil {
		return ast.VariantDecl{}, err
	}

	return v, nil
}

func (p *parser) parseInvariantDecl() (ast.InvariantDecl, error) {
	pos := p.cur().Pos
	if err := p.expectKeyword("invariant"); err != nil {
		return ast.InvariantDecl{}, err
	}
	id := ast.InvariantDecl{Pos: pos}

	if _, err := p.expect(lexer.LBRACE); err != nil {
		return ast.InvariantDecl{}, err
	}
	if err := p.expectKeyword("after"); err != nil {
		return ast.InvariantDecl{}, err
	}
	steps, err := p.parseStepList()
	if err != nil {
		return ast.InvariantDecl{}, err
	}
	id.After = steps

	if err := p.expectKeyword("then"); err != nil {
		return ast.InvariantDecl{}, err
	}
	steps, err = p.parseStepList()
	if err != nil {
		return ast.InvariantDecl{}, err
	}
	id.Then = steps

	if _, err := p.expect(lexer.RBRACE); err != nil {
		return ast.InvariantDecl{}, err
	}
	return id, nil
}

func (p *parser) parseStepList() ([]ast.Step, error) {
	var steps []ast.Step
	for {
		s, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
		if p.cur().Type == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return steps, nil
}

// parseStep parses "Name/ Action: [bindings] -> Variant(bindings)" where the
// "Name/" concept-reference prefix is optional.
func (p *parser) parseStep() (ast.Step, error) {
	pos := p.cur().Pos
	first, _, err := p.expectIdent()
	if err != nil {
		return ast.Step{}, err
	}
	var conceptRef, action string
	if p.cur().Type == lexer.SLASH {
		p.advance()
		action, _, err = p.expectIdent()
		if err != nil {
			return ast.Step{}, err
		}
		conceptRef = first
	} else {
		action = first
	}

	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Step{}, err
	}
	inputs, err := p.parseBindingList()
	if err != nil {
		return ast.Step{}, err
	}
	if _, err := p.expect(lexer.ARROW); err != nil {
		return ast.Step{}, err
	}
	variant, _, err := p.expectIdent()
	if err != nil {
		return ast.Step{}, err
	}
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return ast.Step{}, err
	}
	var outputs []ast.Binding
	if p.cur().Type != lexer.RPAREN {
		outputs, err = p.parseBindings(lexer.RPAREN)
		if err != nil {
			return ast.Step{}, err
		}
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return ast.Step{}, err
	}

	return ast.Step{ConceptRef: conceptRef, Action: action, Inputs: inputs, Variant: variant, Outputs: outputs, Pos: pos}, nil
}

// parseBindingList parses a "[" binding ("," binding)* ","? "]" list,
// accepting a trailing comma and an empty list.
func (p *parser) parseBindingList() ([]ast.Binding, error) {
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return nil, err
	}
	var bindings []ast.Binding
	if p.cur().Type != lexer.RBRACKET {
		var err error
		bindings, err = p.parseBindings(lexer.RBRACKET)
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return nil, err
	}
	return bindings, nil
}

// parseBindings parses a comma-separated, trailing-comma-tolerant binding
// sequence up to (not including) the closer token.
func (p *parser) parseBindings(closer lexer.TokenType) ([]ast.Binding, error) {
	var bindings []ast.Binding
	for {
		if p.cur().Type == closer {
			break
		}
		name, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, ast.Binding{Name: name, Value: val})
		if p.cur().Type == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return bindings, nil
}

// parseValue parses Literal | "?"? Name | "{" bindings "}" | "[" value,... "]".
func (p *parser) parseValue() (ast.Value, error) {
	switch p.cur().Type {
	case lexer.STRING:
		return ast.Value{Kind: ast.ValLiteral, Literal: p.advance().Text}, nil

	case lexer.INT:
		n, err := strconv.ParseInt(p.advance().Text, 10, 64)
		if err != nil {
			return ast.Value{}, p.errf("invalid integer literal: %v", err)
		}
		return ast.Value{Kind: ast.ValLiteral, Literal: n}, nil

	case lexer.DECIMAL:
		return ast.Value{}, p.errf("decimal literals are not permitted (floats break determinism)")

	case lexer.QUESTION:
		p.advance()
		name, _, err := p.expectIdent()
		if err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValVariable, VarName: name}, nil

	case lexer.IDENT:
		text := p.cur().Text
		if text == "true" || text == "false" {
			p.advance()
			return ast.Value{Kind: ast.ValLiteral, Literal: text == "true"}, nil
		}
		// bare identifier: a variable reference without the "?" sigil, used
		// in capture position on first occurrence of a test-invariant output.
		p.advance()
		return ast.Value{Kind: ast.ValVariable, VarName: text}, nil

	case lexer.LBRACE:
		p.advance()
		fields, err := p.parseBindings(lexer.RBRACE)
		if err != nil {
			return ast.Value{}, err
		}
		if _, err := p.expect(lexer.RBRACE); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValRecord, Fields: fields}, nil

	case lexer.LBRACKET:
		p.advance()
		var elems []ast.Value
		for p.cur().Type != lexer.RBRACKET {
			v, err := p.parseValue()
			if err != nil {
				return ast.Value{}, err
			}
			elems = append(elems, v)
			if p.cur().Type == lexer.COMMA {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(lexer.RBRACKET); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValList, Elements: elems}, nil

	default:
		return ast.Value{}, p.errf("expected a value, got %s %q", p.cur().Type, p.cur().Text)
	}
}

func (p *parser) parseSyncFile() (*ast.SyncFile, error) {
	pos := p.cur().Pos
	if err := p.expectKeyword("sync"); err != nil {
		return nil, err
	}
	name, _, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	sf := &ast.SyncFile{Name: name, Pos: pos}

	if p.cur().Type == lexer.LBRACKET {
		p.advance()
		mode, _, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if mode != "eager" && mode != "lazy" {
			return nil, p.errf("invalid sync mode %q, must be \"eager\" or \"lazy\"", mode)
		}
		sf.Mode = mode
		if _, err := p.expect(lexer.RBRACKET); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("when"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	for p.cur().Type != lexer.RBRACE {
		wc, err := p.parseWhenClause()
		if err != nil {
			return nil, err
		}
		sf.When = append(sf.When, wc)
	}
	p.advance()
	if len(sf.When) == 0 {
		return nil, &Error{File: p.file, Pos: sf.Pos, Msg: "sync must declare at least one \"when\" clause"}
	}

	if p.atKeyword("where") {
		p.advance()
		if _, err := p.expect(lexer.LBRACE); err != nil {
			return nil, err
		}
		for p.cur().Type != lexer.RBRACE {
			op, err := p.parseWhereOp()
			if err != nil {
				return nil, err
			}
			sf.Where = append(sf.Where, op)
		}
		p.advance()
	}

	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	for p.cur().Type != lexer.RBRACE {
		tc, err := p.parseThenClause()
		if err != nil {
			return nil, err
		}
		sf.Then = append(sf.Then, tc)
	}
	p.advance()
	if len(sf.Then) == 0 {
		return nil, &Error{File: p.file, Pos: sf.Pos, Msg: "sync must declare at least one \"then\" clause"}
	}

	return sf, nil
}

// parseURIAction parses "Uri/Action", where Uri may be a dotted identifier
// path (e.g. "urn:copf/Cart" rendered as a single IDENT by convention, or
// "Cart" bare).
func (p *parser) parseURIAction() (uri, action string, pos lexer.Position, err error) {
	uri, pos, err = p.expectIdent()
	if err != nil {
		return "", "", lexer.Position{}, err
	}
	for p.cur().Type == lexer.COLON {
		p.advance()
		if _, err := p.expect(lexer.SLASH); err != nil {
			return "", "", lexer.Position{}, err
		}
		if _, err := p.expect(lexer.SLASH); err != nil {
			return "", "", lexer.Position{}, err
		}
		rest, _, err := p.expectIdent()
		if err != nil {
			return "", "", lexer.Position{}, err
		}
		uri = uri + "://" + rest
	}
	if _, err := p.expect(lexer.SLASH); err != nil {
		return "", "", lexer.Position{}, err
	}
	action, _, err = p.expectIdent()
	if err != nil {
		return "", "", lexer.Position{}, err
	}
	return uri, action, pos, nil
}

func (p *parser) parseWhenClause() (ast.WhenClause, error) {
	uri, action, pos, err := p.parseURIAction()
	if err != nil {
		return ast.WhenClause{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.WhenClause{}, err
	}
	inputs, err := p.parseBindingList()
	if err != nil {
		return ast.WhenClause{}, err
	}
	wc := ast.WhenClause{URI: uri, Action: action, Inputs: inputs, Pos: pos}
	if p.cur().Type == lexer.FATARROW {
		p.advance()
		outputs, err := p.parseBindingList()
		if err != nil {
			return ast.WhenClause{}, err
		}
		wc.Outputs = outputs
	}
	return wc, nil
}

func (p *parser) parseThenClause() (ast.ThenClause, error) {
	uri, action, pos, err := p.parseURIAction()
	if err != nil {
		return ast.ThenClause{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.ThenClause{}, err
	}
	args, err := p.parseBindingList()
	if err != nil {
		return ast.ThenClause{}, err
	}
	return ast.ThenClause{URI: uri, Action: action, Args: args, Pos: pos}, nil
}

// parseWhereOp parses "bind(expr as ?Name)" or "filter(expr)". expr is a
// raw token-text span up to the closing delimiter, re-tokenized and
// evaluated at runtime by internal/engine's expression evaluator.
func (p *parser) parseWhereOp() (ast.WhereOp, error) {
	pos := p.cur().Pos
	switch {
	case p.atKeyword("bind"):
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return ast.WhereOp{}, err
		}
		expr, err := p.parseRawExprUntil("as")
		if err != nil {
			return ast.WhereOp{}, err
		}
		if err := p.expectKeyword("as"); err != nil {
			return ast.WhereOp{}, err
		}
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.WhereOp{}, err
		}
		name, _, err := p.expectIdent()
		if err != nil {
			return ast.WhereOp{}, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return ast.WhereOp{}, err
		}
		return ast.WhereOp{Kind: "bind", Expr: expr, BindAs: name, Pos: pos}, nil

	case p.atKeyword("filter"):
		p.advance()
		if _, err := p.expect(lexer.LPAREN); err != nil {
			return ast.WhereOp{}, err
		}
		expr, err := p.parseRawExprUntil("")
		if err != nil {
			return ast.WhereOp{}, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return ast.WhereOp{}, err
		}
		return ast.WhereOp{Kind: "filter", Expr: expr, Pos: pos}, nil

	default:
		return ast.WhereOp{}, p.errf("expected \"bind\" or \"filter\", got %q", p.cur().Text)
	}
}

// parseRawExprUntil collects token text up to (not including) a closing
// RPAREN, or the given keyword if stopKeyword is non-empty, reconstructing
// a source-like string for the expression evaluator.
func (p *parser) parseRawExprUntil(stopKeyword string) (string, error) {
	var sb strings.Builder
	depth := 0
	for {
		t := p.cur()
		if t.Type == lexer.EOF {
			return "", p.errf("unterminated expression")
		}
		if depth == 0 {
			if t.Type == lexer.RPAREN {
				break
			}
			if stopKeyword != "" && t.Type == lexer.IDENT && t.Text == stopKeyword {
				break
			}
		}
		if t.Type == lexer.LPAREN {
			depth++
		}
		if t.Type == lexer.RPAREN {
			depth--
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tokenText(t))
		p.advance()
	}
	return sb.String(), nil
}

func tokenText(t lexer.Token) string {
	switch t.Type {
	case lexer.STRING:
		return strconv.Quote(t.Text)
	default:
		return t.Text
	}
}
