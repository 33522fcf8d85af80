package plcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// ParseError is a syntax error with source position.
type ParseError struct {
	Pos     lexer.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: syntax error: %s", e.Pos, e.Message)
}

// ParseRoutine parses a complete routine definition. The source may be a
// full CREATE [OR REPLACE] FUNCTION/PROCEDURE statement with the body in a
// dollar-quoted string, or a bare DECLARE/BEGIN...END body (checked as an
// anonymous function returning void). Body line numbers are relative to the
// body string, matching how the host engine reports routine positions.
func ParseRoutine(filename, src string) (*Routine, error) {
	routines, err := ParseFile(filename, src)
	if err != nil {
		return nil, err
	}

	if len(routines) == 0 {
		return nil, &ParseError{
			Pos:     lexer.Position{Filename: filename, Line: 1, Column: 1},
			Message: "no routine definition found",
		}
	}

	return routines[0], nil
}

// ParseFile parses one or more routine definitions from a single source
// file. A source that is a bare body yields exactly one routine. The results
// are named so the deferred recover can surface the parser's panic as the
// returned error.
func ParseFile(filename, src string) (routines []*Routine, err error) {
	toks, err := lexAll(filename, src)
	if err != nil {
		return nil, err
	}

	p := &parser{filename: filename, src: src, toks: toks}

	defer func() {
		if r := recover(); r != nil {
			pp, ok := r.(parsePanic)
			if !ok {
				panic(r)
			}

			err = pp.err
		}

		if err != nil {
			routines = nil
		}
	}()

	if !p.atKw("CREATE") {
		// Bare body form.
		r := p.parseBareBody(src)

		return []*Routine{r}, nil
	}

	for !p.eof() {
		for p.at(TokenSemi) {
			p.shift()
		}

		if p.eof() {
			break
		}

		routines = append(routines, p.parseCreate())
	}

	if len(routines) == 0 {
		p.errf(p.tok().Pos, "no routine definition found")
	}

	return routines, nil
}

// lexAll tokenizes the whole input, dropping whitespace and comments.
func lexAll(filename, src string) ([]lexer.Token, error) {
	lx, err := sqlLexer.LexString(filename, src)
	if err != nil {
		return nil, err
	}

	var toks []lexer.Token

	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}

		if tok.Type == TokenWhitespace || tok.Type == TokenComment {
			continue
		}

		toks = append(toks, tok)

		if tok.EOF() {
			return toks, nil
		}
	}
}

// parser is a recursive-descent parser over the lexed token stream. It
// reports the first syntax error via panic; the exported entry points
// recover it into an error return.
type parser struct {
	filename string
	src      string
	toks     []lexer.Token
	pos      int
}

type parsePanic struct{ err *ParseError }

func (p *parser) recoverTo(err *error) {
	if r := recover(); r != nil {
		pp, ok := r.(parsePanic)
		if !ok {
			panic(r)
		}

		*err = pp.err
	}
}

func (p *parser) errf(pos lexer.Position, format string, args ...any) {
	panic(parsePanic{err: &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}})
}

func (p *parser) tok() lexer.Token { return p.toks[p.pos] }

func (p *parser) peekTok(n int) lexer.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}

	return p.toks[p.pos+n]
}

func (p *parser) eof() bool { return p.tok().EOF() }

func (p *parser) shift() lexer.Token {
	t := p.tok()
	if !t.EOF() {
		p.pos++
	}

	return t
}

func (p *parser) at(tt lexer.TokenType) bool { return p.tok().Type == tt }

func (p *parser) atKw(words ...string) bool {
	t := p.tok()
	if t.Type != TokenKeyword {
		return false
	}

	for _, w := range words {
		if t.Value == w {
			return true
		}
	}

	return false
}

// atIdent matches a plain identifier by value (case already folded).
func (p *parser) atIdent(values ...string) bool {
	t := p.tok()
	if t.Type != TokenIdent {
		return false
	}

	for _, v := range values {
		if t.Value == v {
			return true
		}
	}

	return false
}

func (p *parser) atOp(op string) bool {
	t := p.tok()

	return t.Type == TokenOp && t.Value == op
}

func (p *parser) acceptKw(w string) bool {
	if p.atKw(w) {
		p.shift()

		return true
	}

	return false
}

func (p *parser) acceptOp(op string) bool {
	if p.atOp(op) {
		p.shift()

		return true
	}

	return false
}

func (p *parser) expectKw(w string) lexer.Token {
	if !p.atKw(w) {
		p.errf(p.tok().Pos, "expected %s, got %q", w, p.tok().Value)
	}

	return p.shift()
}

func (p *parser) expect(tt lexer.TokenType, what string) lexer.Token {
	if !p.at(tt) {
		p.errf(p.tok().Pos, "expected %s, got %q", what, p.tok().Value)
	}

	return p.shift()
}

func (p *parser) expectSemi() {
	if !p.at(TokenSemi) {
		p.errf(p.tok().Pos, "expected \";\", got %q", p.tok().Value)
	}

	p.shift()
}

// identValue accepts an Ident or QuotedIdent and returns its value.
func (p *parser) identValue(what string) (string, lexer.Position) {
	t := p.tok()
	if t.Type != TokenIdent && t.Type != TokenQuotedIdent {
		p.errf(t.Pos, "expected %s, got %q", what, t.Value)
	}

	p.shift()

	return t.Value, t.Pos
}

// --- CREATE FUNCTION / PROCEDURE header ------------------------------------

func (p *parser) parseCreate() *Routine {
	p.expectKw("CREATE")

	if p.acceptKw("OR") {
		p.expectKw("REPLACE")
	}

	r := &Routine{Kind: KindFunction, Returns: &ReturnShape{Kind: ReturnsVoid}}

	switch {
	case p.acceptKw("FUNCTION"):
	case p.acceptKw("PROCEDURE"):
		r.Kind = KindProcedure
	default:
		p.errf(p.tok().Pos, "expected FUNCTION or PROCEDURE, got %q", p.tok().Value)
	}

	name, _ := p.identValue("routine name")
	for p.at(TokenDot) {
		p.shift()
		name, _ = p.identValue("routine name")
	}

	r.Name = name

	p.expect(TokenLParen, `"("`)

	for !p.at(TokenRParen) {
		r.Params = append(r.Params, p.parseRoutineParam())

		if !p.at(TokenComma) {
			break
		}

		p.shift()
	}

	p.expect(TokenRParen, `")"`)

	if p.acceptKw("RETURNS") {
		r.Returns = p.parseReturnShape()

		if r.Returns.Kind == ReturnsTrigger {
			r.Kind = KindRowTrigger
		}
	}

	body, bodyPos := p.parseRoutineTail()

	r.Source = body

	sub := &parser{filename: p.filename, src: body, toks: mustLexAll(p, bodyPos, body)}
	r.Body = sub.parseBlockBody()
	r.NumStmts = numberStmts([]Stmt{r.Body}, 1) - 1

	return r
}

// mustLexAll lexes a routine body, converting lex errors to parse panics.
func mustLexAll(p *parser, pos lexer.Position, body string) []lexer.Token {
	toks, err := lexAll(p.filename, body)
	if err != nil {
		p.errf(pos, "in routine body: %s", err)
	}

	return toks
}

func (p *parser) parseRoutineParam() *RoutineParam {
	param := &RoutineParam{Mode: ModeIn}

	switch {
	case p.acceptKw("IN"):
		if p.acceptKw("OUT") {
			param.Mode = ModeInOut
		}
	case p.acceptKw("OUT"):
		param.Mode = ModeOut
	case p.acceptKw("INOUT"):
		param.Mode = ModeInOut
	case p.acceptKw("VARIADIC"):
		param.Mode = ModeVariadic
	}

	name, _ := p.identValue("parameter name or type")

	// A name followed directly by a delimiter means the parameter was
	// unnamed and the identifier was really its type.
	if p.at(TokenComma) || p.at(TokenRParen) || p.atKw("DEFAULT") || p.atOp("=") {
		param.Type = &TypeRef{Name: name}
	} else {
		param.Name = name
		param.Type = p.parseTypeRef()
	}

	if p.acceptKw("DEFAULT") || p.acceptOp("=") {
		param.HasDefault = true
		p.parseExpr()
	}

	return param
}

func (p *parser) parseReturnShape() *ReturnShape {
	switch {
	case p.acceptKw("TRIGGER"):
		return &ReturnShape{Kind: ReturnsTrigger}
	case p.acceptKw("SETOF"):
		return &ReturnShape{Kind: ReturnsSetOf, Type: p.parseTypeRef()}
	case p.acceptKw("TABLE"):
		shape := &ReturnShape{Kind: ReturnsTable}

		p.expect(TokenLParen, `"("`)

		for !p.at(TokenRParen) {
			name, _ := p.identValue("column name")
			shape.Cols = append(shape.Cols, &RoutineParam{
				Name: name,
				Mode: ModeOut,
				Type: p.parseTypeRef(),
			})

			if !p.at(TokenComma) {
				break
			}

			p.shift()
		}

		p.expect(TokenRParen, `")"`)

		return shape
	default:
		ref := p.parseTypeRef()
		if ref.Name == "void" {
			return &ReturnShape{Kind: ReturnsVoid}
		}

		return &ReturnShape{Kind: ReturnsScalar, Type: ref}
	}
}

// parseRoutineTail consumes the attribute list after the signature and
// returns the body string from the AS clause. Attributes we do not model
// (VOLATILE, STABLE, COST, SET, ...) are skipped.
func (p *parser) parseRoutineTail() (string, lexer.Position) {
	var (
		body    string
		bodyPos lexer.Position
		found   bool
	)

	for !p.eof() && !p.at(TokenSemi) {
		switch {
		case p.acceptKw("AS"):
			t := p.tok()
			if t.Type != TokenDollarString && t.Type != TokenString {
				p.errf(t.Pos, "expected routine body string after AS")
			}

			p.shift()

			body, bodyPos, found = t.Value, t.Pos, true
		case p.acceptKw("LANGUAGE"):
			p.identValue("language name")
		default:
			p.shift()
		}
	}

	if !found {
		p.errf(p.tok().Pos, "routine definition has no AS body")
	}

	return body, bodyPos
}

func (p *parser) parseBareBody(src string) *Routine {
	r := &Routine{
		Name:    "inline_code_block",
		Kind:    KindFunction,
		Returns: &ReturnShape{Kind: ReturnsVoid},
		Source:  src,
	}

	r.Body = p.parseBlockBody()
	r.NumStmts = numberStmts([]Stmt{r.Body}, 1) - 1

	return r
}

// --- types ------------------------------------------------------------------

// multi-word type names normalized to their canonical form.
func (p *parser) parseTypeRef() *TypeRef {
	start := p.tok().Pos

	name, _ := p.identValue("type name")
	for p.at(TokenDot) {
		p.shift()

		part, _ := p.identValue("type name")
		name += "." + part
	}

	switch name {
	case "double":
		if p.atIdent("precision") {
			p.shift()

			name = "double precision"
		}
	case "character":
		if p.atIdent("varying") {
			p.shift()

			name = "varchar"
		}
	case "timestamp", "time":
		name = p.parseTimeZoneSuffix(name)
	}

	ref := &TypeRef{Pos: start, Name: name}

	// Precision/scale arguments: varchar(10), numeric(12,2)
	if p.at(TokenLParen) {
		p.shift()

		for !p.at(TokenRParen) && !p.eof() {
			p.shift()
		}

		p.expect(TokenRParen, `")"`)
	}

	// %TYPE and %ROWTYPE
	if p.atOp("%") {
		p.shift()

		word, _ := p.identValue("TYPE or ROWTYPE")
		switch word {
		case "type":
			ref.TypeOf = true
		case "rowtype":
			ref.RowType = true
		default:
			p.errf(ref.Pos, "expected %%TYPE or %%ROWTYPE, got %%%s", word)
		}
	}

	// Array suffix: [] or ARRAY
	switch {
	case p.at(TokenLBracket):
		p.shift()

		if p.at(TokenNumber) {
			p.shift()
		}

		p.expect(TokenRBracket, `"]"`)

		ref.Array = true
	case p.atKw("ARRAY"):
		p.shift()

		ref.Array = true
	}

	return ref
}

func (p *parser) parseTimeZoneSuffix(name string) string {
	if p.atKw("WITH") {
		p.shift()
		p.mustIdent("time")
		p.mustIdent("zone")

		if name == "timestamp" {
			return "timestamptz"
		}

		return "timetz"
	}

	if p.atIdent("without") {
		p.shift()
		p.mustIdent("time")
		p.mustIdent("zone")
	}

	return name
}

func (p *parser) mustIdent(v string) {
	if !p.atIdent(v) {
		p.errf(p.tok().Pos, "expected %q, got %q", v, p.tok().Value)
	}

	p.shift()
}

// --- blocks and declarations ------------------------------------------------

// parseBlockBody parses [<<label>>] [DECLARE ...] BEGIN ... END [label] [;]
func (p *parser) parseBlockBody() *Block {
	start := p.tok().Pos
	b := &Block{StmtBase: StmtBase{Pos: start}}

	if p.atOp("<<") {
		b.Label = p.parseLabel()
	}

	if p.acceptKw("DECLARE") {
		for !p.atKw("BEGIN") && !p.eof() {
			b.Decls = append(b.Decls, p.parseDeclaration())
		}
	}

	p.expectKw("BEGIN")

	b.Body = p.parseStmtList("END", "EXCEPTION")

	if p.acceptKw("EXCEPTION") {
		for p.atKw("WHEN") {
			b.Handlers = append(b.Handlers, p.parseHandler())
		}
	}

	p.expectKw("END")

	if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
		endLabel, pos := p.identValue("block label")
		if b.Label != "" && endLabel != b.Label {
			p.errf(pos, "end label %q differs from block's label %q", endLabel, b.Label)
		}
	}

	if p.at(TokenSemi) {
		p.shift()
	}

	return b
}

func (p *parser) parseLabel() string {
	p.shift() // <<

	label, _ := p.identValue("label")

	if !p.atOp(">>") {
		p.errf(p.tok().Pos, "expected \">>\", got %q", p.tok().Value)
	}

	p.shift()

	return label
}

func (p *parser) parseDeclaration() *Declaration {
	name, pos := p.identValue("variable name")
	d := &Declaration{Pos: pos, Name: name}

	if p.acceptKw("CONSTANT") {
		d.Constant = true
	}

	// [NO] SCROLL CURSOR and plain CURSOR declarations
	scroll := false
	if p.atIdent("no") && p.peekTok(1).Type == TokenKeyword && p.peekTok(1).Value == "SCROLL" {
		p.shift()
		p.shift()

		scroll = true
	} else if p.acceptKw("SCROLL") {
		scroll = true
	}

	if scroll || p.atKw("CURSOR") {
		p.expectKw("CURSOR")

		return p.parseCursorDecl(d)
	}

	d.Type = p.parseTypeRef()

	if p.acceptKw("NOT") {
		p.expectKw("NULL")

		d.NotNull = true
	}

	if p.acceptOp(":=") || p.acceptOp("=") || p.acceptKw("DEFAULT") {
		d.Default = p.parseExpr()
	}

	p.expectSemi()

	return d
}

func (p *parser) parseCursorDecl(d *Declaration) *Declaration {
	d.IsCursor = true
	d.Type = &TypeRef{Pos: d.Pos, Name: "refcursor"}

	if p.at(TokenLParen) {
		p.shift()

		for !p.at(TokenRParen) {
			name, pos := p.identValue("cursor parameter name")
			d.CursorParams = append(d.CursorParams, &CursorParam{
				Pos:  pos,
				Name: name,
				Type: p.parseTypeRef(),
			})

			if !p.at(TokenComma) {
				break
			}

			p.shift()
		}

		p.expect(TokenRParen, `")"`)
	}

	if !p.acceptKw("IS") && !p.acceptKw("FOR") {
		p.errf(p.tok().Pos, "expected IS or FOR in cursor declaration")
	}

	d.CursorQuery, _ = p.captureSQL(false)

	p.expectSemi()

	return d
}

func (p *parser) parseHandler() *ExceptionHandler {
	start := p.expectKw("WHEN").Pos
	h := &ExceptionHandler{Pos: start}

	for {
		if p.acceptKw("OTHERS") {
			h.Conditions = append(h.Conditions, "others")
		} else if p.acceptKw("SQLSTATE") {
			code := p.expect(TokenString, "SQLSTATE string")
			h.Conditions = append(h.Conditions, "sqlstate "+code.Value)
		} else {
			cond, _ := p.identValue("condition name")
			h.Conditions = append(h.Conditions, cond)
		}

		if !p.acceptKw("OR") {
			break
		}
	}

	p.expectKw("THEN")

	h.Body = p.parseStmtList("END", "EXCEPTION", "WHEN")

	return h
}

// --- statements -------------------------------------------------------------

// parseStmtList parses statements until one of the stop keywords appears.
func (p *parser) parseStmtList(stopKws ...string) []Stmt {
	var stmts []Stmt

	for !p.eof() && !p.atKw(stopKws...) {
		stmts = append(stmts, p.parseStatement())
	}

	return stmts
}

//nolint:cyclop // closed dispatch over the full statement kind set
func (p *parser) parseStatement() Stmt {
	t := p.tok()

	switch {
	case p.atOp("<<"):
		return p.parseLabeled()
	case p.atKw("DECLARE"), p.atKw("BEGIN"):
		return p.parseBlockBody()
	case p.atKw("IF"):
		return p.parseIf()
	case p.atKw("CASE"):
		return p.parseCaseStmt()
	case p.atKw("LOOP"):
		return p.parseLoop("")
	case p.atKw("WHILE"):
		return p.parseWhile("")
	case p.atKw("FOR"):
		return p.parseFor("")
	case p.atKw("FOREACH"):
		return p.parseForeach("")
	case p.atKw("EXIT"), p.atKw("CONTINUE"):
		return p.parseExit()
	case p.atKw("RETURN"):
		return p.parseReturn()
	case p.atKw("RAISE"):
		return p.parseRaise()
	case p.atKw("ASSERT"):
		return p.parseAssert()
	case p.atKw("PERFORM"):
		return p.parsePerform()
	case p.atKw("EXECUTE"):
		return p.parseExecute()
	case p.atKw("GET"):
		return p.parseGetDiag()
	case p.atKw("OPEN"):
		return p.parseOpen()
	case p.atKw("FETCH"), p.atKw("MOVE"):
		return p.parseFetch()
	case p.atKw("CLOSE"):
		return p.parseClose()
	case p.atKw("COMMIT"):
		p.shift()
		p.expectSemi()

		return &StmtCommit{StmtBase: StmtBase{Pos: t.Pos}}
	case p.atKw("ROLLBACK"):
		p.shift()
		p.expectSemi()

		return &StmtRollback{StmtBase: StmtBase{Pos: t.Pos}}
	case p.atKw("CALL"):
		return p.parseCall()
	case p.atKw("NULL"):
		p.shift()
		p.expectSemi()

		return &StmtNull{StmtBase: StmtBase{Pos: t.Pos}}
	case p.atKw("SELECT", "INSERT", "UPDATE", "DELETE", "WITH", "VALUES", "TABLE", "CREATE"):
		return p.parseSQLStmt()
	case t.Type == TokenIdent || t.Type == TokenQuotedIdent:
		return p.parseAssign()
	default:
		p.errf(t.Pos, "unexpected %q", t.Value)

		return nil
	}
}

func (p *parser) parseLabeled() Stmt {
	label := p.parseLabel()

	switch {
	case p.atKw("LOOP"):
		return p.parseLoop(label)
	case p.atKw("WHILE"):
		return p.parseWhile(label)
	case p.atKw("FOR"):
		return p.parseFor(label)
	case p.atKw("FOREACH"):
		return p.parseForeach(label)
	case p.atKw("BEGIN"), p.atKw("DECLARE"):
		// Rewind so parseBlockBody sees the label itself is consumed;
		// attach it directly.
		b := p.parseBlockBody()
		b.Label = label

		return b
	default:
		p.errf(p.tok().Pos, "expected LOOP, WHILE, FOR, FOREACH or block after label")

		return nil
	}
}

func (p *parser) parseIf() *StmtIf {
	start := p.expectKw("IF").Pos
	s := &StmtIf{StmtBase: StmtBase{Pos: start}}

	s.Cond = p.parseExpr()
	p.expectKw("THEN")

	s.Then = p.parseStmtList("ELSIF", "ELSE", "END")

	for p.atKw("ELSIF") {
		e := &ElsIf{Pos: p.shift().Pos}
		e.Cond = p.parseExpr()
		p.expectKw("THEN")
		e.Then = p.parseStmtList("ELSIF", "ELSE", "END")

		s.Elsifs = append(s.Elsifs, e)
	}

	if p.acceptKw("ELSE") {
		s.HasElse = true
		s.Else = p.parseStmtList("END")
	}

	p.expectKw("END")
	p.expectKw("IF")
	p.expectSemi()

	return s
}

func (p *parser) parseCaseStmt() *StmtCase {
	start := p.expectKw("CASE").Pos
	s := &StmtCase{StmtBase: StmtBase{Pos: start}}

	if !p.atKw("WHEN") {
		s.Operand = p.parseExpr()
	}

	for p.atKw("WHEN") {
		w := &CaseWhen{Pos: p.shift().Pos}

		if s.Operand != nil {
			w.Exprs = append(w.Exprs, p.parseExpr())
			for p.at(TokenComma) {
				p.shift()
				w.Exprs = append(w.Exprs, p.parseExpr())
			}
		} else {
			w.Cond = p.parseExpr()
		}

		p.expectKw("THEN")

		w.Body = p.parseStmtList("WHEN", "ELSE", "END")

		s.Whens = append(s.Whens, w)
	}

	if p.acceptKw("ELSE") {
		s.HasElse = true
		s.Else = p.parseStmtList("END")
	}

	p.expectKw("END")
	p.expectKw("CASE")
	p.expectSemi()

	return s
}

func (p *parser) parseLoop(label string) *StmtLoop {
	start := p.expectKw("LOOP").Pos
	s := &StmtLoop{StmtBase: StmtBase{Pos: start}, Label: label}

	s.Body = p.parseStmtList("END")

	p.endLoop()

	return s
}

func (p *parser) parseWhile(label string) *StmtWhile {
	start := p.expectKw("WHILE").Pos
	s := &StmtWhile{StmtBase: StmtBase{Pos: start}, Label: label}

	s.Cond = p.parseExpr()
	p.expectKw("LOOP")

	s.Body = p.parseStmtList("END")

	p.endLoop()

	return s
}

// endLoop consumes END LOOP [label] ;
func (p *parser) endLoop() {
	p.expectKw("END")
	p.expectKw("LOOP")

	if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
		p.shift()
	}

	p.expectSemi()
}

//nolint:cyclop // FOR has four syntactic flavors disambiguated here
func (p *parser) parseFor(label string) Stmt {
	start := p.expectKw("FOR").Pos

	varName, varPos := p.identValue("loop variable")

	// Additional targets would only be legal for query loops; collect them
	// so the query form can use them.
	targets := []*Target{{Pos: varPos, Parts: []string{varName}}}
	for p.at(TokenComma) {
		p.shift()

		n, pos := p.identValue("loop variable")
		targets = append(targets, &Target{Pos: pos, Parts: []string{n}})
	}

	p.expectKw("IN")

	// FOR ... IN EXECUTE expr [USING ...] LOOP
	if p.acceptKw("EXECUTE") {
		s := &StmtForQuery{StmtBase: StmtBase{Pos: start}, Label: label, Targets: targets}
		s.Dynamic = p.parseExpr()

		if p.acceptKw("USING") {
			s.Using = p.parseExprList()
		}

		p.expectKw("LOOP")

		s.Body = p.parseStmtList("END")
		p.endLoop()

		return s
	}

	// FOR ... IN SELECT ... LOOP
	if p.atKw("SELECT", "INSERT", "UPDATE", "DELETE", "WITH", "VALUES", "TABLE") {
		s := &StmtForQuery{StmtBase: StmtBase{Pos: start}, Label: label, Targets: targets}
		s.Query, _ = p.captureSQLUntilLoop()

		p.expectKw("LOOP")

		s.Body = p.parseStmtList("END")
		p.endLoop()

		return s
	}

	// Integer range or cursor loop.
	reverse := p.acceptKw("REVERSE")

	first := p.parseExpr()

	if p.atOp("..") {
		p.shift()

		s := &StmtForI{
			StmtBase: StmtBase{Pos: start},
			Label:    label,
			Var:      varName,
			VarPos:   varPos,
			Reverse:  reverse,
			Lower:    first,
			Upper:    p.parseExpr(),
		}

		if p.acceptKw("BY") {
			s.Step = p.parseExpr()
		}

		p.expectKw("LOOP")

		s.Body = p.parseStmtList("END")
		p.endLoop()

		return s
	}

	if reverse {
		p.errf(start, "REVERSE is only allowed in an integer FOR loop")
	}

	s := &StmtForCursor{
		StmtBase: StmtBase{Pos: start},
		Label:    label,
		Var:      varName,
		VarPos:   varPos,
	}

	switch c := first.(type) {
	case *Ident:
		s.Cursor = c.Parts[len(c.Parts)-1]
		s.CursorPos = c.Pos
	case *CallExpr:
		s.Cursor = c.FuncName()
		s.CursorPos = c.Pos
		s.Args = c.Args
	default:
		p.errf(first.ExprPos(), "expected cursor name in FOR loop")
	}

	p.expectKw("LOOP")

	s.Body = p.parseStmtList("END")
	p.endLoop()

	return s
}

func (p *parser) parseForeach(label string) *StmtForeach {
	start := p.expectKw("FOREACH").Pos
	s := &StmtForeach{StmtBase: StmtBase{Pos: start}, Label: label}

	s.Var = p.parseTarget()

	if p.acceptKw("SLICE") {
		n := p.expect(TokenNumber, "slice dimension")

		v, err := strconv.Atoi(n.Value)
		if err != nil {
			p.errf(n.Pos, "invalid SLICE dimension %q", n.Value)
		}

		s.Slice = v
	}

	p.expectKw("IN")
	p.expectKw("ARRAY")

	s.Array = p.parseExpr()

	p.expectKw("LOOP")

	s.Body = p.parseStmtList("END")
	p.endLoop()

	return s
}

func (p *parser) parseExit() *StmtExit {
	t := p.shift()
	s := &StmtExit{StmtBase: StmtBase{Pos: t.Pos}, IsExit: t.Value == "EXIT"}

	if p.at(TokenIdent) || p.at(TokenQuotedIdent) {
		s.Label, _ = p.identValue("label")
	}

	if p.acceptKw("WHEN") {
		s.When = p.parseExpr()
	}

	p.expectSemi()

	return s
}

func (p *parser) parseReturn() Stmt {
	start := p.expectKw("RETURN").Pos

	if p.atIdent("next") {
		p.shift()

		s := &StmtReturnNext{StmtBase: StmtBase{Pos: start}, Value: p.parseExpr()}
		p.expectSemi()

		return s
	}

	if p.atIdent("query") {
		p.shift()

		s := &StmtReturnQuery{StmtBase: StmtBase{Pos: start}}

		if p.acceptKw("EXECUTE") {
			s.Dynamic = p.parseExpr()
			if p.acceptKw("USING") {
				s.Using = p.parseExprList()
			}
		} else {
			s.Query, _ = p.captureSQL(false)
		}

		p.expectSemi()

		return s
	}

	s := &StmtReturn{StmtBase: StmtBase{Pos: start}}

	if !p.at(TokenSemi) {
		s.Value = p.parseExpr()
	}

	p.expectSemi()

	return s
}

var raiseLevels = map[string]string{
	"notice": "NOTICE", "warning": "WARNING", "info": "INFO",
	"debug": "DEBUG", "log": "LOG",
}

func (p *parser) parseRaise() *StmtRaise {
	start := p.expectKw("RAISE").Pos
	s := &StmtRaise{StmtBase: StmtBase{Pos: start}, Level: "EXCEPTION"}

	explicitLevel := false

	switch {
	case p.acceptKw("EXCEPTION"):
		explicitLevel = true
	case p.at(TokenIdent) && raiseLevels[p.tok().Value] != "" && p.peekTok(1).Type != TokenSemi:
		s.Level = raiseLevels[p.shift().Value]
		explicitLevel = true
	}

	switch {
	case p.at(TokenString):
		s.HasFormat = true
		s.Format = p.shift().Value

		for p.at(TokenComma) {
			p.shift()
			s.Params = append(s.Params, p.parseExpr())
		}
	case p.acceptKw("SQLSTATE"):
		s.SQLState = p.expect(TokenString, "SQLSTATE string").Value
	case p.at(TokenIdent) && !p.atKw("USING"):
		if !explicitLevel || !p.at(TokenSemi) {
			if p.at(TokenIdent) {
				s.CondName, _ = p.identValue("condition name")
			}
		}
	}

	if p.acceptKw("USING") {
		for {
			name, _ := p.identValue("RAISE option")

			if !p.acceptOp("=") && !p.acceptOp(":=") {
				p.errf(p.tok().Pos, "expected \"=\" in RAISE USING option")
			}

			s.Options = append(s.Options, &RaiseOption{Name: name, Value: p.parseExpr()})

			if !p.at(TokenComma) {
				break
			}

			p.shift()
		}
	}

	p.expectSemi()

	return s
}

func (p *parser) parseAssert() *StmtAssert {
	start := p.expectKw("ASSERT").Pos
	s := &StmtAssert{StmtBase: StmtBase{Pos: start}}

	s.Cond = p.parseExpr()

	if p.at(TokenComma) {
		p.shift()
		s.Message = p.parseExpr()
	}

	p.expectSemi()

	return s
}

func (p *parser) parsePerform() *StmtPerform {
	start := p.expectKw("PERFORM").Pos
	s := &StmtPerform{StmtBase: StmtBase{Pos: start}}

	s.SQL, _ = p.captureSQL(false)
	p.expectSemi()

	// When the tail is a single expression, keep its parsed form: pragma
	// recognition and call checking work on it.
	if e, err := parseStandaloneExpr(p.filename, s.SQL.Text, s.SQL.Pos); err == nil {
		s.Expr = e
	}

	return s
}

// parseStandaloneExpr parses a string that must be exactly one expression.
func parseStandaloneExpr(filename, src string, pos lexer.Position) (Expr, error) {
	toks, err := lexAll(filename, src)
	if err != nil {
		return nil, err
	}

	sub := &parser{filename: filename, src: src, toks: toks}

	var perr error

	e := func() Expr {
		defer sub.recoverTo(&perr)

		expr := sub.parseExpr()
		if !sub.eof() {
			sub.errf(sub.tok().Pos, "unexpected %q after expression", sub.tok().Value)
		}

		return expr
	}()

	if perr != nil {
		return nil, perr
	}

	return e, nil
}

func (p *parser) parseExecute() *StmtExecute {
	start := p.expectKw("EXECUTE").Pos
	s := &StmtExecute{StmtBase: StmtBase{Pos: start}}

	s.Query = p.parseExpr()

	if p.atKw("INTO") {
		s.Into = p.parseInto()
	}

	if p.acceptKw("USING") {
		s.Using = p.parseExprList()
	}

	// INTO may also follow USING.
	if s.Into == nil && p.atKw("INTO") {
		s.Into = p.parseInto()
	}

	p.expectSemi()

	return s
}

func (p *parser) parseInto() *IntoClause {
	p.expectKw("INTO")

	into := &IntoClause{}

	if p.acceptKw("STRICT") {
		into.Strict = true
	}

	into.Targets = append(into.Targets, p.parseTarget())
	for p.at(TokenComma) {
		p.shift()
		into.Targets = append(into.Targets, p.parseTarget())
	}

	return into
}

func (p *parser) parseGetDiag() *StmtGetDiag {
	start := p.expectKw("GET").Pos
	s := &StmtGetDiag{StmtBase: StmtBase{Pos: start}}

	if p.atIdent("stacked") {
		p.shift()

		s.Stacked = true
	} else if p.atIdent("current") {
		p.shift()
	}

	p.expectKw("DIAGNOSTICS")

	for {
		item := &GetDiagItem{Target: p.parseTarget()}

		if !p.acceptOp("=") && !p.acceptOp(":=") {
			p.errf(p.tok().Pos, "expected \"=\" in GET DIAGNOSTICS")
		}

		name, _ := p.identValue("diagnostics item")
		item.Item = name

		s.Items = append(s.Items, item)

		if !p.at(TokenComma) {
			break
		}

		p.shift()
	}

	p.expectSemi()

	return s
}

func (p *parser) parseOpen() *StmtOpen {
	start := p.expectKw("OPEN").Pos
	s := &StmtOpen{StmtBase: StmtBase{Pos: start}}

	s.Cursor, s.CursorPos = p.identValue("cursor name")

	switch {
	case p.acceptKw("FOR"):
		if p.acceptKw("EXECUTE") {
			s.Dynamic = p.parseExpr()
			if p.acceptKw("USING") {
				s.Using = p.parseExprList()
			}
		} else {
			s.Query, _ = p.captureSQL(false)
		}
	case p.at(TokenLParen):
		p.shift()

		for !p.at(TokenRParen) {
			name := ""

			// name := value argument form
			if (p.at(TokenIdent) || p.at(TokenQuotedIdent)) && p.peekTok(1).Type == TokenOp && p.peekTok(1).Value == ":=" {
				name, _ = p.identValue("argument name")
				p.shift() // :=
			}

			s.ArgNames = append(s.ArgNames, name)
			s.Args = append(s.Args, p.parseExpr())

			if !p.at(TokenComma) {
				break
			}

			p.shift()
		}

		p.expect(TokenRParen, `")"`)
	}

	p.expectSemi()

	return s
}

var fetchDirections = map[string]struct{}{
	"next": {}, "prior": {}, "first": {}, "last": {},
	"absolute": {}, "relative": {}, "forward": {}, "backward": {}, "all": {},
}

func (p *parser) parseFetch() *StmtFetch {
	t := p.shift()
	s := &StmtFetch{StmtBase: StmtBase{Pos: t.Pos}, IsMove: t.Value == "MOVE", Direction: "NEXT"}

	if p.at(TokenIdent) {
		if _, ok := fetchDirections[p.tok().Value]; ok {
			// Only take it as a direction when a cursor name still follows.
			next := p.peekTok(1)
			if next.Type == TokenIdent || next.Type == TokenQuotedIdent ||
				next.Type == TokenNumber || next.Type == TokenKeyword {
				s.Direction = strings.ToUpper(p.shift().Value)
			}
		}
	}

	if p.at(TokenNumber) {
		s.Count = &NumberLit{Pos: p.tok().Pos, Value: p.shift().Value}
	}

	if p.atKw("FROM") || p.atKw("IN") {
		p.shift()
	}

	s.Cursor, s.CursorPos = p.identValue("cursor name")

	if !s.IsMove {
		into := p.parseInto()
		s.Into = into.Targets
	}

	p.expectSemi()

	return s
}

func (p *parser) parseClose() *StmtClose {
	start := p.expectKw("CLOSE").Pos
	s := &StmtClose{StmtBase: StmtBase{Pos: start}}

	s.Cursor, s.CursorPos = p.identValue("cursor name")

	p.expectSemi()

	return s
}

func (p *parser) parseCall() *StmtCall {
	start := p.expectKw("CALL").Pos

	e := p.parseExpr()

	call, ok := e.(*CallExpr)
	if !ok {
		p.errf(e.ExprPos(), "expected procedure call after CALL")
	}

	p.expectSemi()

	return &StmtCall{StmtBase: StmtBase{Pos: start}, Call: call}
}

func (p *parser) parseSQLStmt() *StmtSQL {
	start := p.tok().Pos

	sql, into := p.captureSQL(false)
	p.expectSemi()

	return &StmtSQL{StmtBase: StmtBase{Pos: start}, SQL: sql, Into: into}
}

func (p *parser) parseAssign() *StmtAssign {
	start := p.tok().Pos
	s := &StmtAssign{StmtBase: StmtBase{Pos: start}}

	s.Target = p.parseTarget()

	if !p.acceptOp(":=") && !p.acceptOp("=") {
		p.errf(p.tok().Pos, "expected \":=\", got %q", p.tok().Value)
	}

	s.Value = p.parseExpr()
	p.expectSemi()

	return s
}

func (p *parser) parseTarget() *Target {
	name, pos := p.identValue("target name")
	t := &Target{Pos: pos, Parts: []string{name}}

	for p.at(TokenDot) {
		p.shift()

		part, _ := p.identValue("field name")
		t.Parts = append(t.Parts, part)
	}

	for p.at(TokenLBracket) {
		p.shift()

		t.Subscripts = append(t.Subscripts, p.parseExpr())

		p.expect(TokenRBracket, `"]"`)
	}

	return t
}

func (p *parser) parseExprList() []Expr {
	list := []Expr{p.parseExpr()}

	for p.at(TokenComma) {
		p.shift()
		list = append(list, p.parseExpr())
	}

	return list
}

// --- raw SQL capture --------------------------------------------------------

// captureSQL slurps raw source text up to (not including) the next
// top-level ";". An INTO clause at paren depth zero is split off, unless it
// directly follows INSERT; that mirrors the host scanner. The terminator
// token is left current.
func (p *parser) captureSQL(stopAtLoop bool) (*SQLText, *IntoClause) {
	return p.captureSQLStop(stopAtLoop)
}

// captureSQLUntilLoop slurps until a top-level LOOP keyword.
func (p *parser) captureSQLUntilLoop() (*SQLText, *IntoClause) {
	return p.captureSQLStop(true)
}

//nolint:cyclop // token scan with depth and INTO handling
func (p *parser) captureSQLStop(stopAtLoop bool) (*SQLText, *IntoClause) {
	start := p.tok()
	startOff := start.Pos.Offset

	var (
		into              *IntoClause
		intoStart, intoEnd int
		depth             int
		prevInsert        bool
	)

	for {
		t := p.tok()

		if t.EOF() {
			p.errf(start.Pos, "unterminated SQL statement")
		}

		if depth == 0 {
			if !stopAtLoop && t.Type == TokenSemi {
				break
			}

			if stopAtLoop && t.Type == TokenKeyword && t.Value == "LOOP" {
				break
			}

			if t.Type == TokenKeyword && t.Value == "INTO" && !prevInsert && into == nil {
				intoStart = t.Pos.Offset
				into = p.parseInto()
				intoEnd = p.tok().Pos.Offset

				continue
			}
		}

		switch t.Type {
		case TokenLParen, TokenLBracket:
			depth++
		case TokenRParen, TokenRBracket:
			depth--
		}

		prevInsert = t.Type == TokenKeyword && t.Value == "INSERT"

		p.shift()
	}

	endOff := p.tok().Pos.Offset

	var text string
	if into != nil {
		text = p.src[startOff:intoStart] + p.src[intoEnd:endOff]
	} else {
		text = p.src[startOff:endOff]
	}

	return &SQLText{Pos: start.Pos, Text: strings.TrimSpace(text)}, into
}

// --- expressions ------------------------------------------------------------

// Binary operator precedence, loosely following the host grammar. Higher
// binds tighter.
var binaryPrec = map[string]int{
	"OR":  1,
	"AND": 2,
	// comparison
	"=": 4, "<>": 4, "!=": 4, "<": 4, "<=": 4, ">": 4, ">=": 4,
	"LIKE": 4, "ILIKE": 4,
	// concatenation and additive
	"||": 5, "+": 5, "-": 5,
	// multiplicative
	"*": 6, "/": 6, "%": 6,
	// exponentiation
	"^": 7,
}

func (p *parser) parseExpr() Expr {
	return p.parseBinary(1)
}

//nolint:cyclop // precedence climbing with SQL-flavored postfix tests
func (p *parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()

	for {
		t := p.tok()

		// IS [NOT] NULL / TRUE / FALSE
		if t.Type == TokenKeyword && t.Value == "IS" && minPrec <= 3 {
			p.shift()

			not := p.acceptKw("NOT")

			var what string

			switch {
			case p.acceptKw("NULL"):
				what = "NULL"
			case p.acceptKw("TRUE"):
				what = "TRUE"
			case p.acceptKw("FALSE"):
				what = "FALSE"
			default:
				p.errf(p.tok().Pos, "expected NULL, TRUE or FALSE after IS")
			}

			left = &IsTest{Pos: t.Pos, Operand: left, Not: not, What: what}

			continue
		}

		// [NOT] BETWEEN / IN / LIKE
		if t.Type == TokenKeyword && t.Value == "NOT" && minPrec <= 3 {
			next := p.peekTok(1)
			if next.Type == TokenKeyword && (next.Value == "BETWEEN" || next.Value == "IN" || next.Value == "LIKE") {
				p.shift()

				left = p.parseNegatablePostfix(left, true)

				continue
			}
		}

		if t.Type == TokenKeyword && (t.Value == "BETWEEN" || t.Value == "IN" || t.Value == "LIKE") && minPrec <= 3 {
			left = p.parseNegatablePostfix(left, false)

			continue
		}

		op, prec, ok := p.binaryOpAt()
		if !ok || prec < minPrec {
			return left
		}

		p.shift()

		right := p.parseBinary(prec + 1)

		left = &BinaryExpr{Pos: t.Pos, Op: op, L: left, R: right}
	}
}

func (p *parser) binaryOpAt() (string, int, bool) {
	t := p.tok()

	var op string

	switch t.Type {
	case TokenOp:
		op = t.Value
	case TokenKeyword:
		if t.Value != "AND" && t.Value != "OR" && t.Value != "LIKE" {
			return "", 0, false
		}

		op = t.Value
	default:
		return "", 0, false
	}

	prec, ok := binaryPrec[op]

	return op, prec, ok
}

func (p *parser) parseNegatablePostfix(operand Expr, not bool) Expr {
	t := p.shift()

	switch t.Value {
	case "BETWEEN":
		lo := p.parseBinary(4)
		p.expectKw("AND")
		hi := p.parseBinary(4)

		return &BetweenExpr{Pos: t.Pos, Operand: operand, Not: not, Lo: lo, Hi: hi}
	case "IN":
		p.expect(TokenLParen, `"("`)

		if p.atKw("SELECT", "WITH", "VALUES") {
			sub := p.captureSQLToParen()
			in := &InExpr{Pos: t.Pos, Operand: operand, Not: not, List: []Expr{sub}}

			return in
		}

		list := p.parseExprList()
		p.expect(TokenRParen, `")"`)

		return &InExpr{Pos: t.Pos, Operand: operand, Not: not, List: list}
	default: // LIKE
		pattern := p.parseBinary(5)

		e := &BinaryExpr{Pos: t.Pos, Op: "LIKE", L: operand, R: pattern}
		if not {
			return &UnaryExpr{Pos: t.Pos, Op: "NOT", Operand: e}
		}

		return e
	}
}

func (p *parser) parseUnary() Expr {
	t := p.tok()

	switch {
	case p.atKw("NOT"):
		p.shift()

		return &UnaryExpr{Pos: t.Pos, Op: "NOT", Operand: p.parseBinary(3)}
	case p.atOp("-"), p.atOp("+"):
		p.shift()

		return &UnaryExpr{Pos: t.Pos, Op: t.Value, Operand: p.parseUnary()}
	default:
		return p.parsePostfix()
	}
}

func (p *parser) parsePostfix() Expr {
	e := p.parsePrimary()

	for {
		switch {
		case p.atOp("::"):
			pos := p.shift().Pos
			e = &CastExpr{Pos: pos, Operand: e, Type: p.parseTypeRef()}
		case p.at(TokenLBracket):
			pos := p.shift().Pos
			idx := p.parseExpr()
			p.expect(TokenRBracket, `"]"`)

			e = &IndexExpr{Pos: pos, Base: e, Index: idx}
		default:
			return e
		}
	}
}

//nolint:cyclop // primary expression dispatch
func (p *parser) parsePrimary() Expr {
	t := p.tok()

	switch {
	case t.Type == TokenNumber:
		p.shift()

		return &NumberLit{Pos: t.Pos, Value: t.Value}
	case t.Type == TokenString || t.Type == TokenDollarString:
		p.shift()

		return &StringLit{Pos: t.Pos, Value: t.Value}
	case t.Type == TokenParam:
		p.shift()

		n, err := strconv.Atoi(t.Value)
		if err != nil || n < 1 {
			p.errf(t.Pos, "invalid parameter reference $%s", t.Value)
		}

		return &ParamRef{Pos: t.Pos, N: n}
	case p.atKw("TRUE"):
		p.shift()

		return &BoolLit{Pos: t.Pos, Value: true}
	case p.atKw("FALSE"):
		p.shift()

		return &BoolLit{Pos: t.Pos, Value: false}
	case p.atKw("NULL"):
		p.shift()

		return &NullLit{Pos: t.Pos}
	case p.atKw("ARRAY"):
		p.shift()
		p.expect(TokenLBracket, `"["`)

		a := &ArrayExpr{Pos: t.Pos}
		if !p.at(TokenRBracket) {
			a.Elems = p.parseExprList()
		}

		p.expect(TokenRBracket, `"]"`)

		return a
	case p.atKw("CASE"):
		return p.parseCaseExpr()
	case t.Type == TokenLParen:
		p.shift()

		if p.atKw("SELECT", "WITH", "VALUES") {
			return p.captureSQLToParen()
		}

		e := p.parseExpr()
		p.expect(TokenRParen, `")"`)

		return e
	case t.Type == TokenIdent || t.Type == TokenQuotedIdent:
		return p.parseIdentExpr()
	default:
		p.errf(t.Pos, "unexpected %q in expression", t.Value)

		return nil
	}
}

// captureSQLToParen captures a subquery; the opening paren has already been
// consumed. Consumes through the matching ")".
func (p *parser) captureSQLToParen() Expr {
	start := p.tok()
	startOff := start.Pos.Offset
	depth := 0

	for {
		t := p.tok()
		if t.EOF() {
			p.errf(start.Pos, "unterminated subquery")
		}

		switch t.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			if depth == 0 {
				endOff := t.Pos.Offset
				p.shift()

				return &SubqueryExpr{
					Pos: start.Pos,
					SQL: &SQLText{Pos: start.Pos, Text: strings.TrimSpace(p.src[startOff:endOff])},
				}
			}

			depth--
		}

		p.shift()
	}
}

func (p *parser) parseIdentExpr() Expr {
	name, pos := p.identValue("identifier")

	// cast(expr AS type) and exists(...) are not reserved words; special
	// handling keeps them out of the generic call path where needed.
	if name == "cast" && p.at(TokenLParen) {
		p.shift()

		operand := p.parseExpr()
		p.expectKw("AS")
		ref := p.parseTypeRef()
		p.expect(TokenRParen, `")"`)

		return &CastExpr{Pos: pos, Operand: operand, Type: ref}
	}

	parts := []string{name}
	for p.at(TokenDot) {
		p.shift()

		part, _ := p.identValue("field name")
		parts = append(parts, part)
	}

	if p.at(TokenLParen) {
		p.shift()

		call := &CallExpr{Pos: pos, Name: parts}

		if p.atOp("*") {
			p.shift()

			call.Star = true
		} else if !p.at(TokenRParen) {
			if p.atKw("SELECT", "WITH", "VALUES") {
				call.Args = append(call.Args, p.captureSQLToParen())

				return call
			}

			call.Args = p.parseExprList()
		}

		p.expect(TokenRParen, `")"`)

		return call
	}

	return &Ident{Pos: pos, Parts: parts}
}

func (p *parser) parseCaseExpr() Expr {
	start := p.expectKw("CASE").Pos
	e := &CaseExpr{Pos: start}

	if !p.atKw("WHEN") {
		e.Operand = p.parseExpr()
	}

	for p.atKw("WHEN") {
		p.shift()

		w := &CaseExprWhen{Cond: p.parseExpr()}
		p.expectKw("THEN")
		w.Result = p.parseExpr()

		e.Whens = append(e.Whens, w)
	}

	if p.acceptKw("ELSE") {
		e.Else = p.parseExpr()
	}

	p.expectKw("END")

	return e
}
