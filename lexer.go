package plcheck

import (
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2/lexer"
)

// Token type constants - negative values as per participle convention.
const (
	TokenEOF          lexer.TokenType = lexer.EOF
	TokenComment      lexer.TokenType = -(iota + 2) //nolint:mnd // participle convention
	TokenWhitespace                                 // spaces, tabs, newlines
	TokenIdent                                      // identifiers, folded to lower case
	TokenQuotedIdent                                // "quoted" identifiers, case preserved
	TokenKeyword                                    // reserved words, value normalized to upper case
	TokenNumber                                     // integer and decimal literals
	TokenString                                     // '...' literals with '' escapes
	TokenDollarString                               // $$...$$ and $tag$...$tag$ literals
	TokenParam                                      // $n parameter references
	TokenOp                                         // operators including multi-char forms
	TokenDot                                        // .
	TokenComma                                      // ,
	TokenSemi                                       // ;
	TokenLParen                                     // (
	TokenRParen                                     // )
	TokenLBracket                                   // [
	TokenRBracket                                   // ]
)

// keywords are the words the statement parser reserves. Everything else -
// FETCH directions, RAISE option names, GET DIAGNOSTICS items - stays an
// identifier and is matched by value where the grammar needs it.
var keywords = map[string]struct{}{
	"AND": {}, "ARRAY": {}, "AS": {}, "ASSERT": {}, "BEGIN": {}, "BETWEEN": {},
	"BY": {}, "CALL": {}, "CASE": {}, "CLOSE": {}, "COMMIT": {}, "CONSTANT": {},
	"CONTINUE": {}, "CREATE": {}, "CURSOR": {}, "DECLARE": {}, "DEFAULT": {},
	"DELETE": {}, "DIAGNOSTICS": {}, "ELSE": {}, "ELSIF": {}, "END": {},
	"EXCEPTION": {}, "EXECUTE": {}, "EXIT": {}, "FALSE": {}, "FETCH": {},
	"FOR": {}, "FOREACH": {}, "FROM": {}, "FUNCTION": {}, "GET": {}, "IF": {},
	"IN": {}, "INOUT": {}, "INSERT": {}, "INTO": {}, "IS": {}, "LANGUAGE": {},
	"LIKE": {}, "LOOP": {}, "MOVE": {}, "NOT": {}, "NULL": {}, "OPEN": {},
	"OR": {}, "OTHERS": {}, "OUT": {}, "PERFORM": {}, "PROCEDURE": {},
	"RAISE": {}, "REPLACE": {}, "RETURN": {}, "RETURNS": {}, "REVERSE": {},
	"ROLLBACK": {}, "SCROLL": {}, "SELECT": {}, "SETOF": {}, "SLICE": {},
	"SQLSTATE": {}, "STRICT": {}, "TABLE": {}, "THEN": {}, "TRIGGER": {},
	"TRUE": {}, "UPDATE": {}, "USING": {}, "VALUES": {}, "VARIADIC": {},
	"WHEN": {}, "WHILE": {}, "WITH": {},
}

// Lexer errors.
var (
	ErrUnterminatedString       = &LexError{msg: "unterminated string literal"}
	ErrUnterminatedQuotedIdent  = &LexError{msg: "unterminated quoted identifier"}
	ErrUnterminatedDollarString = &LexError{msg: "unterminated dollar-quoted string"}
	ErrUnterminatedComment      = &LexError{msg: "unterminated block comment"}
	ErrUnexpectedCharacter      = &LexError{msg: "unexpected character"}
)

// LexError represents a lexer error with position.
type LexError struct {
	msg string
	pos lexer.Position
	ch  rune
}

func (e *LexError) Error() string {
	if e.ch != 0 {
		return e.pos.String() + ": " + e.msg + ": " + string(e.ch)
	}

	return e.pos.String() + ": " + e.msg
}

func (e *LexError) withPos(pos lexer.Position) *LexError {
	return &LexError{msg: e.msg, pos: pos, ch: e.ch}
}

func (e *LexError) withChar(ch rune) *LexError {
	return &LexError{msg: e.msg, pos: e.pos, ch: ch}
}

// sqlDefinition implements lexer.Definition for the procedural SQL dialect.
type sqlDefinition struct {
	symbols map[string]lexer.TokenType
}

// newSQLLexer creates a new lexer Definition.
func newSQLLexer() *sqlDefinition {
	symbols := map[string]lexer.TokenType{
		"EOF":          TokenEOF,
		"Comment":      TokenComment,
		"Whitespace":   TokenWhitespace,
		"Ident":        TokenIdent,
		"QuotedIdent":  TokenQuotedIdent,
		"Keyword":      TokenKeyword,
		"Number":       TokenNumber,
		"String":       TokenString,
		"DollarString": TokenDollarString,
		"Param":        TokenParam,
		"Op":           TokenOp,
		"Dot":          TokenDot,
		"Comma":        TokenComma,
		"Semi":         TokenSemi,
		"LParen":       TokenLParen,
		"RParen":       TokenRParen,
		"LBracket":     TokenLBracket,
		"RBracket":     TokenRBracket,
	}

	return &sqlDefinition{symbols: symbols}
}

// sqlLexer is the shared lexer definition. The definition itself is
// stateless; every Lex call returns an independent lexer state.
var sqlLexer = newSQLLexer()

// Lexer exposes the shared lexer definition.
//
//nolint:ireturn // callers use the definition through participle's interface
func Lexer() lexer.Definition {
	return sqlLexer
}

// Symbols returns the mapping of symbol names to token types.
func (d *sqlDefinition) Symbols() map[string]lexer.TokenType {
	return d.symbols
}

// Lex creates a new Lexer for the given reader.
//
//nolint:ireturn // Required by participle's lexer.Definition interface.
func (d *sqlDefinition) Lex(filename string, r io.Reader) (lexer.Lexer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	return newLexerState(filename, string(data)), nil
}

// LexString implements lexer.StringDefinition for efficiency.
//
//nolint:ireturn // Required by participle's lexer.StringDefinition interface.
func (d *sqlDefinition) LexString(filename, input string) (lexer.Lexer, error) {
	return newLexerState(filename, input), nil
}

// lexerState holds the state for lexing one input.
type lexerState struct {
	filename string
	input    string
	offset   int
	line     int
	col      int
}

func newLexerState(filename, input string) *lexerState {
	return &lexerState{
		filename: filename,
		input:    input,
		line:     1,
		col:      1,
	}
}

// Next returns the next token.
func (l *lexerState) Next() (lexer.Token, error) {
	if l.eof() {
		return lexer.EOFToken(l.pos()), nil
	}

	start := l.pos()
	r := l.peek()

	// Whitespace
	if isSpace(r) {
		for !l.eof() && isSpace(l.peek()) {
			l.advance()
		}

		return l.token(TokenWhitespace, start), nil
	}

	// Line comment
	if r == '-' && l.peekAt(1) == '-' {
		for !l.eof() && l.peek() != '\n' {
			l.advance()
		}

		return l.token(TokenComment, start), nil
	}

	// Block comment, nesting per SQL rules
	if r == '/' && l.peekAt(1) == '*' {
		return l.scanBlockComment(start)
	}

	// String literal
	if r == '\'' {
		return l.scanString(start)
	}

	// Quoted identifier
	if r == '"' {
		return l.scanQuotedIdent(start)
	}

	// Dollar-quoted string or $n parameter
	if r == '$' {
		return l.scanDollar(start)
	}

	// Number
	if isDigit(r) || (r == '.' && isDigit(l.peekAt(1))) {
		return l.scanNumber(start), nil
	}

	// Identifier or keyword
	if isIdentStart(r) {
		for !l.eof() && isIdentContinue(l.peek()) {
			l.advance()
		}

		tok := l.token(TokenIdent, start)

		upper := strings.ToUpper(tok.Value)
		if _, ok := keywords[upper]; ok {
			tok.Type = TokenKeyword
			tok.Value = upper
		} else {
			tok.Value = strings.ToLower(tok.Value)
		}

		return tok, nil
	}

	// Multi-character operators (check before single-char)
	if tok, ok := l.scanMultiCharOp(start); ok {
		return tok, nil
	}

	// Single character tokens
	l.advance()

	switch r {
	case '.':
		return l.token(TokenDot, start), nil
	case ',':
		return l.token(TokenComma, start), nil
	case ';':
		return l.token(TokenSemi, start), nil
	case '(':
		return l.token(TokenLParen, start), nil
	case ')':
		return l.token(TokenRParen, start), nil
	case '[':
		return l.token(TokenLBracket, start), nil
	case ']':
		return l.token(TokenRBracket, start), nil
	}

	if strings.ContainsRune("+-*/%^<>=|!&#~@?", r) {
		return l.token(TokenOp, start), nil
	}

	return lexer.Token{}, ErrUnexpectedCharacter.withPos(start).withChar(r)
}

// multiCharOps are tried in order, longest first.
var multiCharOps = []string{":=", "::", "..", "||", "<<", ">>", "<=", ">=", "<>", "!=", "=>"}

func (l *lexerState) scanMultiCharOp(start lexer.Position) (lexer.Token, bool) {
	rest := l.input[l.offset:]
	for _, op := range multiCharOps {
		if strings.HasPrefix(rest, op) {
			for range len(op) {
				l.advance()
			}

			return l.token(TokenOp, start), true
		}
	}

	// ':' appears only inside ':=' and '::'; letting a stray one through as
	// an operator gives the parser a better error position than failing here.
	if strings.HasPrefix(rest, ":") {
		l.advance()

		return l.token(TokenOp, start), true
	}

	return lexer.Token{}, false
}

func (l *lexerState) scanString(start lexer.Position) (lexer.Token, error) {
	l.advance() // opening quote

	var sb strings.Builder

	for {
		if l.eof() {
			return lexer.Token{}, ErrUnterminatedString.withPos(start)
		}

		r := l.peek()
		l.advance()

		if r == '\'' {
			// '' is an escaped quote
			if l.peek() == '\'' {
				sb.WriteRune('\'')
				l.advance()

				continue
			}

			break
		}

		sb.WriteRune(r)
	}

	tok := l.token(TokenString, start)
	tok.Value = sb.String()

	return tok, nil
}

func (l *lexerState) scanQuotedIdent(start lexer.Position) (lexer.Token, error) {
	l.advance() // opening quote

	var sb strings.Builder

	for {
		if l.eof() {
			return lexer.Token{}, ErrUnterminatedQuotedIdent.withPos(start)
		}

		r := l.peek()
		l.advance()

		if r == '"' {
			if l.peek() == '"' {
				sb.WriteRune('"')
				l.advance()

				continue
			}

			break
		}

		sb.WriteRune(r)
	}

	tok := l.token(TokenQuotedIdent, start)
	tok.Value = sb.String()

	return tok, nil
}

// scanDollar handles $n parameters and $tag$...$tag$ quoting.
func (l *lexerState) scanDollar(start lexer.Position) (lexer.Token, error) {
	if isDigit(l.peekAt(1)) {
		l.advance() // $

		numStart := l.offset
		for !l.eof() && isDigit(l.peek()) {
			l.advance()
		}

		tok := l.token(TokenParam, start)
		tok.Value = l.input[numStart:l.offset]

		return tok, nil
	}

	// Scan the opening $tag$
	l.advance() // $

	tagStart := l.offset
	for !l.eof() && isTagChar(l.peek()) {
		l.advance()
	}

	if l.eof() || l.peek() != '$' {
		return lexer.Token{}, ErrUnexpectedCharacter.withPos(start).withChar('$')
	}

	l.advance() // closing $ of the opening tag

	tag := "$" + l.input[tagStart:l.offset-1] + "$"

	bodyStart := l.offset

	end := strings.Index(l.input[l.offset:], tag)
	if end < 0 {
		return lexer.Token{}, ErrUnterminatedDollarString.withPos(start)
	}

	for l.offset < bodyStart+end+len(tag) {
		l.advance()
	}

	tok := l.token(TokenDollarString, start)
	tok.Value = l.input[bodyStart : bodyStart+end]

	return tok, nil
}

func (l *lexerState) scanBlockComment(start lexer.Position) (lexer.Token, error) {
	l.advance() // /
	l.advance() // *

	depth := 1
	for depth > 0 {
		if l.eof() {
			return lexer.Token{}, ErrUnterminatedComment.withPos(start)
		}

		switch {
		case l.peek() == '/' && l.peekAt(1) == '*':
			depth++

			l.advance()
			l.advance()
		case l.peek() == '*' && l.peekAt(1) == '/':
			depth--

			l.advance()
			l.advance()
		default:
			l.advance()
		}
	}

	return l.token(TokenComment, start), nil
}

func (l *lexerState) scanNumber(start lexer.Position) lexer.Token {
	for !l.eof() && isDigit(l.peek()) {
		l.advance()
	}

	// Decimal part, but not the '..' range operator
	if !l.eof() && l.peek() == '.' && l.peekAt(1) != '.' {
		l.advance()

		for !l.eof() && isDigit(l.peek()) {
			l.advance()
		}
	}

	// Exponent
	if !l.eof() && (l.peek() == 'e' || l.peek() == 'E') {
		next := l.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekAt(2))) {
			l.advance() // e
			l.advance() // sign or first digit

			for !l.eof() && isDigit(l.peek()) {
				l.advance()
			}
		}
	}

	return l.token(TokenNumber, start)
}

func (l *lexerState) pos() lexer.Position {
	return lexer.Position{
		Filename: l.filename,
		Offset:   l.offset,
		Line:     l.line,
		Column:   l.col,
	}
}

func (l *lexerState) token(t lexer.TokenType, start lexer.Position) lexer.Token {
	return lexer.Token{
		Type:  t,
		Value: l.input[start.Offset:l.offset],
		Pos:   start,
	}
}

func (l *lexerState) eof() bool {
	return l.offset >= len(l.input)
}

func (l *lexerState) peek() rune {
	if l.eof() {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.offset:])

	return r
}

func (l *lexerState) peekAt(n int) rune {
	off := l.offset + n
	if off >= len(l.input) {
		return 0
	}

	r, _ := utf8.DecodeRuneInString(l.input[off:])

	return r
}

func (l *lexerState) advance() {
	if l.eof() {
		return
	}

	r, size := utf8.DecodeRuneInString(l.input[l.offset:])
	l.offset += size

	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isTagChar matches the characters allowed in a dollar-quote tag. A tag never
// contains '$', unlike identifier tails.
func isTagChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
