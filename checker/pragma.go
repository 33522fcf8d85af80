package checker

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
)

// PragmaMarker is the function name recognized as an in-body checker
// directive. The call is a harmless no-op at execution time; the walker
// interprets its literal string argument.
const PragmaMarker = "plcheck_pragma"

// pragmaState is the pair of toggles a pragma can flip. One state is saved
// per lexical block so every exit path restores the enclosing block's state.
type pragmaState struct {
	check  bool
	tracer bool
}

type pragmas struct {
	stack []pragmaState
}

func newPragmas() *pragmas {
	return &pragmas{stack: []pragmaState{{check: true, tracer: true}}}
}

func (p *pragmas) push() {
	p.stack = append(p.stack, p.stack[len(p.stack)-1])
}

func (p *pragmas) pop() {
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *pragmas) top() *pragmaState { return &p.stack[len(p.stack)-1] }

func (p *pragmas) checkEnabled() bool  { return p.top().check }
func (p *pragmas) tracerEnabled() bool { return p.top().tracer }

// pragmaDirective extracts the directive string when the call is a pragma
// marker with a single string-literal argument.
func pragmaDirective(call *plcheck.CallExpr) (string, bool) {
	if call == nil || call.FuncName() != PragmaMarker {
		return "", false
	}

	if len(call.Args) != 1 {
		return "", false
	}

	lit, ok := call.Args[0].(*plcheck.StringLit)
	if !ok {
		return "", false
	}

	return lit.Value, true
}

// applyPragma interprets one directive. Malformed directives degrade to a
// warning; they never stop the scan.
func (c *checkContext) applyPragma(raw string) {
	head, arg, found := strings.Cut(raw, ":")
	if !found {
		c.badPragma(raw)

		return
	}

	head = strings.ToLower(strings.TrimSpace(head))
	arg = strings.TrimSpace(arg)

	switch head {
	case "echo":
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityNotice,
			Code:     plcheck.CodeSuccess,
			Message:  arg,
		})
	case "enable", "disable":
		on := head == "enable"

		switch strings.ToLower(arg) {
		case "check":
			c.pragmas.top().check = on
		case "tracer":
			c.pragmas.top().tracer = on
		default:
			c.badPragma(raw)
		}
	case "type":
		c.applyTypePragma(arg, raw)
	case "table":
		c.applyTablePragma(arg, raw)
	default:
		c.badPragma(raw)
	}
}

// TracerMask reports, per statement id, whether the runtime tracer is active
// at that statement, honoring the block-scoped enable/disable:tracer pragmas.
// Runtime hooks consult it before emitting trace lines.
func TracerMask(r *plcheck.Routine) map[int]bool {
	m := make(map[int]bool, r.NumStmts)
	maskStmts([]plcheck.Stmt{r.Body}, newPragmas(), m)

	return m
}

func maskStmts(stmts []plcheck.Stmt, p *pragmas, m map[int]bool) {
	for _, s := range stmts {
		m[s.StmtID()] = p.tracerEnabled()

		switch st := s.(type) {
		case *plcheck.Block:
			p.push()
			maskStmts(st.Body, p, m)

			for _, h := range st.Handlers {
				maskStmts(h.Body, p, m)
			}

			p.pop()
		case *plcheck.StmtPerform:
			if call, ok := st.Expr.(*plcheck.CallExpr); ok {
				if d, ok := pragmaDirective(call); ok {
					applyTracerToggle(p, d)
				}
			}
		case *plcheck.StmtCall:
			if d, ok := pragmaDirective(st.Call); ok {
				applyTracerToggle(p, d)
			}
		case *plcheck.StmtIf:
			maskStmts(st.Then, p, m)

			for _, e := range st.Elsifs {
				maskStmts(e.Then, p, m)
			}

			maskStmts(st.Else, p, m)
		case *plcheck.StmtCase:
			for _, w := range st.Whens {
				maskStmts(w.Body, p, m)
			}

			maskStmts(st.Else, p, m)
		case *plcheck.StmtLoop:
			maskStmts(st.Body, p, m)
		case *plcheck.StmtWhile:
			maskStmts(st.Body, p, m)
		case *plcheck.StmtForI:
			maskStmts(st.Body, p, m)
		case *plcheck.StmtForQuery:
			maskStmts(st.Body, p, m)
		case *plcheck.StmtForCursor:
			maskStmts(st.Body, p, m)
		case *plcheck.StmtForeach:
			maskStmts(st.Body, p, m)
		}
	}
}

// applyTracerToggle applies only the tracer toggles; the mask walk ignores
// every other directive.
func applyTracerToggle(p *pragmas, raw string) {
	head, arg, found := strings.Cut(raw, ":")
	if !found || strings.ToLower(strings.TrimSpace(arg)) != "tracer" {
		return
	}

	switch strings.ToLower(strings.TrimSpace(head)) {
	case "enable":
		p.top().tracer = true
	case "disable":
		p.top().tracer = false
	}
}

func (c *checkContext) badPragma(raw string) {
	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityWarning,
		Category: plcheck.CategoryOthers,
		Code:     plcheck.CodeSuccess,
		Message:  `unsupported pragma "` + raw + `"`,
	})
}

// applyTypePragma handles "type: <var> <typespec>": injects a declared type
// for a variable the checker could not otherwise resolve.
func (c *checkContext) applyTypePragma(arg, raw string) {
	toks, err := lexFragment(arg)
	if err != nil || len(toks) < 2 || !isIdentTok(toks[0]) {
		c.badPragma(raw)

		return
	}

	v, ok := c.scope.resolve(toks[0].Value)
	if !ok {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryOthers,
			Code:     plcheck.CodeSuccess,
			Message:  `variable "` + toks[0].Value + `" used in pragma does not exist`,
		})

		return
	}

	t, ok := c.parsePragmaTypeSpec(toks[1:])
	if !ok {
		c.badPragma(raw)

		return
	}

	v.Type = t
}

// applyTablePragma handles "table: <name>(<column list>)": registers a
// relation that exists only while the routine runs, so statements against it
// can still be checked.
func (c *checkContext) applyTablePragma(arg, raw string) {
	toks, err := lexFragment(arg)
	if err != nil || len(toks) < 3 || !isIdentTok(toks[0]) || toks[1].Type != plcheck.TokenLParen {
		c.badPragma(raw)

		return
	}

	cols, ok := c.parsePragmaColumns(toks[2:])
	if !ok || len(cols) == 0 {
		c.badPragma(raw)

		return
	}

	c.cat.addTable(&catalog.Table{Name: toks[0].Value, Columns: cols})
}

// parsePragmaTypeSpec accepts either a known type or composite name (possibly
// multi-word) or an inline "(field type, ...)" list.
func (c *checkContext) parsePragmaTypeSpec(toks []lexer.Token) (*plcheck.Type, bool) {
	if toks[0].Type == plcheck.TokenLParen {
		cols, ok := c.parsePragmaColumns(toks[1:])
		if !ok || len(cols) == 0 {
			return nil, false
		}

		fields := make([]plcheck.RowField, len(cols))
		for i, col := range cols {
			fields[i] = plcheck.RowField{Name: col.Name, Type: col.Type}
		}

		return plcheck.Row("", fields), true
	}

	name, next := typeWords(toks, 0)
	if name == "" || next != len(toks) {
		return nil, false
	}

	if t, ok := c.cat.LookupType(name); ok {
		return t, true
	}

	if t, ok := c.cat.ExpandRowType(name); ok {
		return t, true
	}

	return nil, false
}

// parsePragmaColumns reads "name type, name type, ... )".
func (c *checkContext) parsePragmaColumns(toks []lexer.Token) ([]*catalog.Column, bool) {
	var cols []*catalog.Column

	i := 0

	for {
		if i >= len(toks) || !isIdentTok(toks[i]) {
			return nil, false
		}

		col := &catalog.Column{Name: toks[i].Value}
		i++

		name, next := typeWords(toks, i)
		if name == "" {
			return nil, false
		}

		i = next

		t, ok := c.cat.LookupType(name)
		if !ok {
			t = plcheck.Unknown
		}

		col.Type = t
		cols = append(cols, col)

		if i < len(toks) && toks[i].Type == plcheck.TokenComma {
			i++

			continue
		}

		if i < len(toks) && toks[i].Type == plcheck.TokenRParen {
			return cols, true
		}

		return nil, false
	}
}

// typeWords joins consecutive identifier and keyword tokens into one
// lower-cased type name ("double precision", "timestamp with time zone"),
// skipping a parenthesized precision.
func typeWords(toks []lexer.Token, i int) (string, int) {
	var words []string

	for i < len(toks) && (isIdentTok(toks[i]) || toks[i].Type == plcheck.TokenKeyword) {
		words = append(words, strings.ToLower(toks[i].Value))
		i++
	}

	if i < len(toks) && toks[i].Type == plcheck.TokenLParen {
		for i < len(toks) && toks[i].Type != plcheck.TokenRParen {
			i++
		}

		if i < len(toks) {
			i++
		}
	}

	return strings.Join(words, " "), i
}

func isIdentTok(t lexer.Token) bool {
	return t.Type == plcheck.TokenIdent || t.Type == plcheck.TokenQuotedIdent
}

// lexFragment tokenizes a pragma argument, dropping whitespace, comments and
// the trailing EOF token.
func lexFragment(src string) ([]lexer.Token, error) {
	lx, err := plcheck.Lexer().(lexer.StringDefinition).LexString("", src)
	if err != nil {
		return nil, err
	}

	var toks []lexer.Token

	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}

		if tok.EOF() {
			return toks, nil
		}

		if tok.Type == plcheck.TokenWhitespace || tok.Type == plcheck.TokenComment {
			continue
		}

		toks = append(toks, tok)
	}
}

// overlayCatalog layers pragma-declared tables over the session catalog.
// Lookups try the overlay first; everything else delegates.
type overlayCatalog struct {
	catalog.Catalog

	tables map[string]*catalog.Table
}

func newOverlay(base catalog.Catalog) *overlayCatalog {
	return &overlayCatalog{Catalog: base, tables: map[string]*catalog.Table{}}
}

func (o *overlayCatalog) addTable(t *catalog.Table) {
	o.tables[t.Name] = t
}

// LookupTable implements catalog.Catalog.
func (o *overlayCatalog) LookupTable(name string) (*catalog.Table, bool) {
	if t, ok := o.tables[name]; ok {
		return t, true
	}

	return o.Catalog.LookupTable(name)
}

// ExpandRowType implements catalog.Catalog.
func (o *overlayCatalog) ExpandRowType(name string) (*plcheck.Type, bool) {
	if t, ok := o.tables[name]; ok {
		return t.RowType(), true
	}

	return o.Catalog.ExpandRowType(name)
}
