// Package sqlscan inspects embedded SQL statements without fully parsing
// them. The checker captures SQL as raw text; this package tokenizes it with
// the shared lexer and recovers the pieces static analysis needs: statement
// kind, referenced relations, the output column list and identifier
// references. Everything is best effort: SQL this package cannot make sense
// of degrades to "no information", never to a false diagnostic.
package sqlscan

import (
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
)

// Kind classifies a scanned statement.
type Kind int

// Statement kinds.
const (
	KindOther Kind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	default:
		return "SQL"
	}
}

// TableRef is a relation named in FROM, JOIN, INSERT INTO, UPDATE or
// DELETE FROM.
type TableRef struct {
	Name  string // possibly schema-qualified
	Alias string
	Pos   lexer.Position
}

// Column is one output column of the select (or RETURNING) list.
type Column struct {
	Name string // derived name; empty when underivable
	Star bool   // the item was * or rel.*
	Pos  lexer.Position
}

// Ref is a candidate identifier reference inside the statement: a possible
// column, or a routine variable interpolated into the query.
type Ref struct {
	Parts []string
	Pos   lexer.Position
}

// Stmt is the scan result.
type Stmt struct {
	Kind     Kind
	Tables   []TableRef
	Columns  []Column
	Refs     []Ref
	MaxParam int
}

// HasStar reports whether the output list contains a * item.
func (s *Stmt) HasStar() bool {
	for _, c := range s.Columns {
		if c.Star {
			return true
		}
	}

	return false
}

// Scan tokenizes and inspects one SQL statement.
func Scan(sql string) (*Stmt, error) {
	lx, err := plcheck.Lexer().(lexer.StringDefinition).LexString("", sql)
	if err != nil {
		return nil, err
	}

	var toks []lexer.Token

	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}

		if tok.Type == plcheck.TokenWhitespace || tok.Type == plcheck.TokenComment {
			continue
		}

		toks = append(toks, tok)

		if tok.EOF() {
			break
		}
	}

	s := &scanner{toks: toks}

	return s.scan(), nil
}

type scanner struct {
	toks []lexer.Token
	stmt Stmt
}

//nolint:cyclop // single dispatch loop over the token stream
func (s *scanner) scan() *Stmt {
	depth := 0
	selectDepth := -1

	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]

		switch t.Type {
		case plcheck.TokenLParen:
			depth++

			continue
		case plcheck.TokenRParen:
			depth--

			continue
		case plcheck.TokenParam:
			s.noteParam(t)

			continue
		}

		if t.Type == plcheck.TokenKeyword {
			switch t.Value {
			case "SELECT":
				if depth == 0 && s.stmt.Kind == KindOther {
					s.stmt.Kind = KindSelect
				}

				if selectDepth < 0 {
					selectDepth = depth
					i = s.scanSelectList(i + 1)

					continue
				}
			case "INSERT":
				if depth == 0 {
					s.stmt.Kind = KindInsert
					i = s.scanTableAfter(i+1, "INTO")

					continue
				}
			case "UPDATE":
				if depth == 0 && s.stmt.Kind == KindOther {
					s.stmt.Kind = KindUpdate
					i = s.scanTable(i + 1)

					continue
				}
			case "DELETE":
				if depth == 0 && s.stmt.Kind == KindOther {
					s.stmt.Kind = KindDelete
					i = s.scanTableAfter(i+1, "FROM")

					continue
				}
			case "FROM":
				i = s.scanTable(i + 1)
			}

			continue
		}

		if isIdentTok(t) {
			i = s.scanRef(i)
		}
	}

	return &s.stmt
}

func isIdentTok(t lexer.Token) bool {
	return t.Type == plcheck.TokenIdent || t.Type == plcheck.TokenQuotedIdent
}

func (s *scanner) noteParam(t lexer.Token) {
	n := 0
	for _, r := range t.Value {
		n = n*10 + int(r-'0')
	}

	if n > s.stmt.MaxParam {
		s.stmt.MaxParam = n
	}
}

// scanSelectList walks the output list starting at i, recording one Column
// per top-level comma-separated item. Returns the index of the terminating
// token minus one (the caller's loop increments past it).
//
//nolint:cyclop // item-shape analysis is a flat series of cases
func (s *scanner) scanSelectList(i int) int {
	depth := 0

	var item []lexer.Token

	flush := func() {
		col, ok := classifyItem(item)
		if ok {
			s.stmt.Columns = append(s.stmt.Columns, col)
		}

		// Ident chains in the output list double as candidate variable
		// references.
		if ok && !col.Star && identChainOnly(item) {
			parts := make([]string, 0, (len(item)+1)/2)
			for j := 0; j < len(item); j += 2 {
				parts = append(parts, item[j].Value)
			}

			s.stmt.Refs = append(s.stmt.Refs, Ref{Parts: parts, Pos: item[0].Pos})
		}

		item = nil
	}

	for ; i < len(s.toks); i++ {
		t := s.toks[i]

		if t.EOF() {
			flush()

			return i - 1
		}

		switch t.Type {
		case plcheck.TokenLParen:
			depth++
		case plcheck.TokenRParen:
			if depth == 0 {
				flush()

				return i - 1
			}

			depth--
		case plcheck.TokenComma:
			if depth == 0 {
				flush()

				continue
			}
		case plcheck.TokenKeyword:
			if depth == 0 && isSelectListStop(t.Value) {
				flush()

				return i - 1
			}
		case plcheck.TokenParam:
			s.noteParam(t)
		}

		item = append(item, t)
	}

	flush()

	return i - 1
}

func isSelectListStop(kw string) bool {
	switch kw {
	case "FROM", "INTO", "WHERE", "LOOP":
		return true
	default:
		return false
	}
}

// classifyItem derives the output name of one select-list item.
func classifyItem(item []lexer.Token) (Column, bool) {
	if len(item) == 0 {
		return Column{}, false
	}

	pos := item[0].Pos
	last := item[len(item)-1]

	// trailing alias: ... AS name, or expr name
	if len(item) >= 2 && isIdentTok(last) {
		prev := item[len(item)-2]
		if prev.Type == plcheck.TokenKeyword && prev.Value == "AS" {
			return Column{Name: last.Value, Pos: pos}, true
		}
	}

	// * or rel.*
	if last.Type == plcheck.TokenOp && last.Value == "*" {
		return Column{Star: true, Pos: pos}, true
	}

	// plain, possibly qualified identifier
	if isIdentTok(last) && identChainOnly(item) {
		return Column{Name: last.Value, Pos: pos}, true
	}

	// function call: named after the function
	if isIdentTok(item[0]) && len(item) >= 2 && item[1].Type == plcheck.TokenLParen {
		return Column{Name: item[0].Value, Pos: pos}, true
	}

	return Column{Pos: pos}, true
}

func identChainOnly(item []lexer.Token) bool {
	for i, t := range item {
		if i%2 == 0 {
			if !isIdentTok(t) {
				return false
			}
		} else if t.Type != plcheck.TokenDot {
			return false
		}
	}

	return len(item)%2 == 1
}

// scanTableAfter skips to the given keyword and reads a table reference.
func (s *scanner) scanTableAfter(i int, kw string) int {
	for ; i < len(s.toks); i++ {
		t := s.toks[i]
		if t.EOF() {
			return i - 1
		}

		if t.Type == plcheck.TokenKeyword && t.Value == kw {
			return s.scanTable(i + 1)
		}

		if isIdentTok(t) || t.Type == plcheck.TokenKeyword {
			// something unexpected; give up on the table
			return i - 1
		}
	}

	return i - 1
}

// scanTable reads one qualified relation name plus optional alias at i.
func (s *scanner) scanTable(i int) int {
	if i >= len(s.toks) || !isIdentTok(s.toks[i]) {
		return i - 1
	}

	ref := TableRef{Name: s.toks[i].Value, Pos: s.toks[i].Pos}

	for i+2 < len(s.toks) && s.toks[i+1].Type == plcheck.TokenDot && isIdentTok(s.toks[i+2]) {
		ref.Name += "." + s.toks[i+2].Value
		i += 2
	}

	// alias: [AS] ident
	j := i + 1
	if j < len(s.toks) && s.toks[j].Type == plcheck.TokenKeyword && s.toks[j].Value == "AS" {
		j++
	}

	if j < len(s.toks) && isIdentTok(s.toks[j]) {
		ref.Alias = s.toks[j].Value
		i = j
	}

	s.stmt.Tables = append(s.stmt.Tables, ref)

	return i
}

// scanRef records one qualified identifier chain unless it is a function
// call head.
func (s *scanner) scanRef(i int) int {
	start := i
	parts := []string{s.toks[i].Value}

	for i+2 < len(s.toks) && s.toks[i+1].Type == plcheck.TokenDot && isIdentTok(s.toks[i+2]) {
		parts = append(parts, s.toks[i+2].Value)
		i += 2
	}

	if i+1 < len(s.toks) && s.toks[i+1].Type == plcheck.TokenLParen {
		return i
	}

	s.stmt.Refs = append(s.stmt.Refs, Ref{Parts: parts, Pos: s.toks[start].Pos})

	return i
}

// ResultType derives the row type of the statement's output list against a
// catalog. Underivable columns get Unknown field types; a statement with no
// output list yields a record placeholder.
func (s *Stmt) ResultType(cat catalog.Catalog) *plcheck.Type {
	if len(s.Columns) == 0 {
		return plcheck.RecordType()
	}

	var fields []plcheck.RowField

	for _, col := range s.Columns {
		if col.Star {
			fields = append(fields, s.expandStar(cat)...)

			continue
		}

		fields = append(fields, plcheck.RowField{
			Name: col.Name,
			Type: s.columnType(cat, col.Name),
		})
	}

	return plcheck.Row("", fields)
}

func (s *Stmt) expandStar(cat catalog.Catalog) []plcheck.RowField {
	var fields []plcheck.RowField

	for _, tr := range s.Tables {
		table, ok := cat.LookupTable(tr.Name)
		if !ok {
			return []plcheck.RowField{{Name: "", Type: plcheck.Unknown}}
		}

		for _, c := range table.Columns {
			fields = append(fields, plcheck.RowField{Name: c.Name, Type: c.Type})
		}
	}

	if len(fields) == 0 {
		return []plcheck.RowField{{Name: "", Type: plcheck.Unknown}}
	}

	return fields
}

// columnType resolves a derived column name against the referenced tables.
func (s *Stmt) columnType(cat catalog.Catalog, name string) *plcheck.Type {
	if name == "" {
		return plcheck.Unknown
	}

	for _, tr := range s.Tables {
		table, ok := cat.LookupTable(tr.Name)
		if !ok {
			continue
		}

		if col := table.Column(name); col != nil {
			return col.Type
		}
	}

	return plcheck.Unknown
}
