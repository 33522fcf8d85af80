package checker

import (
	"strings"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
	"github.com/plcheck/plcheck/sqlscan"
)

// DepKind classifies one dependency of a routine.
type DepKind int

// Dependency kinds.
const (
	DepRelation DepKind = iota
	DepFunction
	DepType
)

func (k DepKind) String() string {
	switch k {
	case DepFunction:
		return "FUNCTION"
	case DepType:
		return "TYPE"
	default:
		return "RELATION"
	}
}

// Dependency is one database object a routine references.
type Dependency struct {
	Kind DepKind
	Name string
}

// Dependencies lists the relations, functions and types a routine touches,
// in first-reference order with duplicates removed. Only names the catalog
// knows are reported; pragma-declared ephemeral tables are not.
func Dependencies(r *plcheck.Routine, cat catalog.Catalog) []Dependency {
	d := &depCollector{cat: cat, seen: map[Dependency]bool{}}

	for _, p := range r.Params {
		d.noteTypeRef(p.Type)
	}

	if r.Returns != nil {
		d.noteTypeRef(r.Returns.Type)

		for _, col := range r.Returns.Cols {
			d.noteTypeRef(col.Type)
		}
	}

	plcheck.WalkStmts([]plcheck.Stmt{r.Body}, func(s plcheck.Stmt) bool {
		d.noteStmt(s)

		return true
	})

	return d.deps
}

type depCollector struct {
	cat  catalog.Catalog
	deps []Dependency
	seen map[Dependency]bool
}

func (d *depCollector) add(kind DepKind, name string) {
	dep := Dependency{Kind: kind, Name: name}
	if d.seen[dep] {
		return
	}

	d.seen[dep] = true
	d.deps = append(d.deps, dep)
}

func (d *depCollector) noteStmt(s plcheck.Stmt) {
	if b, ok := s.(*plcheck.Block); ok {
		for _, decl := range b.Decls {
			d.noteTypeRef(decl.Type)
			d.noteExpr(decl.Default)
			d.noteSQL(decl.CursorQuery)

			for _, p := range decl.CursorParams {
				d.noteTypeRef(p.Type)
			}
		}
	}

	for _, sql := range stmtSQLTexts(s) {
		d.noteSQL(sql)
	}

	for _, e := range stmtExprs(s) {
		d.noteExpr(e)
	}
}

func (d *depCollector) noteSQL(sql *plcheck.SQLText) {
	if sql == nil {
		return
	}

	scanned, err := sqlscan.Scan(sql.Text)
	if err != nil {
		return
	}

	for _, tr := range scanned.Tables {
		if _, ok := d.cat.LookupTable(tr.Name); ok {
			d.add(DepRelation, tr.Name)
		}
	}
}

func (d *depCollector) noteExpr(e plcheck.Expr) {
	plcheck.WalkExpr(e, func(x plcheck.Expr) {
		switch n := x.(type) {
		case *plcheck.CallExpr:
			name := strings.Join(n.Name, ".")

			nargs := len(n.Args)
			if n.Star {
				nargs = 1
			}

			if _, ok := d.cat.LookupRoutine(name, nargs); ok {
				d.add(DepFunction, name)
			}
		case *plcheck.CastExpr:
			d.noteTypeRef(n.Type)
		case *plcheck.SubqueryExpr:
			d.noteSQL(n.SQL)
		}
	})
}

func (d *depCollector) noteTypeRef(tr *plcheck.TypeRef) {
	if tr == nil {
		return
	}

	if tr.RowType {
		if _, ok := d.cat.LookupTable(tr.Name); ok {
			d.add(DepRelation, tr.Name)
		}

		return
	}

	if tr.TypeOf {
		return
	}

	if t, ok := d.cat.LookupType(tr.Name); ok && t.Kind == plcheck.KindConcrete {
		d.add(DepType, t.Name)
	}
}

// stmtSQLTexts returns the embedded SQL fragments a statement carries
// directly (not those inside nested statements).
func stmtSQLTexts(s plcheck.Stmt) []*plcheck.SQLText {
	switch st := s.(type) {
	case *plcheck.StmtSQL:
		return []*plcheck.SQLText{st.SQL}
	case *plcheck.StmtPerform:
		if st.Expr == nil {
			return []*plcheck.SQLText{st.SQL}
		}
	case *plcheck.StmtForQuery:
		return []*plcheck.SQLText{st.Query}
	case *plcheck.StmtReturnQuery:
		return []*plcheck.SQLText{st.Query}
	case *plcheck.StmtOpen:
		return []*plcheck.SQLText{st.Query}
	}

	return nil
}

// stmtExprs returns the expressions a statement carries directly.
//
//nolint:cyclop // flat enumeration over the statement kinds
func stmtExprs(s plcheck.Stmt) []plcheck.Expr {
	switch st := s.(type) {
	case *plcheck.StmtAssign:
		return append([]plcheck.Expr{st.Value}, st.Target.Subscripts...)
	case *plcheck.StmtIf:
		exprs := []plcheck.Expr{st.Cond}
		for _, e := range st.Elsifs {
			exprs = append(exprs, e.Cond)
		}

		return exprs
	case *plcheck.StmtCase:
		exprs := []plcheck.Expr{st.Operand}
		for _, w := range st.Whens {
			exprs = append(exprs, w.Cond)
			exprs = append(exprs, w.Exprs...)
		}

		return exprs
	case *plcheck.StmtWhile:
		return []plcheck.Expr{st.Cond}
	case *plcheck.StmtForI:
		return []plcheck.Expr{st.Lower, st.Upper, st.Step}
	case *plcheck.StmtForQuery:
		return append([]plcheck.Expr{st.Dynamic}, st.Using...)
	case *plcheck.StmtForCursor:
		return st.Args
	case *plcheck.StmtForeach:
		return []plcheck.Expr{st.Array}
	case *plcheck.StmtExit:
		return []plcheck.Expr{st.When}
	case *plcheck.StmtReturn:
		return []plcheck.Expr{st.Value}
	case *plcheck.StmtReturnNext:
		return []plcheck.Expr{st.Value}
	case *plcheck.StmtReturnQuery:
		return append([]plcheck.Expr{st.Dynamic}, st.Using...)
	case *plcheck.StmtRaise:
		exprs := append([]plcheck.Expr{}, st.Params...)
		for _, opt := range st.Options {
			exprs = append(exprs, opt.Value)
		}

		return exprs
	case *plcheck.StmtAssert:
		return []plcheck.Expr{st.Cond, st.Message}
	case *plcheck.StmtPerform:
		return []plcheck.Expr{st.Expr}
	case *plcheck.StmtExecute:
		return append([]plcheck.Expr{st.Query}, st.Using...)
	case *plcheck.StmtOpen:
		return append(append([]plcheck.Expr{st.Dynamic}, st.Args...), st.Using...)
	case *plcheck.StmtFetch:
		return []plcheck.Expr{st.Count}
	case *plcheck.StmtCall:
		return []plcheck.Expr{st.Call}
	default:
		return nil
	}
}
