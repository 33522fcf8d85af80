// Package catalog resolves types, relations and routines for the checker.
// The checker never talks to a live database; everything it may ask about is
// served from a Catalog, usually the in-memory implementation loaded from a
// schema file.
package catalog

import (
	"strings"

	"github.com/plcheck/plcheck"
)

// Column is one column of a relation or composite type.
type Column struct {
	Name    string
	Type    *plcheck.Type
	NotNull bool
}

// Table is a relation with an ordered column list.
type Table struct {
	Schema  string
	Name    string
	Columns []*Column
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// RowType builds the row type of the relation.
func (t *Table) RowType() *plcheck.Type {
	fields := make([]plcheck.RowField, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = plcheck.RowField{Name: c.Name, Type: c.Type}
	}

	return plcheck.Row(t.Name, fields)
}

// Function describes a callable routine signature. A nil argument type
// accepts anything.
type Function struct {
	Name     string
	Args     []*plcheck.Type
	Defaults int // number of trailing arguments with defaults
	Variadic bool
	Result   *plcheck.Type
	SetOf    bool
}

// AcceptsArgCount reports whether the signature can be called with n
// positional arguments.
func (f *Function) AcceptsArgCount(n int) bool {
	if f.Variadic {
		return n >= len(f.Args)-1
	}

	return n >= len(f.Args)-f.Defaults && n <= len(f.Args)
}

// Catalog answers the checker's questions about the surrounding schema.
type Catalog interface {
	// LookupType resolves a type name, honoring aliases (int, int4,
	// integer). The second result is false for unknown names.
	LookupType(name string) (*plcheck.Type, bool)

	// LookupTable resolves a possibly schema-qualified relation name.
	LookupTable(name string) (*Table, bool)

	// LookupRoutine finds a function callable with nargs arguments.
	LookupRoutine(name string, nargs int) (*Function, bool)

	// ResolveOperator types a binary operator application. Unknown
	// operands yield Unknown, true.
	ResolveOperator(op string, l, r *plcheck.Type) (*plcheck.Type, bool)

	// CanCoerce reports whether a value of type from is acceptable where
	// to is expected, by identity, implicit cast or assignment cast.
	CanCoerce(from, to *plcheck.Type) bool

	// ExpandRowType resolves name%ROWTYPE: a relation or composite type
	// name to its row type.
	ExpandRowType(name string) (*plcheck.Type, bool)
}

// splitQualified separates an optional schema qualifier from a name.
func splitQualified(name string) (schema, rest string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}

	return "", name
}
