package catalog

import (
	"strings"

	"github.com/plcheck/plcheck"
)

// Memory is a Catalog backed by maps. The zero value is not usable; NewMemory
// seeds the built-in types, operators and functions. All methods are safe for
// concurrent readers once loading is finished.
type Memory struct {
	types     map[string]*plcheck.Type
	tables    map[string]*Table
	functions map[string][]*Function
	rowTypes  map[string]*plcheck.Type
}

// NewMemory builds a catalog with the built-in type and function surface
// and no user relations.
func NewMemory() *Memory {
	m := &Memory{
		types:     make(map[string]*plcheck.Type),
		tables:    make(map[string]*Table),
		functions: make(map[string][]*Function),
		rowTypes:  make(map[string]*plcheck.Type),
	}

	m.seedTypes()
	m.seedFunctions()

	return m
}

// AddTable registers a relation and its row type.
func (m *Memory) AddTable(t *Table) {
	key := t.Name
	if t.Schema != "" {
		m.tables[t.Schema+"."+t.Name] = t
	}

	m.tables[key] = t
	m.rowTypes[key] = t.RowType()
}

// AddFunction registers one routine signature. Multiple signatures may share
// a name.
func (m *Memory) AddFunction(f *Function) {
	m.functions[f.Name] = append(m.functions[f.Name], f)
}

// AddCompositeType registers a named composite type usable as a variable
// type and via %ROWTYPE.
func (m *Memory) AddCompositeType(name string, fields []plcheck.RowField) {
	row := plcheck.Row(name, fields)
	m.types[name] = row
	m.rowTypes[name] = row
}

// LookupType implements Catalog.
func (m *Memory) LookupType(name string) (*plcheck.Type, bool) {
	name = strings.ToLower(name)
	if canon, ok := typeAliases[name]; ok {
		name = canon
	}

	_, rest := splitQualified(name)
	if t, ok := m.types[name]; ok {
		return t, true
	}

	t, ok := m.types[rest]

	return t, ok
}

// LookupTable implements Catalog.
func (m *Memory) LookupTable(name string) (*Table, bool) {
	if t, ok := m.tables[name]; ok {
		return t, true
	}

	_, rest := splitQualified(name)
	t, ok := m.tables[rest]

	return t, ok
}

// LookupRoutine implements Catalog.
func (m *Memory) LookupRoutine(name string, nargs int) (*Function, bool) {
	_, rest := splitQualified(name)

	for _, f := range m.functions[rest] {
		if f.AcceptsArgCount(nargs) {
			return f, true
		}
	}

	return nil, false
}

// HasRoutine reports whether any signature with the name exists, regardless
// of arity. Used to distinguish "no such function" from a bad call.
func (m *Memory) HasRoutine(name string) bool {
	_, rest := splitQualified(name)

	return len(m.functions[rest]) > 0
}

// ExpandRowType implements Catalog.
func (m *Memory) ExpandRowType(name string) (*plcheck.Type, bool) {
	if t, ok := m.rowTypes[name]; ok {
		return t, true
	}

	_, rest := splitQualified(name)
	t, ok := m.rowTypes[rest]

	return t, ok
}

// typeCategory groups types for coercion and operator resolution.
type typeCategory int

const (
	catOther typeCategory = iota
	catNumeric
	catString
	catDatetime
	catBoolean
	catJSON
)

// numericRank orders the numeric family for widening. Higher absorbs lower.
var numericRank = map[string]int{
	"smallint": 1, "integer": 2, "bigint": 3,
	"numeric": 4, "real": 5, "double precision": 6,
}

var categories = map[string]typeCategory{
	"smallint": catNumeric, "integer": catNumeric, "bigint": catNumeric,
	"numeric": catNumeric, "real": catNumeric, "double precision": catNumeric,
	"money": catNumeric, "oid": catNumeric,

	"text": catString, "varchar": catString, "char": catString,
	"name": catString, "bpchar": catString,

	"date": catDatetime, "timestamp": catDatetime, "timestamptz": catDatetime,
	"time": catDatetime, "timetz": catDatetime, "interval": catDatetime,

	"boolean": catBoolean,

	"json": catJSON, "jsonb": catJSON,
}

func categoryOf(t *plcheck.Type) typeCategory {
	if t == nil || t.Kind != plcheck.KindConcrete {
		return catOther
	}

	return categories[t.Name]
}

// CanCoerce implements Catalog.
func (m *Memory) CanCoerce(from, to *plcheck.Type) bool {
	if from.IsUnknown() || to.IsUnknown() {
		return true
	}

	if from.Kind == plcheck.KindPoly || to.Kind == plcheck.KindPoly {
		return true
	}

	// record absorbs any row and vice versa; field lists are checked at
	// assignment sites, not here.
	if from.Kind == plcheck.KindRecord || to.Kind == plcheck.KindRecord {
		return from.IsRowLike() && to.IsRowLike()
	}

	if from.Kind == plcheck.KindRow || to.Kind == plcheck.KindRow {
		return from.Kind == to.Kind
	}

	if from.Array != to.Array {
		return false
	}

	if from.Name == to.Name {
		return true
	}

	cf, ct := categoryOf(from), categoryOf(to)
	if cf == ct && cf != catOther {
		return true
	}

	// anything casts to text by assignment
	if ct == catString {
		return true
	}

	// string literals are often the source of dates, uuids, intervals
	if cf == catString && (ct == catDatetime || ct == catJSON || to.Name == "uuid") {
		return true
	}

	return false
}

// comparison operators always produce boolean.
var comparisonOps = map[string]struct{}{
	"=": {}, "<>": {}, "!=": {}, "<": {}, "<=": {}, ">": {}, ">=": {},
	"LIKE": {}, "ILIKE": {},
}

var arithmeticOps = map[string]struct{}{
	"+": {}, "-": {}, "*": {}, "/": {}, "%": {}, "^": {},
}

// ResolveOperator implements Catalog.
//
//nolint:cyclop // one arm per operator family
func (m *Memory) ResolveOperator(op string, l, r *plcheck.Type) (*plcheck.Type, bool) {
	if l.IsUnknown() || r.IsUnknown() {
		return plcheck.Unknown, true
	}

	boolean := m.types["boolean"]

	switch op {
	case "AND", "OR":
		if m.CanCoerce(l, boolean) && m.CanCoerce(r, boolean) {
			return boolean, true
		}

		return nil, false
	case "||":
		// string or array concatenation
		if l.Array || r.Array {
			if l.Array {
				return l, true
			}

			return r, true
		}

		if categoryOf(l) == catJSON && categoryOf(r) == catJSON {
			return l, true
		}

		if categoryOf(l) == catString || categoryOf(r) == catString {
			return m.types["text"], true
		}

		return nil, false
	}

	if _, ok := comparisonOps[op]; ok {
		if m.CanCoerce(l, r) || m.CanCoerce(r, l) {
			return boolean, true
		}

		return nil, false
	}

	if _, ok := arithmeticOps[op]; ok {
		return m.resolveArithmetic(op, l, r)
	}

	// Unmodeled operators (geometric, range, user-defined) type as Unknown
	// rather than failing the expression.
	return plcheck.Unknown, true
}

func (m *Memory) resolveArithmetic(op string, l, r *plcheck.Type) (*plcheck.Type, bool) {
	lc, rc := categoryOf(l), categoryOf(r)

	if lc == catNumeric && rc == catNumeric {
		if numericRank[r.Name] > numericRank[l.Name] {
			return r, true
		}

		return l, true
	}

	// date/time arithmetic: date + int, timestamp - interval, ...
	if lc == catDatetime || rc == catDatetime {
		if op == "+" || op == "-" {
			if lc == catDatetime {
				return l, true
			}

			return r, true
		}

		return nil, false
	}

	return nil, false
}
