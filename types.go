package plcheck

import "strings"

// TypeKind tags a Type descriptor.
type TypeKind int

// Type descriptor kinds. Unknown is an absorbing value: any operation over
// an Unknown operand yields Unknown and never a hard type error. That is a
// design requirement of the checked language, whose real type resolution
// happens at execution time.
const (
	KindUnknown TypeKind = iota
	KindConcrete
	KindRecord // record placeholder: shape not yet known
	KindRow    // composite with named, ordered fields
	KindPoly   // polymorphic slot (anyelement, anyarray, ...)
)

// RowField is one field of a row type.
type RowField struct {
	Name string
	Type *Type
}

// Type is the checker's type descriptor. Values are immutable once built;
// the checker shares them freely across scopes.
type Type struct {
	Kind   TypeKind
	Name   string     // concrete: catalog type name; row: composite/relation name
	Fields []RowField // row types only
	Slot   string     // polymorphic slot name
	Array  bool       // array of the described element
}

// Unknown is the shared absorbing descriptor.
var Unknown = &Type{Kind: KindUnknown}

// RecordType returns a fresh record placeholder.
func RecordType() *Type { return &Type{Kind: KindRecord, Name: "record"} }

// Concrete returns a concrete scalar descriptor.
func Concrete(name string) *Type { return &Type{Kind: KindConcrete, Name: name} }

// ConcreteArray returns a concrete array descriptor.
func ConcreteArray(name string) *Type { return &Type{Kind: KindConcrete, Name: name, Array: true} }

// Row returns a row descriptor with the given composite name and fields.
func Row(name string, fields []RowField) *Type {
	return &Type{Kind: KindRow, Name: name, Fields: fields}
}

// Poly returns a polymorphic slot descriptor.
func Poly(slot string) *Type { return &Type{Kind: KindPoly, Slot: slot} }

// IsUnknown reports whether t carries no type information. A nil descriptor
// counts as unknown so lookups can be chained without nil checks.
func (t *Type) IsUnknown() bool { return t == nil || t.Kind == KindUnknown }

// IsRowLike reports whether t has (or will have) named fields.
func (t *Type) IsRowLike() bool {
	return t != nil && (t.Kind == KindRow || t.Kind == KindRecord)
}

// Field returns the named field of a row type.
func (t *Type) Field(name string) (*Type, bool) {
	if t == nil || t.Kind != KindRow {
		return nil, false
	}

	for _, f := range t.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}

	return nil, false
}

// Elem returns the element descriptor of an array type.
func (t *Type) Elem() *Type {
	if t == nil || !t.Array {
		return Unknown
	}

	e := *t
	e.Array = false

	return &e
}

func (t *Type) String() string {
	if t == nil {
		return "unknown"
	}

	var s string

	switch t.Kind {
	case KindUnknown:
		s = "unknown"
	case KindConcrete:
		s = t.Name
	case KindRecord:
		s = "record"
	case KindRow:
		if t.Name != "" {
			s = t.Name
		} else {
			parts := make([]string, len(t.Fields))
			for i, f := range t.Fields {
				parts[i] = f.Name + " " + f.Type.String()
			}

			s = "(" + strings.Join(parts, ", ") + ")"
		}
	case KindPoly:
		s = t.Slot
	}

	if t.Array {
		s += "[]"
	}

	return s
}
