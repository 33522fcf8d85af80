package plcheck

import "strings"

// RoutineKind distinguishes the checked routine flavors.
type RoutineKind int

// Routine kinds.
const (
	KindFunction RoutineKind = iota
	KindProcedure
	KindRowTrigger
	KindStatementTrigger
	KindEventTrigger
)

func (k RoutineKind) String() string {
	switch k {
	case KindProcedure:
		return "procedure"
	case KindRowTrigger:
		return "row trigger"
	case KindStatementTrigger:
		return "statement trigger"
	case KindEventTrigger:
		return "event trigger"
	default:
		return "function"
	}
}

// ParamMode is a routine parameter's direction.
type ParamMode int

// Parameter modes.
const (
	ModeIn ParamMode = iota
	ModeOut
	ModeInOut
	ModeVariadic
)

func (m ParamMode) String() string {
	switch m {
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	case ModeVariadic:
		return "VARIADIC"
	default:
		return "IN"
	}
}

// RoutineParam is one declared parameter.
type RoutineParam struct {
	Name       string
	Mode       ParamMode
	Type       *TypeRef
	HasDefault bool
}

// ReturnKind tags the declared return shape.
type ReturnKind int

// Return shapes.
const (
	ReturnsVoid ReturnKind = iota
	ReturnsScalar
	ReturnsSetOf
	ReturnsTable
	ReturnsTrigger
)

// ReturnShape is the declared result of a routine.
type ReturnShape struct {
	Kind ReturnKind
	Type *TypeRef       // scalar and setof
	Cols []*RoutineParam // RETURNS TABLE (...) columns
}

// IsSet reports whether the routine returns a row set.
func (r *ReturnShape) IsSet() bool {
	return r != nil && (r.Kind == ReturnsSetOf || r.Kind == ReturnsTable)
}

// Routine is a compiled routine: identity, declared signature and the
// immutable statement tree. One Routine may be checked concurrently by any
// number of invocations; nothing in it is mutated after Parse returns.
type Routine struct {
	Name    string
	Kind    RoutineKind
	Params  []*RoutineParam
	Returns *ReturnShape
	Body    *Block

	// Source is the full original text; diagnostics slice it for query
	// context lines.
	Source string

	// NumStmts is the number of statement ids assigned, ids 1..NumStmts.
	NumStmts int
}

// Signature renders "name(in-types)" for reports and dependency listings.
func (r *Routine) Signature() string {
	parts := make([]string, 0, len(r.Params))

	for _, p := range r.Params {
		if p.Mode == ModeOut {
			continue
		}

		parts = append(parts, p.Type.String())
	}

	return r.Name + "(" + strings.Join(parts, ", ") + ")"
}

// IsTrigger reports whether the routine is any trigger flavor.
func (r *Routine) IsTrigger() bool {
	return r.Kind == KindRowTrigger || r.Kind == KindStatementTrigger || r.Kind == KindEventTrigger
}
