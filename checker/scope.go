// Package checker implements the static analysis core: the scope-aware
// symbol table, the expression type checker, the statement walker with its
// reachability analysis, the pragma controller and the check entry points.
package checker

import (
	"github.com/plcheck/plcheck"
)

// VarKind tags what a scope entry stands for.
type VarKind int

// Scope entry kinds.
const (
	VarNormal VarKind = iota
	VarParam
	VarLoop   // loop control variable; exempt from unused warnings
	VarPseudo // FOUND, NEW/OLD, TG_* and friends; exempt from unused warnings
)

// Variable is one scope entry with its usage bits. Usage bits are mutated
// during the walk; everything else is fixed at declaration.
type Variable struct {
	Name     string
	Kind     VarKind
	Mode     plcheck.ParamMode // parameters only
	Type     *plcheck.Type
	DeclLine int
	Constant bool
	NotNull  bool

	// Cursor declarations. Bound marks a cursor declared with a query.
	// CursorRow caches the result row of the bound (or last opened) query
	// for FETCH and FOR-over-cursor targets.
	IsCursor     bool
	Bound        bool
	CursorQuery  *plcheck.SQLText
	CursorParams []*plcheck.CursorParam
	CursorRow    *plcheck.Type

	Read    bool
	Written bool
}

func (v *Variable) markRead()    { v.Read = true }
func (v *Variable) markWritten() { v.Written = true }

// frame is one lexical scope: a block, loop body or handler body.
type frame struct {
	vars    map[string]*Variable
	label   string
	isLoop  bool
	handler bool
}

// scope is the frame stack plus the flat declaration-order list used by the
// end-of-check unused-variable pass. Frames pop; the flat list survives.
type scope struct {
	frames []*frame
	all    []*Variable
}

func newScope() *scope {
	return &scope{frames: []*frame{{vars: map[string]*Variable{}}}}
}

func (s *scope) push(label string, isLoop, handler bool) {
	s.frames = append(s.frames, &frame{
		vars:    map[string]*Variable{},
		label:   label,
		isLoop:  isLoop,
		handler: handler,
	})
}

func (s *scope) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

// declare adds a variable to the innermost frame. It returns the entry this
// declaration shadows in an enclosing frame (nil if none) and whether the
// name is a duplicate within the same frame.
func (s *scope) declare(v *Variable) (shadowed *Variable, duplicate bool) {
	top := s.frames[len(s.frames)-1]

	if _, ok := top.vars[v.Name]; ok {
		return nil, true
	}

	for i := len(s.frames) - 2; i >= 0; i-- {
		if prev, ok := s.frames[i].vars[v.Name]; ok {
			shadowed = prev

			break
		}
	}

	top.vars[v.Name] = v
	s.all = append(s.all, v)

	return shadowed, false
}

// resolve finds a bare name, innermost frame first.
func (s *scope) resolve(name string) (*Variable, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i].vars[name]; ok {
			return v, true
		}
	}

	return nil, false
}

// resolveIn finds a name inside the frame carrying the given block label,
// the label.variable qualified form.
func (s *scope) resolveIn(label, name string) (*Variable, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].label != label {
			continue
		}

		v, ok := s.frames[i].vars[name]

		return v, ok
	}

	return nil, false
}

// inHandler reports whether the walk is inside an exception handler body;
// SQLSTATE and SQLERRM are visible only there.
func (s *scope) inHandler() bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].handler {
			return true
		}
	}

	return false
}

// loopLabel classifies an EXIT/CONTINUE label against the frame stack.
type loopLabel int

const (
	labelNotFound loopLabel = iota
	labelIsLoop
	labelIsBlock
)

// findLabel reports what the label names: a loop, a plain block, or nothing.
func (s *scope) findLabel(label string) loopLabel {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].label != label {
			continue
		}

		if s.frames[i].isLoop {
			return labelIsLoop
		}

		return labelIsBlock
	}

	return labelNotFound
}

// inLoop reports whether any enclosing frame is a loop body.
func (s *scope) inLoop() bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].isLoop {
			return true
		}
	}

	return false
}
